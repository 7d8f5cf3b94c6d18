// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		desc string
		m    Message
	}{
		{"keep alive", KeepAlive{}},
		{"choke", Choke{}},
		{"unchoke", Unchoke{}},
		{"interested", Interested{}},
		{"not interested", NotInterested{}},
		{"have", Have{Index: 7}},
		{"bitfield", Bitfield{Bits: []byte{0xff, 0x80}}},
		{"request", Request{Index: 1, Begin: 2, Length: BlockSize}},
		{"piece", Piece{Index: 1, Begin: 0, Block: []byte("hello world")}},
		{"cancel", Cancel{Index: 1, Begin: 2, Length: BlockSize}},
		{"port", Port{Port: 6881}},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			require := require.New(t)
			var buf bytes.Buffer
			require.NoError(Write(&buf, test.m))
			decoded, err := Read(&buf)
			require.NoError(err)
			require.Equal(test.m, decoded)
		})
	}
}

func TestReadUnknownMessageID(t *testing.T) {
	require := require.New(t)
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1, 99})
	_, err := Read(&buf)
	require.Error(err)
	var unknown ErrUnknownMessageID
	require.ErrorAs(err, &unknown)
	require.Equal(byte(99), unknown.ID)
}

func TestReadRejectsOversizedMessage(t *testing.T) {
	require := require.New(t)
	var buf bytes.Buffer
	var lenBuf [4]byte
	tooBig := uint32(MaxMessageSize) + 1
	lenBuf[0] = byte(tooBig >> 24)
	lenBuf[1] = byte(tooBig >> 16)
	lenBuf[2] = byte(tooBig >> 8)
	lenBuf[3] = byte(tooBig)
	buf.Write(lenBuf[:])
	_, err := Read(&buf)
	require.Error(err)
}

func TestTryReadFramePartial(t *testing.T) {
	require := require.New(t)

	full := Encode(Have{Index: 3})
	m, consumed, err := TryReadFrame(full[:len(full)-1])
	require.NoError(err)
	require.Nil(m)
	require.Equal(0, consumed)

	m, consumed, err = TryReadFrame(full)
	require.NoError(err)
	require.Equal(Have{Index: 3}, m)
	require.Equal(len(full), consumed)
}

func TestTryReadFrameLeavesTrailingBytesUntouched(t *testing.T) {
	require := require.New(t)

	first := Encode(Unchoke{})
	second := Encode(Interested{})
	buf := append(append([]byte{}, first...), second...)

	m, consumed, err := TryReadFrame(buf)
	require.NoError(err)
	require.Equal(Unchoke{}, m)
	require.Equal(len(first), consumed)

	m, consumed, err = TryReadFrame(buf[consumed:])
	require.NoError(err)
	require.Equal(Interested{}, m)
	require.Equal(len(second), consumed)
}

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	var infoHash [20]byte
	copy(infoHash[:], []byte("01234567890123456789"))
	var peerID [20]byte
	copy(peerID[:], []byte("ABCDEFGHIJKLMNOPQRST"))

	var buf bytes.Buffer
	require.NoError(WriteHandshake(&buf, infoHash, peerID))
	require.Equal(HandshakeLen, buf.Len())

	gotHash, gotPeer, err := ReadHandshake(&buf)
	require.NoError(err)
	require.Equal(infoHash, [20]byte(gotHash))
	require.Equal(peerID, [20]byte(gotPeer))
}

func TestReadHandshakeRejectsBadProtocol(t *testing.T) {
	require := require.New(t)

	b := make([]byte, HandshakeLen)
	b[0] = 19
	copy(b[1:], "not the right proto!")
	_, _, err := ReadHandshake(bytes.NewReader(b))
	require.ErrorIs(err, ErrBadHandshake)
}
