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

// Package wire implements the BitTorrent v1 wire protocol codec: the fixed
// handshake and the length-prefixed peer message stream. The codec is pure —
// it never performs socket I/O itself, only reads from / writes to the
// io.Reader/io.Writer it is given.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/andresai/gobt/core"
)

// ProtocolName is the BitTorrent v1 protocol identifier sent in every handshake.
const ProtocolName = "BitTorrent protocol"

// HandshakeLen is the fixed length in bytes of a handshake message.
const HandshakeLen = 1 + len(ProtocolName) + 8 + 20 + 20

// ErrBadHandshake is returned when a peer's handshake fails to match the
// expected protocol identifier.
var ErrBadHandshake = errors.New("wire: malformed handshake")

// EncodeHandshake returns the 68-byte handshake for infoHash/peerID.
func EncodeHandshake(infoHash core.InfoHash, peerID core.PeerID) []byte {
	b := make([]byte, 0, HandshakeLen)
	b = append(b, byte(len(ProtocolName)))
	b = append(b, ProtocolName...)
	b = append(b, make([]byte, 8)...)
	b = append(b, infoHash.Bytes()...)
	b = append(b, peerID[:]...)
	return b
}

// WriteHandshake writes the handshake for infoHash/peerID to w.
func WriteHandshake(w io.Writer, infoHash core.InfoHash, peerID core.PeerID) error {
	_, err := w.Write(EncodeHandshake(infoHash, peerID))
	return err
}

// ReadHandshake reads and validates a handshake from r, returning the
// remote's advertised info_hash and peer_id. The first byte must be 19 and
// the protocol string must match ProtocolName exactly, per BEP3; any other
// value is ErrBadHandshake.
func ReadHandshake(r io.Reader) (infoHash core.InfoHash, peerID core.PeerID, err error) {
	b := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, b); err != nil {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf("read handshake: %w", err)
	}
	return DecodeHandshakeBytes(b)
}

// DecodeHandshakeBytes validates and parses an already-buffered HandshakeLen
// slice, e.g. one accumulated incrementally from a streaming socket.
func DecodeHandshakeBytes(b []byte) (infoHash core.InfoHash, peerID core.PeerID, err error) {
	if len(b) != HandshakeLen {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf("wire: handshake must be %d bytes, got %d", HandshakeLen, len(b))
	}
	if b[0] != byte(len(ProtocolName)) {
		return core.InfoHash{}, core.PeerID{}, ErrBadHandshake
	}
	if string(b[1:1+len(ProtocolName)]) != ProtocolName {
		return core.InfoHash{}, core.PeerID{}, ErrBadHandshake
	}
	offset := 1 + len(ProtocolName) + 8
	copy(infoHash[:], b[offset:offset+20])
	copy(peerID[:], b[offset+20:offset+40])
	return infoHash, peerID, nil
}
