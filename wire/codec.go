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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andresai/gobt/utils/memsize"
)

// MaxMessageSize bounds a single message's length prefix, guarding against a
// malicious or corrupt peer claiming an unbounded payload. A piece message
// carries at most BlockSize bytes of block data plus a small header.
const MaxMessageSize = BlockSize + 64*memsize.B

// ErrUnknownMessageID is returned when a peer sends a message id this codec
// does not recognize.
type ErrUnknownMessageID struct {
	ID byte
}

func (e ErrUnknownMessageID) Error() string {
	return fmt.Sprintf("wire: unknown message id %d", e.ID)
}

// Encode serializes m into the length-prefixed wire format.
func Encode(m Message) []byte {
	if _, ok := m.(KeepAlive); ok {
		return []byte{0, 0, 0, 0}
	}
	payload := encodePayload(m)
	b := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(b, uint32(1+len(payload)))
	b[4] = byte(m.id())
	copy(b[5:], payload)
	return b
}

// Write encodes m and writes it to w.
func Write(w io.Writer, m Message) error {
	_, err := w.Write(Encode(m))
	return err
}

func encodePayload(m Message) []byte {
	switch v := m.(type) {
	case Choke, Unchoke, Interested, NotInterested:
		return nil
	case Have:
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v.Index)
		return b
	case Bitfield:
		return v.Bits
	case Request:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], v.Index)
		binary.BigEndian.PutUint32(b[4:8], v.Begin)
		binary.BigEndian.PutUint32(b[8:12], v.Length)
		return b
	case Cancel:
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b[0:4], v.Index)
		binary.BigEndian.PutUint32(b[4:8], v.Begin)
		binary.BigEndian.PutUint32(b[8:12], v.Length)
		return b
	case Piece:
		b := make([]byte, 8+len(v.Block))
		binary.BigEndian.PutUint32(b[0:4], v.Index)
		binary.BigEndian.PutUint32(b[4:8], v.Begin)
		copy(b[8:], v.Block)
		return b
	case Port:
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, v.Port)
		return b
	default:
		panic(fmt.Sprintf("wire: unhandled message type %T", m))
	}
}

// Read reads and decodes a single message from r. A zero length prefix
// decodes to KeepAlive. An unrecognized message id returns ErrUnknownMessageID
// after the payload has been drained from r, leaving the stream aligned for
// the next message.
func Read(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive{}, nil
	}
	if uint64(length) > uint64(MaxMessageSize) {
		return nil, fmt.Errorf("wire: message length %d exceeds max %d", length, MaxMessageSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}
	return decode(messageID(payload[0]), payload[1:])
}

// TryReadFrame attempts to extract one complete length-prefixed message from
// the front of buf. If buf does not yet hold a full frame, it returns a nil
// message and consumed == 0 so the caller can leave the partial frame in
// place and wait for more bytes, per the streaming contract: a frame
// boundary may split across reads. An oversized length prefix or an
// unrecognized message id within a complete frame is still an error.
func TryReadFrame(buf []byte) (m Message, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, nil
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length == 0 {
		return KeepAlive{}, 4, nil
	}
	if uint64(length) > uint64(MaxMessageSize) {
		return nil, 0, fmt.Errorf("wire: message length %d exceeds max %d", length, MaxMessageSize)
	}
	if len(buf) < 4+int(length) {
		return nil, 0, nil
	}
	payload := buf[4 : 4+int(length)]
	m, err = decode(messageID(payload[0]), payload[1:])
	if err != nil {
		return nil, 4 + int(length), err
	}
	return m, 4 + int(length), nil
}

func decode(id messageID, payload []byte) (Message, error) {
	switch id {
	case idChoke:
		return Choke{}, nil
	case idUnchoke:
		return Unchoke{}, nil
	case idInterested:
		return Interested{}, nil
	case idNotInterested:
		return NotInterested{}, nil
	case idHave:
		if len(payload) != 4 {
			return nil, fmt.Errorf("wire: have payload wrong length %d", len(payload))
		}
		return Have{Index: binary.BigEndian.Uint32(payload)}, nil
	case idBitfield:
		bits := make([]byte, len(payload))
		copy(bits, payload)
		return Bitfield{Bits: bits}, nil
	case idRequest:
		if len(payload) != 12 {
			return nil, fmt.Errorf("wire: request payload wrong length %d", len(payload))
		}
		return Request{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case idPiece:
		if len(payload) < 8 {
			return nil, fmt.Errorf("wire: piece payload too short: %d", len(payload))
		}
		block := make([]byte, len(payload)-8)
		copy(block, payload[8:])
		return Piece{
			Index: binary.BigEndian.Uint32(payload[0:4]),
			Begin: binary.BigEndian.Uint32(payload[4:8]),
			Block: block,
		}, nil
	case idCancel:
		if len(payload) != 12 {
			return nil, fmt.Errorf("wire: cancel payload wrong length %d", len(payload))
		}
		return Cancel{
			Index:  binary.BigEndian.Uint32(payload[0:4]),
			Begin:  binary.BigEndian.Uint32(payload[4:8]),
			Length: binary.BigEndian.Uint32(payload[8:12]),
		}, nil
	case idPort:
		if len(payload) != 2 {
			return nil, fmt.Errorf("wire: port payload wrong length %d", len(payload))
		}
		return Port{Port: binary.BigEndian.Uint16(payload)}, nil
	default:
		return nil, ErrUnknownMessageID{ID: byte(id)}
	}
}
