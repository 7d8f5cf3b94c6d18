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

// BlockSize is the standard length of a single requested block.
const BlockSize = 1 << 14 // 16384

// messageID is the single byte following the length prefix of a non-keepalive message.
type messageID byte

const (
	idChoke messageID = iota
	idUnchoke
	idInterested
	idNotInterested
	idHave
	idBitfield
	idRequest
	idPiece
	idCancel
	idPort
)

// Message is implemented by every peer wire message kind. KeepAlive carries
// no id byte and is handled separately by the codec.
type Message interface {
	id() messageID
}

// KeepAlive is the zero-length-prefix message. It has no id and implements
// only a marker so callers can type-switch on it like any other Message.
type KeepAlive struct{}

func (KeepAlive) id() messageID { return 0 }

// Choke signals the sender is no longer willing to serve piece requests.
type Choke struct{}

func (Choke) id() messageID { return idChoke }

// Unchoke signals the sender is now willing to serve piece requests.
type Unchoke struct{}

func (Unchoke) id() messageID { return idUnchoke }

// Interested signals the sender wants to download from the peer.
type Interested struct{}

func (Interested) id() messageID { return idInterested }

// NotInterested signals the sender no longer wants to download from the peer.
type NotInterested struct{}

func (NotInterested) id() messageID { return idNotInterested }

// Have announces that the sender now holds piece Index.
type Have struct {
	Index uint32
}

func (Have) id() messageID { return idHave }

// Bitfield announces, as packed big-endian bits (MSB = piece 0), which
// pieces the sender holds. Sent at most once, immediately after the handshake.
type Bitfield struct {
	Bits []byte
}

func (Bitfield) id() messageID { return idBitfield }

// Request asks the peer for the byte range [Begin, Begin+Length) of piece Index.
type Request struct {
	Index, Begin, Length uint32
}

func (Request) id() messageID { return idRequest }

// Piece carries a block of piece Index starting at byte offset Begin.
type Piece struct {
	Index, Begin uint32
	Block        []byte
}

func (Piece) id() messageID { return idPiece }

// Cancel withdraws a previously sent Request.
type Cancel struct {
	Index, Begin, Length uint32
}

func (Cancel) id() messageID { return idCancel }

// Port announces the sender's DHT listen port. Recorded but otherwise unused
// (DHT is out of scope).
type Port struct {
	Port uint16
}

func (Port) id() messageID { return idPort }
