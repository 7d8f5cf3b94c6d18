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

// Package peer implements the per-connection protocol state machine: one
// Session per remote peer, driving handshake, choke/interest, bitfield
// tracking, and block-by-block piece requests. A Session does no locking of
// its own: it is driven from its Conn's read loop, and the Coordinator also
// calls into it (CancelPiece, OnTorrentCompleted) while handling a block
// that arrived on another peer's connection.
package peer

import (
	"errors"
	"fmt"

	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/utils/log"
	"github.com/andresai/gobt/wire"

	"github.com/willf/bitset"
)

// state is the session's position in the handshake/request lifecycle.
type state int

const (
	stateNew state = iota
	stateHandshakeSent
	stateReady
	stateAwaitBlock
	stateDead
)

// Conn is the transport surface a Session needs from the connection
// manager: a non-blocking, queuing write and a way to tear down the
// socket. The connection manager drains Write's queue and calls OnBytes
// as data arrives.
type Conn interface {
	Write(b []byte) error
	Disconnect()
}

// Coordinator is the torrent-level callback surface a Session drives
// piece selection and block assembly through.
type Coordinator interface {
	// PieceLength returns the expected byte length of piece index.
	PieceLength(index int) int64
	// NextBlockOffset returns the offset and length of the next block of
	// piece index still owed, given a maximum block size. ok is false if
	// the piece is already complete or has failed verification.
	NextBlockOffset(index int, blockSize int64) (begin, length int64, ok bool)
	// ChooseNextPiece selects the next piece for p to request, per the
	// normal/endgame selection policy. ok is false if no work is
	// available for p right now.
	ChooseNextPiece(p *Session) (index int, ok bool)
	// HandleBlock forwards a received block to the piece assembler.
	// complete reports whether the piece is now fully assembled and
	// verified; err is non-nil only on a fatal digest mismatch.
	HandleBlock(p *Session, index int, begin int64, block []byte) (complete bool, err error)
	// HandlePeerStopped notifies the coordinator that p is no longer
	// usable, e.g. after a connection failure or "no work available".
	HandlePeerStopped(p *Session)
}

// ErrProtocol reports a BEP3 protocol violation: a bad handshake, an
// unrecognized message id, or a bitfield received somewhere other than
// immediately after the handshake. The connection manager disconnects the
// peer on this error; it never affects other peers.
type ErrProtocol struct {
	Reason string
}

func (e ErrProtocol) Error() string {
	return fmt.Sprintf("peer: protocol error: %s", e.Reason)
}

// Session is the state machine for one remote peer connection.
type Session struct {
	id          core.PeerID
	localPeerID core.PeerID
	infoHash    core.InfoHash
	numPieces   int
	coordinator Coordinator

	conn  Conn
	state state

	amChoking, amInterested     bool
	peerChoking, peerInterested bool

	peerPieces         *bitset.BitSet
	anyMessageReceived bool

	requestedPiece *int
	requestedBegin int64

	recvBuf []byte
}

// NewSession creates a Session for a remote peer identified by id, for the
// torrent identified by infoHash with numPieces pieces. localPeerID is our
// own peer id, sent in the handshake we emit.
func NewSession(
	id core.PeerID,
	localPeerID core.PeerID,
	infoHash core.InfoHash,
	numPieces int,
	coordinator Coordinator) *Session {

	return &Session{
		id:          id,
		localPeerID: localPeerID,
		infoHash:    infoHash,
		numPieces:   numPieces,
		coordinator: coordinator,
		state:       stateNew,
		amChoking:   true,
		peerChoking: true,
		peerPieces:  bitset.New(uint(numPieces)),
	}
}

// ID returns the remote peer's id.
func (s *Session) ID() core.PeerID {
	return s.id
}

// HasPiece returns whether the remote peer is known to hold piece i.
func (s *Session) HasPiece(i int) bool {
	return s.peerPieces.Test(uint(i))
}

// Bitfield returns a copy of the remote peer's known piece set.
func (s *Session) Bitfield() *bitset.BitSet {
	return s.peerPieces.Clone()
}

// RequestedPiece returns the piece index currently requested from this
// peer, if any.
func (s *Session) RequestedPiece() (int, bool) {
	if s.requestedPiece == nil {
		return 0, false
	}
	return *s.requestedPiece, true
}

// OnConnected transitions the session into "connected, handshake pending"
// and emits our handshake bytes.
func (s *Session) OnConnected(c Conn) error {
	s.conn = c
	s.state = stateHandshakeSent
	return c.Write(wire.EncodeHandshake(s.infoHash, s.localPeerID))
}

// OnConnectionFailed marks the session dead after a failed dial and
// notifies the coordinator.
func (s *Session) OnConnectionFailed() {
	s.die()
}

// OnConnectionLost marks the session dead after the socket closes or
// errors, and notifies the coordinator.
func (s *Session) OnConnectionLost() {
	s.die()
}

func (s *Session) die() {
	if s.state == stateDead {
		return
	}
	s.state = stateDead
	s.conn = nil
	s.coordinator.HandlePeerStopped(s)
}

// CancelPiece clears p's outstanding request if it is currently for index,
// returning the session to the ready state and immediately asking for new
// work. The coordinator calls this on every other session still holding
// index as its outstanding request when a piece completes via a different
// peer, satisfying the endgame liveness requirement: a peer cannot be left
// waiting forever on a piece someone else already finished. A BEP3 cancel
// message is sent to the remote so it stops transmitting the now-pointless
// block, per the endgame cancel enrichment.
func (s *Session) CancelPiece(index int) error {
	if s.requestedPiece == nil || *s.requestedPiece != index {
		return nil
	}
	s.requestedPiece = nil
	if s.state == stateDead {
		return nil
	}

	length := wire.BlockSize
	if pl := s.coordinator.PieceLength(index); pl-s.requestedBegin < int64(length) {
		length = int(pl - s.requestedBegin)
	}
	if length > 0 {
		if err := s.send(wire.Cancel{Index: uint32(index), Begin: uint32(s.requestedBegin), Length: uint32(length)}); err != nil {
			return err
		}
	}

	s.state = stateReady
	return s.advance()
}

// OnTorrentCompleted disconnects the peer if still connected and clears
// any outstanding request, since there is nothing left to ask for.
func (s *Session) OnTorrentCompleted() {
	s.requestedPiece = nil
	if s.state != stateDead && s.conn != nil {
		s.conn.Disconnect()
		s.state = stateDead
		s.conn = nil
	}
}

// OnBytes appends newly received bytes to the session's receive buffer
// and parses as many whole frames as are available. While the handshake
// has not yet completed, the first frame parsed is the fixed 68-byte
// handshake; afterward frames are length-prefixed messages. A partial
// frame at the end of the buffer is left in place without error.
func (s *Session) OnBytes(data []byte) error {
	s.recvBuf = append(s.recvBuf, data...)

	if !s.isStarted() {
		if len(s.recvBuf) < wire.HandshakeLen {
			return nil
		}
		infoHash, peerID, err := wire.DecodeHandshakeBytes(s.recvBuf[:wire.HandshakeLen])
		if err != nil {
			return ErrProtocol{Reason: err.Error()}
		}
		if infoHash != s.infoHash {
			return ErrProtocol{Reason: "handshake info_hash mismatch"}
		}
		s.id = peerID
		s.recvBuf = s.recvBuf[wire.HandshakeLen:]
		s.state = stateReady
		if err := s.advance(); err != nil {
			return err
		}
	}

	for {
		m, consumed, err := wire.TryReadFrame(s.recvBuf)
		if err != nil {
			return ErrProtocol{Reason: err.Error()}
		}
		if consumed == 0 {
			return nil
		}
		s.recvBuf = s.recvBuf[consumed:]
		if err := s.handleMessage(m); err != nil {
			return err
		}
	}
}

func (s *Session) isStarted() bool {
	return s.state != stateNew && s.state != stateHandshakeSent
}

func (s *Session) handleMessage(m wire.Message) error {
	if bf, ok := m.(wire.Bitfield); ok {
		if s.anyMessageReceived {
			return ErrProtocol{Reason: "bitfield message not first after handshake"}
		}
		s.anyMessageReceived = true
		s.peerPieces = wire.DecodeBitfield(bf.Bits, s.numPieces)
		return nil
	}
	if _, ok := m.(wire.KeepAlive); !ok {
		s.anyMessageReceived = true
	}

	switch v := m.(type) {
	case wire.KeepAlive:
		return nil
	case wire.Choke:
		s.peerChoking = true
		return nil
	case wire.Unchoke:
		s.peerChoking = false
		return s.advance()
	case wire.Interested:
		s.peerInterested = true
		return nil
	case wire.NotInterested:
		s.peerInterested = false
		return nil
	case wire.Have:
		if int(v.Index) >= s.numPieces {
			return ErrProtocol{Reason: "have: piece index out of bounds"}
		}
		s.peerPieces.Set(uint(v.Index))
		return nil
	case wire.Piece:
		return s.handlePiece(v)
	case wire.Request, wire.Cancel, wire.Port:
		// Recorded implicitly by the absence of an upload path; this
		// client does not seed beyond the handshake.
		return nil
	default:
		return ErrProtocol{Reason: fmt.Sprintf("unhandled message type %T", m)}
	}
}

func (s *Session) handlePiece(v wire.Piece) error {
	if s.requestedPiece == nil || *s.requestedPiece != int(v.Index) {
		// Not what we asked for (e.g. a stale reply); drop silently.
		return nil
	}

	complete, err := s.coordinator.HandleBlock(s, int(v.Index), int64(v.Begin), v.Block)
	if err != nil {
		return err
	}
	if complete {
		s.requestedPiece = nil
		s.state = stateReady
		return s.advance()
	}

	nextBegin, blockLength, ok := s.coordinator.NextBlockOffset(int(v.Index), wire.BlockSize)
	if !ok {
		// Coordinator disagrees about completion; nothing more to pace.
		return nil
	}
	s.requestedBegin = nextBegin
	s.state = stateAwaitBlock
	return s.send(wire.Request{Index: v.Index, Begin: uint32(nextBegin), Length: uint32(blockLength)})
}

// advance is the outbound action policy: invoked after any state change
// that could enable new work. It sends at most one message before
// returning, matching the deterministic decision tree: handshake, then
// interested, then nothing while a request is outstanding, then a new
// piece request, then disconnect if no work remains.
func (s *Session) advance() error {
	switch {
	case s.state == stateNew || s.state == stateHandshakeSent:
		// Handshake already sent in OnConnected; nothing more to do
		// until the remote handshake arrives.
		return nil
	case s.peerChoking:
		if !s.amInterested {
			s.amInterested = true
			return s.send(wire.Interested{})
		}
		return nil
	case s.requestedPiece != nil:
		return nil
	default:
		index, ok := s.coordinator.ChooseNextPiece(s)
		if !ok {
			s.coordinator.HandlePeerStopped(s)
			if s.conn != nil {
				s.conn.Disconnect()
			}
			s.state = stateDead
			s.conn = nil
			return nil
		}
		s.requestedPiece = &index
		s.requestedBegin = 0
		s.state = stateAwaitBlock
		length := wire.BlockSize
		if pl := s.coordinator.PieceLength(index); pl < int64(length) {
			length = int(pl)
		}
		return s.send(wire.Request{Index: uint32(index), Begin: 0, Length: uint32(length)})
	}
}

func (s *Session) send(m wire.Message) error {
	if s.conn == nil {
		return errors.New("peer: no connection")
	}
	if err := s.conn.Write(wire.Encode(m)); err != nil {
		log.Warnf("peer %s: write failed: %s", s.id, err)
		s.die()
		return nil
	}
	return nil
}
