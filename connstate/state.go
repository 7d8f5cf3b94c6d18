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
package connstate

import (
	"errors"
	"time"

	"github.com/andresai/gobt/conn"
	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/utils/log"

	"github.com/andres-erbsen/clock"
)

// State errors.
var (
	ErrAtCapacity              = errors.New("at max_peers capacity")
	ErrConnAlreadyPending      = errors.New("conn is already pending")
	ErrConnAlreadyActive       = errors.New("conn is already active")
	ErrConnClosed              = errors.New("conn is closed")
	ErrInvalidActiveTransition = errors.New("conn must be pending to transition to active")

	errUnknownStatus = errors.New("invariant violation: unknown status")
)

type status int

const (
	_uninit status = iota
	_pending
	_active
)

type entry struct {
	status status
	conn   *conn.Conn
}

type blacklistEntry struct {
	expiration time.Time
}

func (e *blacklistEntry) Blacklisted(now time.Time) bool {
	return e.Remaining(now) > 0
}

func (e *blacklistEntry) Remaining(now time.Time) time.Duration {
	return e.expiration.Sub(now)
}

// State tracks, for the single torrent this process is downloading, which
// peers are pending (dialed, not yet handshaked), active (handshaked), or
// blacklisted (failed and temporarily skipped). Pending and active peers
// both count towards MaxPeers capacity.
//
// State is NOT thread-safe; callers serialize access the same way the
// coordinator serializes all other torrent state.
type State struct {
	config Config
	clk    clock.Clock

	conns     map[core.PeerID]entry
	blacklist map[core.PeerID]*blacklistEntry
}

// New creates a new State.
func New(config Config, clk clock.Clock) *State {
	config = config.applyDefaults()
	return &State{
		config:    config,
		clk:       clk,
		conns:     make(map[core.PeerID]entry),
		blacklist: make(map[core.PeerID]*blacklistEntry),
	}
}

// ActiveConns returns all active connections.
func (s *State) ActiveConns() []*conn.Conn {
	var active []*conn.Conn
	for _, e := range s.conns {
		if e.status == _active {
			active = append(active, e.conn)
		}
	}
	return active
}

// NumStarted returns the number of pending and active peers, i.e. the
// "is_started && !conn_failed" count invariant 5 bounds by MaxPeers.
func (s *State) NumStarted() int {
	return len(s.conns)
}

// Saturated returns whether the peer count is at MaxPeers capacity with
// every slot active.
func (s *State) Saturated() bool {
	var active int
	for _, e := range s.conns {
		if e.status == _active {
			active++
		}
	}
	return active == s.config.MaxPeers
}

// Blacklist excludes peerID from re-dial consideration for the configured
// BlacklistDuration. Returns an error if already blacklisted.
func (s *State) Blacklist(peerID core.PeerID) error {
	if s.config.DisableBlacklist {
		return nil
	}
	if e, ok := s.blacklist[peerID]; ok && e.Blacklisted(s.clk.Now()) {
		return errors.New("peer is already blacklisted")
	}
	s.blacklist[peerID] = &blacklistEntry{s.clk.Now().Add(s.config.BlacklistDuration)}
	log.Infof("Peer %s blacklisted for %s", peerID, s.config.BlacklistDuration)
	return nil
}

// Blacklisted returns whether peerID is currently blacklisted.
func (s *State) Blacklisted(peerID core.PeerID) bool {
	e, ok := s.blacklist[peerID]
	return ok && e.Blacklisted(s.clk.Now())
}

// AddPending reserves capacity for peerID as a pending (dialed but not yet
// handshaked) connection.
func (s *State) AddPending(peerID core.PeerID) error {
	if len(s.conns) == s.config.MaxPeers {
		return ErrAtCapacity
	}
	switch s.conns[peerID].status {
	case _uninit:
		s.conns[peerID] = entry{status: _pending}
		log.Infof("Added pending conn for %s, capacity now at %d", peerID, s.capacity())
		return nil
	case _pending:
		return ErrConnAlreadyPending
	case _active:
		return ErrConnAlreadyActive
	default:
		return errUnknownStatus
	}
}

// DeletePending deletes the pending connection for peerID, freeing capacity.
func (s *State) DeletePending(peerID core.PeerID) {
	if s.conns[peerID].status != _pending {
		return
	}
	delete(s.conns, peerID)
	log.Infof("Deleted pending conn for %s, capacity now at %d", peerID, s.capacity())
}

// MovePendingToActive transitions a previously pending connection to active.
func (s *State) MovePendingToActive(c *conn.Conn) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	if s.conns[c.PeerID()].status != _pending {
		return ErrInvalidActiveTransition
	}
	s.conns[c.PeerID()] = entry{status: _active, conn: c}
	log.Infof("Moved conn for %s from pending to active", c.PeerID())
	return nil
}

// DeleteActive deletes c. No-ops if c is not the active conn for its peer.
func (s *State) DeleteActive(c *conn.Conn) {
	e := s.conns[c.PeerID()]
	if e.status != _active || e.conn != c {
		return
	}
	delete(s.conns, c.PeerID())
	log.Infof("Deleted active conn for %s, capacity now at %d", c.PeerID(), s.capacity())
}

// BlacklistedPeer represents a peer currently excluded from re-dial.
type BlacklistedPeer struct {
	PeerID    core.PeerID
	Remaining time.Duration
}

// BlacklistSnapshot returns every currently-blacklisted peer.
func (s *State) BlacklistSnapshot() []BlacklistedPeer {
	var peers []BlacklistedPeer
	for id, e := range s.blacklist {
		peers = append(peers, BlacklistedPeer{PeerID: id, Remaining: e.Remaining(s.clk.Now())})
	}
	return peers
}

func (s *State) capacity() int {
	return s.config.MaxPeers - len(s.conns)
}
