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
package piecerequest

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/utils/syncutil"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
)

// Status describes the lifecycle of a single piece request.
type Status int

const (
	// StatusPending means the request was sent and has not yet expired.
	StatusPending Status = iota
	// StatusExpired means the request was sent but no response arrived
	// within the configured timeout.
	StatusExpired
	// StatusUnsent means the request was reserved but never sent over the
	// wire, e.g. because the peer disconnected first.
	StatusUnsent
	// StatusInvalid means the piece turned out to fail digest verification
	// after being fully received.
	StatusInvalid
)

// Request is a single outstanding or historical piece request.
type Request struct {
	Piece  int
	PeerID core.PeerID
	Status Status

	sentAt time.Time
}

// Manager tracks in-flight piece requests across all peers of a torrent and
// decides which pieces a peer should request next, via a pair of pluggable
// selection policies: one for the normal pass (each piece requested from at
// most one peer at a time) and one for the endgame pass (duplicate requests
// allowed once no unrequested piece remains).
type Manager struct {
	mu sync.RWMutex

	requests       map[int][]*Request
	requestsByPeer map[core.PeerID]map[int]*Request

	clock   clock.Clock
	timeout time.Duration

	normalPolicy  pieceSelectionPolicy
	endgamePolicy pieceSelectionPolicy
	pipelineLimit int
}

// NewManager creates a new Manager. normalPolicyName and endgamePolicyName
// select the pieceSelectionPolicy used for each pass; valid values are
// FirstIndexPolicy, RandomPolicy, and RarestFirstPolicy.
func NewManager(
	clk clock.Clock,
	timeout time.Duration,
	normalPolicyName string,
	endgamePolicyName string,
	pipelineLimit int) (*Manager, error) {

	normal, ok := newPolicy(normalPolicyName)
	if !ok {
		return nil, fmt.Errorf("piecerequest: invalid normal-pass policy %q", normalPolicyName)
	}
	endgame, ok := newPolicy(endgamePolicyName)
	if !ok {
		return nil, fmt.Errorf("piecerequest: invalid endgame-pass policy %q", endgamePolicyName)
	}
	return &Manager{
		requests:       make(map[int][]*Request),
		requestsByPeer: make(map[core.PeerID]map[int]*Request),
		clock:          clk,
		timeout:        timeout,
		normalPolicy:   normal,
		endgamePolicy:  endgame,
		pipelineLimit:  pipelineLimit,
	}, nil
}

// ReservePieces reserves up to the peer's remaining pipeline quota of
// pieces from candidates for peerID, recording them as StatusPending.
// numPeersByPiece is consulted by policies (e.g. RarestFirstPolicy) that
// weigh a piece's availability across the swarm.
//
// When endgame is false (the normal pass), a piece already requested from
// any peer is not a valid candidate. When endgame is true, a piece already
// requested from another peer is fair game, but a piece already pending
// from peerID itself is still excluded.
func (m *Manager) ReservePieces(
	peerID core.PeerID,
	candidates *bitset.BitSet,
	numPeersByPiece syncutil.Counters,
	endgame bool) ([]int, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	quota := m.requestQuota(peerID)
	if quota <= 0 {
		return nil, nil
	}

	policy := m.normalPolicy
	if endgame {
		policy = m.endgamePolicy
	}

	valid := func(i int) bool {
		return m.validRequest(peerID, i, endgame)
	}

	pieces, err := policy.selectPieces(quota, valid, candidates, numPeersByPiece)
	if err != nil {
		return nil, fmt.Errorf("select pieces: %s", err)
	}
	for _, i := range pieces {
		m.addRequest(peerID, i)
	}
	return pieces, nil
}

// MarkUnsent marks piece i as unsent for peerID, freeing it up for
// re-selection without counting as a failed attempt.
func (m *Manager) MarkUnsent(peerID core.PeerID, i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markStatus(peerID, i, StatusUnsent)
}

// MarkInvalid marks piece i as invalid for peerID, e.g. after a digest
// mismatch implicates the blocks this peer supplied.
func (m *Manager) MarkInvalid(peerID core.PeerID, i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markStatus(peerID, i, StatusInvalid)
}

// Clear removes all requests for piece i, across every peer. Called once
// piece i is verified complete.
func (m *Manager) Clear(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests[i] {
		if peerReqs, ok := m.requestsByPeer[r.PeerID]; ok {
			delete(peerReqs, i)
		}
	}
	delete(m.requests, i)
}

// PendingPieces returns the sorted piece indices with a pending (sent,
// not yet expired) request from peerID.
func (m *Manager) PendingPieces(peerID core.PeerID) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pieces []int
	for i, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending && !m.expired(r) {
			pieces = append(pieces, i)
		}
	}
	sort.Ints(pieces)
	return pieces
}

// ClearPeer removes all requests associated with peerID, e.g. after the
// peer disconnects.
func (m *Manager) ClearPeer(peerID core.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.requestsByPeer[peerID] {
		reqs := m.requests[i]
		for j := 0; j < len(reqs); j++ {
			if reqs[j].PeerID == peerID {
				reqs[j] = reqs[len(reqs)-1]
				reqs = reqs[:len(reqs)-1]
				j--
			}
		}
		if len(reqs) == 0 {
			delete(m.requests, i)
		} else {
			m.requests[i] = reqs
		}
	}
	delete(m.requestsByPeer, peerID)
}

// GetFailedRequests returns a snapshot of every request which is not
// StatusPending, converting any pending request whose timeout has elapsed
// into StatusExpired as it copies it out.
func (m *Manager) GetFailedRequests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var failed []Request
	for i, reqs := range m.requests {
		for _, r := range reqs {
			if r.Status == StatusPending && m.expired(r) {
				r.Status = StatusExpired
			}
			if r.Status != StatusPending {
				failed = append(failed, Request{Piece: i, PeerID: r.PeerID, Status: r.Status})
			}
		}
	}
	return failed
}

func (m *Manager) addRequest(peerID core.PeerID, i int) {
	r := &Request{Piece: i, PeerID: peerID, Status: StatusPending, sentAt: m.clock.Now()}
	m.requests[i] = append(m.requests[i], r)
	peerReqs, ok := m.requestsByPeer[peerID]
	if !ok {
		peerReqs = make(map[int]*Request)
		m.requestsByPeer[peerID] = peerReqs
	}
	peerReqs[i] = r
}

func (m *Manager) validRequest(peerID core.PeerID, i int, allowDuplicates bool) bool {
	for _, r := range m.requests[i] {
		if r.Status != StatusPending || m.expired(r) {
			continue
		}
		if r.PeerID == peerID {
			return false
		}
		if !allowDuplicates {
			return false
		}
	}
	return true
}

func (m *Manager) requestQuota(peerID core.PeerID) int {
	outstanding := 0
	for _, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending && !m.expired(r) {
			outstanding++
		}
	}
	quota := m.pipelineLimit - outstanding
	if quota < 0 {
		quota = 0
	}
	return quota
}

func (m *Manager) expired(r *Request) bool {
	return m.clock.Now().After(r.sentAt.Add(m.timeout))
}

func (m *Manager) markStatus(peerID core.PeerID, i int, s Status) {
	r, ok := m.requestsByPeer[peerID][i]
	if !ok {
		return
	}
	r.Status = s
}
