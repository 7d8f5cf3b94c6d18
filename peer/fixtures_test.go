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
package peer

import (
	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/wire"
)

// fakeConn records every message written to it, in wire-encoded form, and
// tracks whether Disconnect was called.
type fakeConn struct {
	sent         []wire.Message
	disconnected bool
	writeErr     error
}

func (c *fakeConn) Write(b []byte) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	if len(b) == wire.HandshakeLen {
		// The handshake is written raw by OnConnected, not framed like
		// every other message; don't try to decode it as one.
		return nil
	}
	m, _, err := wire.TryReadFrame(b)
	if err != nil {
		panic(err)
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) Disconnect() {
	c.disconnected = true
}

// fakeCoordinator is a scriptable Coordinator for driving a Session in
// isolation from the rest of the torrent.
type fakeCoordinator struct {
	pieceLengths  map[int]int64
	chosen        []int
	chooseIndex   int
	blocks        []blockCall
	blockComplete map[int]bool
	blockErr      map[int]error
	stopped       []core.PeerID
}

type blockCall struct {
	index int
	begin int64
	data  []byte
}

func newFakeCoordinator(pieceLengths map[int]int64) *fakeCoordinator {
	return &fakeCoordinator{
		pieceLengths:  pieceLengths,
		blockComplete: make(map[int]bool),
		blockErr:      make(map[int]error),
	}
}

func (c *fakeCoordinator) PieceLength(index int) int64 {
	return c.pieceLengths[index]
}

func (c *fakeCoordinator) NextBlockOffset(index int, blockSize int64) (int64, int64, bool) {
	var received int64
	for _, b := range c.blocks {
		if b.index == index {
			received += int64(len(b.data))
		}
	}
	remaining := c.pieceLengths[index] - received
	if remaining <= 0 {
		return 0, 0, false
	}
	length := blockSize
	if remaining < length {
		length = remaining
	}
	return received, length, true
}

func (c *fakeCoordinator) ChooseNextPiece(p *Session) (int, bool) {
	if c.chooseIndex >= len(c.chosen) {
		return 0, false
	}
	i := c.chosen[c.chooseIndex]
	c.chooseIndex++
	return i, true
}

func (c *fakeCoordinator) HandleBlock(p *Session, index int, begin int64, block []byte) (bool, error) {
	c.blocks = append(c.blocks, blockCall{index, begin, block})
	if err, ok := c.blockErr[index]; ok {
		return false, err
	}
	return c.blockComplete[index], nil
}

func (c *fakeCoordinator) HandlePeerStopped(p *Session) {
	c.stopped = append(c.stopped, p.ID())
}
