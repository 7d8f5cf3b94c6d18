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

// Package piecerequest tracks in-flight piece requests per peer and decides,
// via a pluggable selection policy, which pieces a peer should be asked for
// next.
package piecerequest

import (
	"github.com/andresai/gobt/utils/syncutil"

	"github.com/willf/bitset"
)

// pieceSelectionPolicy defines a policy for determining which pieces to
// request given a set of candidates and stats about them. If 'valid' is not
// thread-safe, the caller must handle locking.
type pieceSelectionPolicy interface {
	selectPieces(
		limit int,
		valid func(int) bool, // whether the given piece is a valid selection or not
		candidates *bitset.BitSet,
		numPeersByPiece syncutil.Counters) ([]int, error)
}

func newPolicy(name string) (pieceSelectionPolicy, bool) {
	switch name {
	case FirstIndexPolicy:
		return newFirstIndexPolicy(), true
	case RandomPolicy:
		return newRandomPolicy(), true
	case RarestFirstPolicy:
		return newRarestFirstPolicy(), true
	default:
		return nil, false
	}
}
