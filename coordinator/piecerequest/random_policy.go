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
	"math/rand"

	"github.com/andresai/gobt/utils/syncutil"

	"github.com/willf/bitset"
)

// RandomPolicy selects uniformly at random among valid candidates via
// reservoir sampling, without favoring any index. This is the endgame-pass
// policy: once a peer has exhausted everything it can request without
// duplication, it picks blindly among whatever any peer still has
// outstanding.
const RandomPolicy = "random"

type randomPolicy struct{}

func newRandomPolicy() *randomPolicy {
	return &randomPolicy{}
}

func (p *randomPolicy) selectPieces(
	limit int,
	valid func(int) bool,
	candidates *bitset.BitSet,
	numPeersByPiece syncutil.Counters) ([]int, error) {

	var pieces []int
	k := 0
	for i, e := candidates.NextSet(0); e; i, e = candidates.NextSet(i + 1) {
		if !valid(int(i)) {
			continue
		}
		k++
		if len(pieces) < limit {
			pieces = append(pieces, int(i))
			continue
		}
		j := rand.Intn(k)
		if j < limit {
			pieces[j] = int(i)
		}
	}
	return pieces, nil
}
