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
	"github.com/andresai/gobt/utils/syncutil"

	"github.com/willf/bitset"
)

// FirstIndexPolicy selects the lowest-indexed valid candidate first. This is
// the normal-pass policy: deterministic, so two peers racing to fill their
// pipelines converge on the same piece order instead of fanning out
// randomly.
const FirstIndexPolicy = "first_index"

type firstIndexPolicy struct{}

func newFirstIndexPolicy() *firstIndexPolicy {
	return &firstIndexPolicy{}
}

func (p *firstIndexPolicy) selectPieces(
	limit int,
	valid func(int) bool,
	candidates *bitset.BitSet,
	numPeersByPiece syncutil.Counters) ([]int, error) {

	var pieces []int
	for i, e := candidates.NextSet(0); e && len(pieces) < limit; i, e = candidates.NextSet(i + 1) {
		if !valid(int(i)) {
			continue
		}
		pieces = append(pieces, int(i))
	}
	return pieces, nil
}
