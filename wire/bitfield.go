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

import "github.com/willf/bitset"

// EncodeBitfield packs a bitset of numPieces bits into the big-endian,
// MSB-first byte layout BEP3 requires (piece 0 is the most significant bit of
// byte 0). Trailing bits beyond numPieces within the final byte are left 0.
func EncodeBitfield(have *bitset.BitSet, numPieces int) []byte {
	nbytes := (numPieces + 7) / 8
	b := make([]byte, nbytes)
	for i := 0; i < numPieces; i++ {
		if have.Test(uint(i)) {
			b[i/8] |= 1 << uint(7-i%8)
		}
	}
	return b
}

// DecodeBitfield unpacks a BEP3 bitfield payload into a bitset of numPieces
// bits. Trailing padding bits past numPieces are ignored.
func DecodeBitfield(b []byte, numPieces int) *bitset.BitSet {
	bs := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		if i/8 >= len(b) {
			break
		}
		if b[i/8]&(1<<uint(7-i%8)) != 0 {
			bs.Set(uint(i))
		}
	}
	return bs
}
