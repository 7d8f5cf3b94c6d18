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

// Package memsize provides byte/bit size constants and human-readable
// formatting.
package memsize

import "fmt"

// Byte size constants.
const (
	B  uint64 = 1
	KB        = B * 1024
	MB        = KB * 1024
	GB        = MB * 1024
	TB        = GB * 1024
)

// Bit size constants.
const (
	bit  uint64 = 1
	Kbit        = bit * 1024
	Mbit        = Kbit * 1024
	Gbit        = Mbit * 1024
	Tbit        = Gbit * 1024
)

// Format renders bytes as a human-readable string, e.g. "1.50GB".
func Format(bytes uint64) string {
	return format(bytes, B, KB, MB, GB, TB, "B")
}

// BitFormat renders bits as a human-readable string, e.g. "1.50Gbit".
func BitFormat(bits uint64) string {
	return format(bits, bit, Kbit, Mbit, Gbit, Tbit, "bit")
}

func format(n, unit, k, m, g, t uint64, suffix string) string {
	switch {
	case n == 0:
		return fmt.Sprintf("0%s", suffix)
	case n >= t:
		return fmt.Sprintf("%.2fT%s", float64(n)/float64(t), suffix)
	case n >= g:
		return fmt.Sprintf("%.2fG%s", float64(n)/float64(g), suffix)
	case n >= m:
		return fmt.Sprintf("%.2fM%s", float64(n)/float64(m), suffix)
	case n >= k:
		return fmt.Sprintf("%.2fK%s", float64(n)/float64(k), suffix)
	default:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(unit), suffix)
	}
}
