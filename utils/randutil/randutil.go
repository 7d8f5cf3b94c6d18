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

// Package randutil provides small randomized value generators for tests and
// fixtures.
package randutil

import (
	"fmt"
	"math/rand"
)

const _alphanum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Text returns n random alphanumeric bytes.
func Text(n uint64) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = _alphanum[rand.Intn(len(_alphanum))]
	}
	return b
}

// IP returns a random loopback-range IPv4 address string.
func IP() string {
	return fmt.Sprintf("127.0.%d.%d", rand.Intn(256), rand.Intn(256))
}

// Port returns a random ephemeral port number.
func Port() int {
	return 20000 + rand.Intn(20000)
}
