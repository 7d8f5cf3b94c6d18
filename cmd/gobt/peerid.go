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
package main

import (
	"crypto/rand"
	"fmt"

	"github.com/andresai/gobt/core"
)

// newPeerID builds a 20-byte peer id carrying prefix as its leading bytes
// and random bytes for the remainder, following the Azureus-style
// convention client implementations use to self-identify (e.g. the
// original_source reference client's "QQ-0000-" + zero-filled suffix).
// prefix longer than 20 bytes is truncated.
func newPeerID(prefix string) (core.PeerID, error) {
	var id core.PeerID
	n := copy(id[:], prefix)
	if _, err := rand.Read(id[n:]); err != nil {
		return core.PeerID{}, fmt.Errorf("generate peer id suffix: %s", err)
	}
	return id, nil
}
