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
package syncutil

import "sync"

// Counters is a fixed-size slice of threadsafe counters, indexed by position.
type Counters struct {
	mu     sync.RWMutex
	counts []int
}

// NewCounters creates a Counters of the given length, all initialized to 0.
func NewCounters(n int) *Counters {
	return &Counters{counts: make([]int, n)}
}

// Len returns the number of counters.
func (c *Counters) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.counts)
}

// Get returns the counter at k.
func (c *Counters) Get(k int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[k]
}

// Set sets the counter at k to v.
func (c *Counters) Set(k, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[k] = v
}

// Increment increments the counter at k by 1.
func (c *Counters) Increment(k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[k]++
}

// Decrement decrements the counter at k by 1.
func (c *Counters) Decrement(k int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[k]--
}
