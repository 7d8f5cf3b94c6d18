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
package timeutil

import (
	"sync"
	"time"
)

// Timer wraps time.Timer with idempotent Start/Cancel semantics, allowing a
// single Timer to be restarted after it has fired or been cancelled.
type Timer struct {
	C <-chan time.Time

	mu      sync.Mutex
	d       time.Duration
	c       chan time.Time
	timer   *time.Timer
	started bool
}

// NewTimer creates a Timer which fires d after Start is called.
func NewTimer(d time.Duration) *Timer {
	c := make(chan time.Time, 1)
	return &Timer{C: c, c: c, d: d}
}

// Start arms the timer. Returns false if the timer is already running.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return false
	}
	t.started = true
	c := t.c
	t.timer = time.AfterFunc(t.d, func() {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		select {
		case c <- time.Now():
		default:
		}
	})
	return true
}

// Cancel stops the timer before it fires. Returns false if the timer was not
// running.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started || t.timer == nil {
		return false
	}
	stopped := t.timer.Stop()
	t.started = false
	return stopped
}
