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

// Package conn manages the raw socket side of a peer connection: dialing,
// a buffered send queue drained on its own goroutine, and a read loop that
// hands received bytes to a peer.Session.
package conn

import "time"

// Config is the configuration for individual live connections.
type Config struct {

	// DialTimeout bounds how long a single outbound dial may take.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SenderBufferSize is the size of the outbound write queue for a
	// connection. Prevents a slow or stalled socket from blocking whoever
	// is trying to send it messages.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReadBufferSize is the size of the buffer readLoop reads into on each
	// socket read.
	ReadBufferSize int `yaml:"read_buffer_size"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 100
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 4096
	}
	return c
}
