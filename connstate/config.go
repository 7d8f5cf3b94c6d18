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

// Package connstate enforces the configured peer connection cap and tracks
// which peers have already been dialed, so the coordinator can decide which
// endpoint to try next after a peer drops.
package connstate

import "time"

// Config defines State configuration.
type Config struct {

	// MaxPeers is the maximum number of started, non-failed peer sessions
	// maintained at once, per invariant 5 of the connection manager.
	MaxPeers int `yaml:"max_peers"`

	// DisableBlacklist disables the blacklisting of peers that failed a
	// connection attempt. Should only be used for testing.
	DisableBlacklist bool `yaml:"disable_blacklist"`

	// BlacklistDuration is how long a peer that failed to connect is
	// excluded from re-dial consideration.
	BlacklistDuration time.Duration `yaml:"blacklist_duration"`
}

func (c Config) applyDefaults() Config {
	if c.MaxPeers == 0 {
		c.MaxPeers = 50
	}
	if c.BlacklistDuration == 0 {
		c.BlacklistDuration = 30 * time.Second
	}
	return c
}
