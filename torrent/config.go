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
package torrent

import (
	"time"

	"github.com/andresai/gobt/conn"
	"github.com/andresai/gobt/coordinator"
	"github.com/andresai/gobt/tracker"
)

// Config defines the top-level Client's configuration.
type Config struct {
	// Coordinator configures every per-torrent coordinator.Coordinator
	// spawned by Download.
	Coordinator coordinator.Config `yaml:"coordinator"`

	// Conn configures the sockets the Client dials on a coordinator's
	// behalf.
	Conn conn.Config `yaml:"conn"`

	// Tracker configures the announce client.
	Tracker tracker.Config `yaml:"tracker"`

	// MinReannounceInterval is a floor applied to whatever interval the
	// tracker returns, so a misbehaving tracker returning e.g. interval=0
	// cannot drive the re-announce loop into a busy spin.
	MinReannounceInterval time.Duration `yaml:"min_reannounce_interval"`
}

func (c Config) applyDefaults() Config {
	// coordinator.New and conn.Dial apply Coordinator's and Conn's own
	// defaults respectively.
	if c.MinReannounceInterval == 0 {
		c.MinReannounceInterval = 5 * time.Second
	}
	return c
}
