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
package coordinator

import (
	"time"

	"github.com/andresai/gobt/conn"
	"github.com/andresai/gobt/connstate"
	"github.com/andresai/gobt/coordinator/piecerequest"
)

// Config defines the configuration for a single torrent's Coordinator.
type Config struct {

	// ConnState bounds how many peers are dialed concurrently and how long
	// a failed peer is excluded from re-dial.
	ConnState connstate.Config `yaml:"conn_state"`

	// Conn configures every outbound Conn the Coordinator dials.
	Conn conn.Config `yaml:"conn"`

	// PieceRequestTimeout is how long a sent piece request is given to
	// produce the piece before it is considered failed and eligible for
	// resend.
	PieceRequestTimeout time.Duration `yaml:"piece_request_timeout"`

	// DisableEndgame turns off the endgame fallback entirely: a peer with
	// no unrequested candidate left simply gets no piece, rather than
	// falling back to a duplicate request.
	DisableEndgame bool `yaml:"disable_endgame"`
}

func (c Config) applyDefaults() Config {
	// connstate.New applies ConnState's own defaults. MaxPeers also gets
	// connstate's default here, because the Coordinator reads it off its own
	// Config when deciding how many endpoints to dial.
	if c.ConnState.MaxPeers == 0 {
		c.ConnState.MaxPeers = 50
	}
	if c.PieceRequestTimeout == 0 {
		c.PieceRequestTimeout = 20 * time.Second
	}
	return c
}

// normalPolicy and endgamePolicy are fixed rather than configurable: §4.3
// names the normal pass as "first unrequested piece by index" and the
// endgame pass as "uniform random among all candidates", so there is only
// one correct policy for each.
const (
	normalPolicy  = piecerequest.FirstIndexPolicy
	endgamePolicy = piecerequest.RandomPolicy
)

// pipelineLimit is fixed at 1: a peer.Session only ever tracks one
// outstanding piece request at a time (see peer.Session.requestedPiece), so
// a higher pipeline would never be exercised.
const pipelineLimit = 1
