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
package conn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/utils/log"

	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// Session is the subset of peer.Session a Conn drives: raw bytes in,
// transport-loss notification out. Declared locally instead of imported
// from package peer to keep conn free of a dependency on peer's selection
// policy / coordinator types.
type Session interface {
	OnBytes(data []byte) error
	OnConnectionLost()
}

// Events defines Conn lifecycle events.
type Events interface {
	ConnClosed(*Conn)
}

// Conn owns the raw socket for one peer connection: a write queue drained
// by its own goroutine, and a read loop that feeds incoming bytes straight
// to a Session, which performs its own handshake and message framing. This
// mirrors the "per-connection handle exposes write/disconnect, readable
// sockets hand bytes to on_bytes" external interface: Conn does no framing
// of its own, it only shuttles bytes.
type Conn struct {
	peerID    core.PeerID
	createdAt time.Time

	nc      net.Conn
	session Session
	events  Events
	config  Config
	stats   tally.Scope

	sender chan []byte

	startOnce sync.Once
	closed    *atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// New wraps nc for communication with peerID, feeding received bytes to
// session. Start must be called to begin pumping the read/write loops. A nil
// stats is treated as tally.NoopScope, so callers that don't care about
// metrics (tests, one-off tools) don't need to thread one through.
func New(config Config, nc net.Conn, peerID core.PeerID, session Session, events Events, stats tally.Scope) *Conn {
	config = config.applyDefaults()
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Conn{
		peerID:  peerID,
		nc:      nc,
		session: session,
		events:  events,
		config:  config,
		stats:   stats,
		sender:  make(chan []byte, config.SenderBufferSize),
		closed:  atomic.NewBool(false),
		done:    make(chan struct{}),
	}
}

// Dial opens an outbound TCP connection to addr within the configured
// dial timeout.
func Dial(config Config, addr string) (net.Conn, error) {
	config = config.applyDefaults()
	return net.DialTimeout("tcp", addr, config.DialTimeout)
}

// Start begins the read and write loops. Safe to call multiple times; only
// the first call has effect.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer id.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// IsClosed returns whether the connection has started shutting down.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s)", c.peerID)
}

// Write queues b for sending over the socket. Non-blocking: if the send
// queue is full, the write is dropped and an error returned, matching the
// "non-blocking; queues if the socket is not writable" contract.
func (c *Conn) Write(b []byte) error {
	select {
	case <-c.done:
		return errors.New("conn: closed")
	case c.sender <- b:
		return nil
	default:
		c.stats.Counter("dropped_messages").Inc(1)
		return errors.New("conn: send buffer full")
	}
}

// Disconnect starts the shutdown sequence for the connection.
func (c *Conn) Disconnect() {
	c.Close()
}

// Close starts the shutdown sequence for the connection. Safe to call
// multiple times.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		if c.events != nil {
			c.events.ConnClosed(c)
		}
	}()
}

func (c *Conn) readLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	buf := make([]byte, c.config.ReadBufferSize)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		n, err := c.nc.Read(buf)
		if err != nil {
			log.Infof("conn %s: read error, closing: %s", c.peerID, err)
			c.session.OnConnectionLost()
			return
		}
		if err := c.session.OnBytes(buf[:n]); err != nil {
			log.Infof("conn %s: protocol error, closing: %s", c.peerID, err)
			c.session.OnConnectionLost()
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case b := <-c.sender:
			if _, err := c.nc.Write(b); err != nil {
				log.Infof("conn %s: write error, closing: %s", c.peerID, err)
				c.session.OnConnectionLost()
				return
			}
		}
	}
}
