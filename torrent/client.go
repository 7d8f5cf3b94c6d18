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

// Package torrent is the top-level facade: it accepts parsed metainfos,
// spawns a coordinator.Coordinator per torrent, drives the tracker
// announce/re-announce cycle, and hands the verified payload back once a
// torrent completes.
package torrent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andresai/gobt/conn"
	"github.com/andresai/gobt/coordinator"
	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/piece"
	"github.com/andresai/gobt/tracker"
	"github.com/andresai/gobt/utils/log"
	"github.com/andresai/gobt/utils/timeutil"

	"github.com/uber-go/tally"
)

// ErrClientClosed is returned by Download once Close has been called.
var ErrClientClosed = errors.New("torrent: client closed")

// ErrAlreadyDownloading is returned when Download is called twice for the
// same info hash while the first download is still in flight.
var ErrAlreadyDownloading = errors.New("torrent: download already in progress")

// Client manages zero or more concurrent single-torrent downloads. Each
// download owns its own coordinator.Coordinator and re-announce loop;
// Client itself holds no cross-torrent state beyond the registry needed to
// reject a duplicate Download call and to Close every download at once.
type Client struct {
	config  Config
	pctx    core.PeerContext
	tracker tracker.Client
	stats   tally.Scope

	mu       sync.Mutex
	active   map[core.InfoHash]context.CancelFunc
	closed   bool
}

// New creates a Client. pctx supplies the peer id and port this Client
// announces itself as to every tracker it talks to. A nil stats is treated
// as tally.NoopScope.
func New(config Config, pctx core.PeerContext, trackerClient tracker.Client, stats tally.Scope) *Client {
	if stats == nil {
		stats = tally.NoopScope
	}
	return &Client{
		config:  config.applyDefaults(),
		pctx:    pctx,
		tracker: trackerClient,
		stats:   stats,
		active:  make(map[core.InfoHash]context.CancelFunc),
	}
}

// Close cancels every in-flight download. Download calls made afterward
// fail immediately with ErrClientClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, cancel := range c.active {
		cancel()
	}
}

// Download announces mi to its tracker, connects to a bounded set of
// peers, and drives the torrent to completion, returning the reconstructed
// payload. It blocks until the torrent completes, ctx is cancelled, or the
// Client is closed.
func (c *Client) Download(ctx context.Context, mi *core.MetaInfo) ([]byte, error) {
	ctx, cancel, err := c.register(ctx, mi.InfoHash())
	if err != nil {
		return nil, err
	}
	defer func() {
		c.mu.Lock()
		delete(c.active, mi.InfoHash())
		c.mu.Unlock()
		cancel()
	}()

	d := newDownload(ctx, c.config, c.pctx, c.tracker, mi, c.stats)
	return d.run()
}

func (c *Client) register(parent context.Context, h core.InfoHash) (context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, ErrClientClosed
	}
	if _, ok := c.active[h]; ok {
		return nil, nil, ErrAlreadyDownloading
	}
	ctx, cancel := context.WithCancel(parent)
	c.active[h] = cancel
	return ctx, cancel, nil
}

// download owns one torrent's coordinator and re-announce loop for the
// lifetime of a single Client.Download call.
type download struct {
	ctx     context.Context
	config  Config
	pctx    core.PeerContext
	tracker tracker.Client
	mi      *core.MetaInfo
	stats   tally.Scope

	events *downloadEvents
}

func newDownload(
	ctx context.Context,
	config Config,
	pctx core.PeerContext,
	trackerClient tracker.Client,
	mi *core.MetaInfo,
	stats tally.Scope) *download {

	return &download{
		ctx:     ctx,
		config:  config,
		pctx:    pctx,
		tracker: trackerClient,
		mi:      mi,
		stats:   stats,
		events:  newDownloadEvents(),
	}
}

func (d *download) run() ([]byte, error) {
	pieces := piece.NewSet(d.mi.NumPieces(), d.mi.GetPieceLength, d.mi.GetPieceSum)

	dialer := coordinator.DialerFunc(func(ip string, port int) (net.Conn, error) {
		return conn.Dial(d.config.Conn, fmt.Sprintf("%s:%d", ip, port))
	})

	coord, err := coordinator.New(
		d.config.Coordinator, d.pctx.PeerID, d.mi.InfoHash(), pieces, dialer, d.events, d.stats)
	if err != nil {
		return nil, fmt.Errorf("torrent: new coordinator: %s", err)
	}

	interval, peers, err := d.tracker.Announce(d.ctx, d.mi, d.pctx.PeerID, d.pctx.Port)
	if err != nil {
		return nil, fmt.Errorf("torrent: initial announce: %s", err)
	}
	coord.Start(peers)

	done := make(chan struct{})
	go d.reannounceLoop(coord, interval, done)
	defer close(done)

	select {
	case payload := <-d.events.completed:
		return payload, nil
	case <-d.ctx.Done():
		return nil, d.ctx.Err()
	}
}

// reannounceLoop re-announces on the tracker's requested interval until
// done is closed (the torrent completed or the context was cancelled).
// Re-announce failures are logged and otherwise ignored: a stalled
// tracker should not abort an in-progress download.
func (d *download) reannounceLoop(coord *coordinator.Coordinator, interval time.Duration, done chan struct{}) {
	if interval < d.config.MinReannounceInterval {
		interval = d.config.MinReannounceInterval
	}
	timer := timeutil.NewTimer(interval)
	timer.Start()
	for {
		select {
		case <-done:
			timer.Cancel()
			return
		case <-d.ctx.Done():
			timer.Cancel()
			return
		case <-timer.C:
			if coord.Complete() {
				return
			}
			next, peers, err := d.tracker.Announce(d.ctx, d.mi, d.pctx.PeerID, d.pctx.Port)
			if err != nil {
				log.Warnf("torrent: re-announce %s: %s", d.mi.InfoHash(), err)
				next = interval
			} else {
				coord.Start(peers)
			}
			if next < d.config.MinReannounceInterval {
				next = d.config.MinReannounceInterval
			}
			interval = next
			timer = timeutil.NewTimer(interval)
			timer.Start()
		}
	}
}

// downloadEvents adapts coordinator.Events to a single-shot channel a
// download's run loop can select on.
type downloadEvents struct {
	completed chan []byte
}

func newDownloadEvents() *downloadEvents {
	return &downloadEvents{completed: make(chan []byte, 1)}
}

// CompletedPiece implements coordinator.Events. Individual piece
// completions are not surfaced at this layer; a future progress-reporting
// API would hook in here.
func (e *downloadEvents) CompletedPiece(index int) {}

// CompletedTorrent implements coordinator.Events.
func (e *downloadEvents) CompletedTorrent(payload []byte) {
	e.completed <- payload
}
