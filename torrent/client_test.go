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
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andresai/gobt/connstate"
	"github.com/andresai/gobt/coordinator"
	"github.com/andresai/gobt/core"
)

func TestDownloadSinglePeerSinglePiece(t *testing.T) {
	require := require.New(t)

	payload := []byte("ABCDEFGH")
	mi, err := core.NewMetaInfo("payload.bin", bytes.NewReader(payload), 8, "http://unused")
	require.NoError(err)

	fp := newFakeServingPeer(t, mi.InfoHash(), payload, 8)
	defer fp.listener.Close()

	tc := &fakeTrackerClient{peers: []core.PeerInfo{fp.endpoint()}, interval: time.Hour}
	pctx := testPeerContext(t, 6881)

	c := New(Config{Coordinator: coordinator.Config{ConnState: connstate.Config{MaxPeers: 1}}}, pctx, tc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.Download(ctx, mi)
	require.NoError(err)
	require.Equal(payload, got)
}

func TestDownloadShortLastPiece(t *testing.T) {
	require := require.New(t)

	payload := []byte("ABCDEFGHIJKL")
	mi, err := core.NewMetaInfo("payload.bin", bytes.NewReader(payload), 8, "http://unused")
	require.NoError(err)
	require.Equal(2, mi.NumPieces())

	fp := newFakeServingPeer(t, mi.InfoHash(), payload, 8)
	defer fp.listener.Close()

	tc := &fakeTrackerClient{peers: []core.PeerInfo{fp.endpoint()}, interval: time.Hour}
	pctx := testPeerContext(t, 6882)

	c := New(Config{Coordinator: coordinator.Config{ConnState: connstate.Config{MaxPeers: 1}}}, pctx, tc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.Download(ctx, mi)
	require.NoError(err)
	require.Equal(payload, got)
}

func TestDownloadTwoPeersSplitPiecesNormalPass(t *testing.T) {
	require := require.New(t)

	payload := []byte("ABCDEFGHIJKLMNOP")
	mi, err := core.NewMetaInfo("payload.bin", bytes.NewReader(payload), 4, "http://unused")
	require.NoError(err)
	require.Equal(4, mi.NumPieces())

	first := newFakeServingPeer(t, mi.InfoHash(), payload, 4)
	defer first.listener.Close()
	second := newFakeServingPeer(t, mi.InfoHash(), payload, 4)
	defer second.listener.Close()

	tc := &fakeTrackerClient{
		peers:    []core.PeerInfo{first.endpoint(), second.endpoint()},
		interval: time.Hour,
	}
	pctx := testPeerContext(t, 6885)

	c := New(Config{Coordinator: coordinator.Config{ConnState: connstate.Config{MaxPeers: 2}}}, pctx, tc, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.Download(ctx, mi)
	require.NoError(err)
	require.Equal(payload, got)
}

func TestDownloadRejectsDuplicateInFlight(t *testing.T) {
	require := require.New(t)

	payload := []byte("ABCDEFGH")
	mi, err := core.NewMetaInfo("payload.bin", bytes.NewReader(payload), 8, "http://unused")
	require.NoError(err)

	// No peers are ever supplied, so the first Download call blocks until ctx
	// is cancelled; that's enough to prove a concurrent second call is
	// rejected while it's in flight.
	tc := &fakeTrackerClient{peers: nil, interval: time.Hour}
	pctx := testPeerContext(t, 6883)

	c := New(Config{}, pctx, tc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := c.Download(ctx, mi)
		done <- err
	}()
	<-started

	require.Eventually(func() bool {
		_, err := c.Download(context.Background(), mi)
		return err == ErrAlreadyDownloading
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.Equal(context.Canceled, <-done)
}

func TestDownloadFailsWhenClientClosed(t *testing.T) {
	require := require.New(t)

	payload := []byte("ABCDEFGH")
	mi, err := core.NewMetaInfo("payload.bin", bytes.NewReader(payload), 8, "http://unused")
	require.NoError(err)

	tc := &fakeTrackerClient{peers: nil, interval: time.Hour}
	pctx := testPeerContext(t, 6884)

	c := New(Config{}, pctx, tc, nil)
	c.Close()

	_, err = c.Download(context.Background(), mi)
	require.Equal(ErrClientClosed, err)
}
