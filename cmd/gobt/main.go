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

// Command gobt downloads a single torrent to a destination directory and
// exits once every piece has been fetched and verified.
package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/andresai/gobt/connstate"
	"github.com/andresai/gobt/coordinator"
	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/torrent"
	"github.com/andresai/gobt/tracker"
	"github.com/andresai/gobt/utils/log"

	"github.com/alecthomas/kingpin"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := kingpin.New("gobt", "Single-torrent BitTorrent downloader")

	torrentPath := app.Arg("torrent", ".torrent file path").Required().String()
	destDir := app.Flag("dest", "destination directory for the downloaded payload").Default(".").String()
	peerIDPrefix := app.Flag("peer-id-prefix", "prefix identifying this client in the peer id").
		Default("-GB0001-").String()
	maxPeers := app.Flag("max-peers", "maximum number of simultaneous peer connections").
		Default("50").Int()
	port := app.Flag("port", "port announced to the tracker").Default("6881").Int()
	logLevel := app.Flag("log-level", "debug, info, warn, or error").Default("info").String()

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gobt: %s\n", err)
		os.Exit(1)
	}

	if err := configureLogging(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "gobt: configure logging: %s\n", err)
		os.Exit(1)
	}

	if err := run(*torrentPath, *destDir, *peerIDPrefix, *maxPeers, *port); err != nil {
		log.Fatalf("gobt: %s", err)
	}
}

func run(torrentPath, destDir, peerIDPrefix string, maxPeers, port int) error {
	data, err := ioutil.ReadFile(torrentPath)
	if err != nil {
		return fmt.Errorf("read torrent file: %s", err)
	}
	mi, err := core.DeserializeMetaInfo(data)
	if err != nil {
		return fmt.Errorf("decode torrent file: %s", err)
	}

	peerID, err := newPeerID(peerIDPrefix)
	if err != nil {
		return err
	}
	pctx := core.PeerContext{PeerID: peerID, Port: port}

	stats := tally.NoopScope

	trackerClient := tracker.New(tracker.Config{})
	client := torrent.New(torrent.Config{
		Coordinator: coordinator.Config{ConnState: connstate.Config{MaxPeers: maxPeers}},
	}, pctx, trackerClient, stats)
	defer client.Close()

	log.Infof("gobt: downloading %s (%d pieces) from %s", mi.Name(), mi.NumPieces(), mi.Announce())

	payload, err := client.Download(context.Background(), mi)
	if err != nil {
		return fmt.Errorf("download: %s", err)
	}

	if err := writePayload(destDir, mi.Name(), payload); err != nil {
		return fmt.Errorf("write payload: %s", err)
	}

	log.Infof("gobt: wrote %s/%s", destDir, mi.Name())
	return nil
}

func configureLogging(level string) error {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %s", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %s", err)
	}
	log.Configure(logger)
	return nil
}
