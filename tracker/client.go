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

// Package tracker implements a BEP3 HTTP tracker client: a bencoded GET
// announce request and a bencoded response carrying the peer list, in
// either the original dictionary-list form or the compact 6-byte-per-peer
// form.
package tracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/andresai/gobt/core"

	"github.com/jackpal/bencode-go"
)

// Client announces a torrent to its tracker and decodes the returned peer
// list.
type Client interface {
	// Announce reports progress on the torrent described by mi and returns
	// the interval to wait before the next announce, along with the
	// tracker's current peer list for that torrent. Peers advertising
	// port 0 are filtered out before being returned.
	Announce(ctx context.Context, mi *core.MetaInfo, peerID core.PeerID, port int) (
		interval time.Duration, peers []core.PeerInfo, err error)
}

type client struct {
	config Config
	http   *http.Client

	mu        sync.Mutex
	trackerID string
}

// New creates a Client using config.
func New(config Config) Client {
	config = config.applyDefaults()
	return &client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

func (c *client) Announce(
	ctx context.Context,
	mi *core.MetaInfo,
	peerID core.PeerID,
	port int) (time.Duration, []core.PeerInfo, error) {

	reqURL, err := c.buildURL(mi, peerID, port)
	if err != nil {
		return 0, nil, fmt.Errorf("tracker: build announce url: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("tracker: new request: %s", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("tracker: announce: %s", err)
	}
	defer resp.Body.Close()

	var dict map[string]interface{}
	if err := bencode.Unmarshal(resp.Body, &dict); err != nil {
		return 0, nil, AnnounceDecodeError{Reason: err.Error()}
	}

	if reason, ok := dict["failure reason"].(string); ok {
		return 0, nil, AnnounceFailure{Reason: reason}
	}

	if id, ok := dict["tracker id"].(string); ok && id != "" {
		c.mu.Lock()
		c.trackerID = id
		c.mu.Unlock()
	}

	interval, err := decodeInterval(dict)
	if err != nil {
		return 0, nil, err
	}

	peers, err := decodePeers(dict["peers"])
	if err != nil {
		return 0, nil, err
	}

	return interval, filterAnnouncablePeers(peers), nil
}

// buildURL assembles the announce GET request per BEP3 §4: info_hash and
// peer_id are sent as raw 20-byte strings, percent-encoded byte-for-byte by
// url.Values.Encode.
func (c *client) buildURL(mi *core.MetaInfo, peerID core.PeerID, port int) (string, error) {
	base, err := url.Parse(mi.Announce())
	if err != nil {
		return "", err
	}

	v := url.Values{}
	v.Set("info_hash", string(mi.InfoHash().Bytes()))
	v.Set("peer_id", string(peerID[:]))
	v.Set("port", strconv.Itoa(port))
	v.Set("uploaded", "0")
	v.Set("downloaded", "0")
	v.Set("left", strconv.FormatInt(mi.Length(), 10))
	v.Set("compact", "1")

	c.mu.Lock()
	trackerID := c.trackerID
	c.mu.Unlock()
	if trackerID != "" {
		v.Set("trackerid", trackerID)
	}

	base.RawQuery = v.Encode()
	return base.String(), nil
}

func decodeInterval(dict map[string]interface{}) (time.Duration, error) {
	raw, ok := dict["interval"]
	if !ok {
		return 0, AnnounceDecodeError{Reason: "missing interval"}
	}
	n, ok := raw.(int64)
	if !ok {
		return 0, AnnounceDecodeError{Reason: fmt.Sprintf("interval has type %T, want integer", raw)}
	}
	return time.Duration(n) * time.Second, nil
}

// decodePeers accepts either BEP3 peer representation: a list of
// {ip, port, peer id} dictionaries, or a single compact byte string packing
// 4 bytes of IPv4 address and 2 bytes of big-endian port per peer.
func decodePeers(raw interface{}) ([]core.PeerInfo, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return decodeCompactPeers([]byte(v))
	case []interface{}:
		return decodeDictPeers(v)
	default:
		return nil, AnnounceDecodeError{Reason: fmt.Sprintf("peers field has unexpected type %T", raw)}
	}
}

const compactPeerLen = 6

func decodeCompactPeers(b []byte) ([]core.PeerInfo, error) {
	if len(b)%compactPeerLen != 0 {
		return nil, AnnounceDecodeError{
			Reason: fmt.Sprintf("compact peers length %d not a multiple of %d", len(b), compactPeerLen),
		}
	}
	peers := make([]core.PeerInfo, 0, len(b)/compactPeerLen)
	for i := 0; i < len(b); i += compactPeerLen {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3]).String()
		port := int(b[i+4])<<8 | int(b[i+5])
		peers = append(peers, core.PeerInfo{IP: ip, Port: port})
	}
	return peers, nil
}

func decodeDictPeers(list []interface{}) ([]core.PeerInfo, error) {
	peers := make([]core.PeerInfo, 0, len(list))
	for _, entry := range list {
		d, ok := entry.(map[string]interface{})
		if !ok {
			return nil, AnnounceDecodeError{Reason: fmt.Sprintf("peer entry has type %T, want dictionary", entry)}
		}
		ip, _ := d["ip"].(string)
		portN, _ := d["port"].(int64)
		var id core.PeerID
		if raw, ok := d["peer id"].(string); ok {
			copy(id[:], raw)
		}
		peers = append(peers, core.PeerInfo{PeerID: id, IP: ip, Port: int(portN)})
	}
	return peers, nil
}

// filterAnnouncablePeers drops peers advertising port 0, per §4.4: such
// peers are not dialable and would otherwise waste a connstate slot.
func filterAnnouncablePeers(peers []core.PeerInfo) []core.PeerInfo {
	filtered := peers[:0]
	for _, p := range peers {
		if p.Port == 0 {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered
}
