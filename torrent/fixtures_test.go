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
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andresai/gobt/core"
	"github.com/andresai/gobt/wire"

	"github.com/willf/bitset"
)

// fakeServingPeer is a minimal peer that accepts one real TCP connection,
// performs the BEP3 handshake, advertises every piece of payload, and
// answers every Request with the corresponding slice of payload.
type fakeServingPeer struct {
	listener    net.Listener
	id          core.PeerID
	ip          string
	port        int
	infoHash    core.InfoHash
	payload     []byte
	pieceLength int64
}

func newFakeServingPeer(t *testing.T, infoHash core.InfoHash, payload []byte, pieceLength int64) *fakeServingPeer {
	require := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	ip, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(err)
	port, err := strconv.Atoi(portStr)
	require.NoError(err)

	p := &fakeServingPeer{
		listener:    l,
		id:          core.PeerIDFixture(),
		ip:          ip,
		port:        port,
		infoHash:    infoHash,
		payload:     payload,
		pieceLength: pieceLength,
	}
	go p.serve()
	return p
}

func (p *fakeServingPeer) endpoint() core.PeerInfo {
	return core.PeerInfo{IP: p.ip, Port: p.port}
}

func (p *fakeServingPeer) numPieces() int {
	return int((int64(len(p.payload)) + p.pieceLength - 1) / p.pieceLength)
}

func (p *fakeServingPeer) serve() {
	nc, err := p.listener.Accept()
	if err != nil {
		return
	}
	defer nc.Close()

	handshake := make([]byte, wire.HandshakeLen)
	if _, err := readFull(nc, handshake); err != nil {
		return
	}
	if _, _, err := wire.DecodeHandshakeBytes(handshake); err != nil {
		return
	}
	if _, err := nc.Write(wire.EncodeHandshake(p.infoHash, p.id)); err != nil {
		return
	}

	bits := bitset.New(uint(p.numPieces()))
	for i := 0; i < p.numPieces(); i++ {
		bits.Set(uint(i))
	}
	if _, err := nc.Write(wire.Encode(wire.Bitfield{Bits: wire.EncodeBitfield(bits, p.numPieces())})); err != nil {
		return
	}
	if _, err := nc.Write(wire.Encode(wire.Unchoke{})); err != nil {
		return
	}

	var recvBuf []byte
	tmp := make([]byte, 4096)
	for {
		n, err := nc.Read(tmp)
		if err != nil {
			return
		}
		recvBuf = append(recvBuf, tmp[:n]...)
		for {
			m, consumed, err := wire.TryReadFrame(recvBuf)
			if err != nil {
				return
			}
			if consumed == 0 {
				break
			}
			recvBuf = recvBuf[consumed:]
			req, ok := m.(wire.Request)
			if !ok {
				continue
			}
			pieceStart := int64(req.Index) * p.pieceLength
			begin := pieceStart + int64(req.Begin)
			block := p.payload[begin : begin+int64(req.Length)]
			if _, err := nc.Write(wire.Encode(wire.Piece{Index: req.Index, Begin: req.Begin, Block: block})); err != nil {
				return
			}
		}
	}
}

func readFull(nc net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := nc.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// fakeTrackerClient always hands back the same fixed peer list and
// interval, regardless of the torrent announced.
type fakeTrackerClient struct {
	peers    []core.PeerInfo
	interval time.Duration
}

func (f *fakeTrackerClient) Announce(
	ctx context.Context, mi *core.MetaInfo, peerID core.PeerID, port int) (time.Duration, []core.PeerInfo, error) {

	return f.interval, f.peers, nil
}

func testPeerContext(t *testing.T, port int) core.PeerContext {
	pctx, err := core.NewPeerContext(core.RandomPeerIDFactory, "127.0.0.1", port, false)
	require.NoError(t, err)
	return pctx
}
