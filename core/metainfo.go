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
package core

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"
)

// pieceHashSize is the length in bytes of a single piece digest (SHA1).
const pieceHashSize = sha1.Size

// info is the bencoded "info" dictionary of a .torrent file, as described by
// BEP3. Pieces is the concatenation of the SHA1 digest of every piece, so
// len(Pieces) must always be a multiple of pieceHashSize.
type info struct {
	PieceLength int64  `bencode:"piece length"`
	Pieces      string `bencode:"pieces"`
	Name        string `bencode:"name"`
	Length      int64  `bencode:"length"`
}

// hash computes the InfoHash of info: the SHA1 digest of its bencoded form.
func (i *info) hash() (InfoHash, error) {
	var b bytes.Buffer
	if err := bencode.Marshal(&b, *i); err != nil {
		return InfoHash{}, fmt.Errorf("bencode: %s", err)
	}
	return NewInfoHashFromBytes(b.Bytes()), nil
}

func (i *info) numPieces() int {
	return len(i.Pieces) / pieceHashSize
}

func (i *info) pieceSum(p int) [pieceHashSize]byte {
	var sum [pieceHashSize]byte
	copy(sum[:], i.Pieces[p*pieceHashSize:(p+1)*pieceHashSize])
	return sum
}

// metaInfoFile is the top-level bencoded dictionary of a .torrent file.
type metaInfoFile struct {
	Announce string `bencode:"announce"`
	Info     info   `bencode:"info"`
}

// MetaInfo contains torrent metadata: the piece layout of a payload and the
// tracker it can be announced to.
type MetaInfo struct {
	info     info
	infoHash InfoHash
	announce string
}

// NewMetaInfo builds a MetaInfo by splitting blob into pieceLength chunks and
// digesting each with SHA1.
func NewMetaInfo(name string, blob io.Reader, pieceLength int64, announce string) (*MetaInfo, error) {
	length, pieces, err := hashPieces(blob, pieceLength)
	if err != nil {
		return nil, err
	}
	i := info{
		PieceLength: pieceLength,
		Pieces:      pieces,
		Name:        name,
		Length:      length,
	}
	h, err := i.hash()
	if err != nil {
		return nil, fmt.Errorf("compute info hash: %s", err)
	}
	return &MetaInfo{info: i, infoHash: h, announce: announce}, nil
}

// InfoHash returns the torrent InfoHash.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

// Announce returns the tracker announce URL.
func (mi *MetaInfo) Announce() string {
	return mi.announce
}

// Name returns the suggested file name for the downloaded payload.
func (mi *MetaInfo) Name() string {
	return mi.info.Name
}

// Length returns the total length of the payload in bytes.
func (mi *MetaInfo) Length() int64 {
	return mi.info.Length
}

// NumPieces returns the number of pieces in the torrent.
func (mi *MetaInfo) NumPieces() int {
	return mi.info.numPieces()
}

// PieceLength returns the piece length used to break up the payload. Note,
// the final piece may be shorter than this. Use GetPieceLength for the true
// length of each piece.
func (mi *MetaInfo) PieceLength() int64 {
	return mi.info.PieceLength
}

// GetPieceLength returns the length of piece i, or 0 if i is out of bounds.
func (mi *MetaInfo) GetPieceLength(i int) int64 {
	n := mi.info.numPieces()
	if i < 0 || i >= n {
		return 0
	}
	if i == n-1 {
		return mi.info.Length - mi.info.PieceLength*int64(i)
	}
	return mi.info.PieceLength
}

// GetPieceSum returns the 20-byte SHA1 digest of piece i. Does not check bounds.
func (mi *MetaInfo) GetPieceSum(i int) [20]byte {
	return mi.info.pieceSum(i)
}

// Serialize encodes mi as a bencoded .torrent file.
func (mi *MetaInfo) Serialize() ([]byte, error) {
	var b bytes.Buffer
	f := metaInfoFile{Announce: mi.announce, Info: mi.info}
	if err := bencode.Marshal(&b, f); err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}
	return b.Bytes(), nil
}

// DeserializeMetaInfo decodes a bencoded .torrent file into a MetaInfo,
// recomputing its InfoHash from the info dictionary.
func DeserializeMetaInfo(data []byte) (*MetaInfo, error) {
	var f metaInfoFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &f); err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}
	if f.Info.numPieces() == 0 && f.Info.Length > 0 {
		return nil, errors.New("metainfo: empty pieces string")
	}
	if len(f.Info.Pieces)%pieceHashSize != 0 {
		return nil, fmt.Errorf("metainfo: pieces length %d not a multiple of %d", len(f.Info.Pieces), pieceHashSize)
	}
	h, err := f.Info.hash()
	if err != nil {
		return nil, fmt.Errorf("compute info hash: %s", err)
	}
	return &MetaInfo{info: f.Info, infoHash: h, announce: f.Announce}, nil
}

// hashPieces digests blob content in pieceLength chunks, returning the total
// length read and the concatenation of each chunk's SHA1 digest.
func hashPieces(blob io.Reader, pieceLength int64) (length int64, pieces string, err error) {
	if pieceLength <= 0 {
		return 0, "", errors.New("piece length must be positive")
	}
	var buf bytes.Buffer
	for {
		h := sha1.New()
		n, cerr := io.CopyN(h, blob, pieceLength)
		if cerr != nil && cerr != io.EOF {
			return 0, "", fmt.Errorf("read blob: %s", cerr)
		}
		length += n
		if n == 0 {
			break
		}
		buf.Write(h.Sum(nil))
		if n < pieceLength {
			break
		}
	}
	return length, buf.String(), nil
}
