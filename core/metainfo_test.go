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
	"testing"

	"github.com/stretchr/testify/require"
)

func sha1Sum(b []byte) [20]byte {
	return sha1.Sum(b)
}

func TestMetaInfoGetPieceLength(t *testing.T) {
	tests := []struct {
		desc        string
		size        uint64
		pieceLength uint64
		i           int
		expected    int64
	}{
		{"first piece", 10, 3, 0, 3},
		{"smaller last piece", 10, 3, 3, 1},
		{"same size last piece", 8, 2, 3, 2},
		{"middle piece", 10, 3, 1, 3},
		{"outside bounds", 10, 3, 4, 0},
		{"negative", 10, 3, -1, 0},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			blob := SizedBlobFixture(test.size, test.pieceLength)
			require.Equal(t, test.expected, blob.MetaInfo.GetPieceLength(test.i))
		})
	}
}

func TestMetaInfoNumPieces(t *testing.T) {
	require := require.New(t)

	mi, err := NewMetaInfo("test", bytes.NewReader(make([]byte, 25)), 10, "")
	require.NoError(err)
	require.Equal(3, mi.NumPieces())
	require.Equal(int64(25), mi.Length())
}

func TestMetaInfoSerializationRoundTrip(t *testing.T) {
	require := require.New(t)

	blob := NewBlobFixture()

	b, err := blob.MetaInfo.Serialize()
	require.NoError(err)
	result, err := DeserializeMetaInfo(b)
	require.NoError(err)
	require.Equal(blob.MetaInfo.InfoHash(), result.InfoHash())
	require.Equal(blob.MetaInfo.NumPieces(), result.NumPieces())
	require.Equal(blob.MetaInfo.Length(), result.Length())
}

func TestMetaInfoPieceSumVerifiesContent(t *testing.T) {
	require := require.New(t)

	blob := NewBlobFixture()
	mi := blob.MetaInfo

	for i := 0; i < mi.NumPieces(); i++ {
		start := int64(i) * mi.PieceLength()
		end := start + mi.GetPieceLength(i)
		got := sha1Sum(blob.Content[start:end])
		require.Equal(mi.GetPieceSum(i), got)
	}
}

func TestDeserializeMetaInfoRejectsMisalignedPieces(t *testing.T) {
	require := require.New(t)

	raw := `d8:announce0:4:infod6:lengthi10e12:piece lengthi5e6:pieces3:xyz4:name4:teste`
	_, err := DeserializeMetaInfo([]byte(raw))
	require.Error(err)
}
