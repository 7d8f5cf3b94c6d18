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
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// writePayload writes a completed torrent's payload to destDir/name. Writing
// completed downloads to disk is an external collaborator's job, not the
// downloader core's, so this glue lives in the CLI rather than in
// coordinator or torrent: os.Create appears nowhere else in this
// repository.
func writePayload(destDir, name string, payload []byte) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create destination dir: %s", err)
	}
	f, err := os.Create(filepath.Join(destDir, name))
	if err != nil {
		return fmt.Errorf("create output file: %s", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("write output file: %s", err)
	}
	return nil
}
