// Copyright 2025 Tom Barlow
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

package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveFile snapshots a single file as a one-entry manifest rooted at
// the file's own name, for callers that want content-addressed storage
// without a full directory walk (e.g. archiving one large checkpoint).
func (s *Store) ArchiveFile(path, runID string) (*Manifest, error) {
	digest, size, err := s.StoreBlobFile(path)
	if err != nil {
		return nil, fmt.Errorf("archive file %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	name := filepath.Base(path)
	entries := []ManifestEntry{{RelPath: name, Digest: digest, Size: size, Mode: uint32(info.Mode().Perm())}}
	id, err := computeManifestID(name, entries)
	if err != nil {
		return nil, err
	}
	m := &Manifest{ID: id, RootName: name, CreatedAt: time.Now().UTC(), Entries: entries}
	if err := s.saveManifest(m); err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}
	if runID != "" {
		if err := s.linkRunToManifest(runID, m.ID); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ArchiveDir is SnapshotWorkspace without ignore rules, for callers
// that want every file under dir archived unconditionally.
func (s *Store) ArchiveDir(dir, runID string) (*Manifest, error) {
	return s.SnapshotWorkspace(dir, nil, runID)
}
