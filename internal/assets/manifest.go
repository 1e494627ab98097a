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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Skydoge-zjm/runicorn/pkg/errors"
)

// ManifestEntry is one file (or symlink) recorded in a snapshot.
type ManifestEntry struct {
	RelPath       string `json:"rel_path"`
	Digest        string `json:"digest,omitempty"`
	Size          int64  `json:"size"`
	Mode          uint32 `json:"mode"`
	SymlinkTarget string `json:"symlink_target,omitempty"`
}

// Manifest is the ordered record of one workspace snapshot.
type Manifest struct {
	ID        string          `json:"id"`
	RootName  string          `json:"root_name"`
	CreatedAt time.Time       `json:"created_at"`
	Entries   []ManifestEntry `json:"entries"`
}

// computeManifestID hashes the manifest's own entries (not including
// the id field itself) so the id is a stable content hash.
func computeManifestID(rootName string, entries []ManifestEntry) (string, error) {
	data, err := json.Marshal(struct {
		RootName string          `json:"root_name"`
		Entries  []ManifestEntry `json:"entries"`
	}{RootName: rootName, Entries: entries})
	if err != nil {
		return "", fmt.Errorf("marshal manifest for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// saveManifest publishes a manifest under manifests/. A manifest is
// only written here after every entry's blob has already been stored,
// so a reader never observes a manifest referencing a missing blob.
func (s *Store) saveManifest(m *Manifest) error {
	return writeJSONAtomic(s.manifestPath(m.ID), m)
}

// LoadManifest reads a previously published manifest by id.
func (s *Store) LoadManifest(id string) (*Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "manifest", ID: id}
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", id, err)
	}
	return &m, nil
}

// ListManifestIDs returns every published manifest's id.
func (s *Store) ListManifestIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "manifests"))
	if err != nil {
		return nil, fmt.Errorf("list manifests directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			ids = append(ids, trimJSONExt(e.Name()))
		}
	}
	return ids, nil
}

func trimJSONExt(name string) string {
	const ext = ".json"
	if len(name) > len(ext) && name[len(name)-len(ext):] == ext {
		return name[:len(name)-len(ext)]
	}
	return name
}
