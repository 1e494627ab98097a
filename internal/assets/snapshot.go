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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Skydoge-zjm/runicorn/internal/ignore"
)

// SnapshotWorkspace walks root, compiling ignoreRules (gitignore-style
// lines) to prune ignored directories and skip ignored files, storing
// every remaining file's content as a blob and recording the result in
// a published manifest. Symlinks are recorded by target, never
// traversed. If runID is non-empty, a reference to the resulting
// manifest is also written to that run's assets/manifest.json.
func (s *Store) SnapshotWorkspace(root string, ignoreRules []string, runID string) (*Manifest, error) {
	s.sweepMu.RLock()
	defer s.sweepMu.RUnlock()

	matcher, err := ignore.Compile(ignoreRules)
	if err != nil {
		return nil, fmt.Errorf("compile ignore rules: %w", err)
	}

	var relPaths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		isDir := d.IsDir()
		if matcher.Match(rel, isDir) {
			if isDir {
				return filepath.SkipDir
			}
			return nil
		}
		if isDir {
			return nil
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(relPaths)

	entries := make([]ManifestEntry, 0, len(relPaths))
	for _, rel := range relPaths {
		full := filepath.Join(root, rel)
		info, err := os.Lstat(full)
		if err != nil {
			return nil, fmt.Errorf("lstat %s: %w", full, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(full)
			if err != nil {
				return nil, fmt.Errorf("readlink %s: %w", full, err)
			}
			entries = append(entries, ManifestEntry{
				RelPath:       filepath.ToSlash(rel),
				Mode:          uint32(info.Mode().Perm()),
				SymlinkTarget: target,
			})
			continue
		}

		digest, size, err := s.StoreBlobFile(full)
		if err != nil {
			return nil, fmt.Errorf("store blob for %s: %w", rel, err)
		}
		entries = append(entries, ManifestEntry{
			RelPath: filepath.ToSlash(rel),
			Digest:  digest,
			Size:    size,
			Mode:    uint32(info.Mode().Perm()),
		})
	}

	id, err := computeManifestID(filepath.Base(root), entries)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{ID: id, RootName: filepath.Base(root), CreatedAt: time.Now().UTC(), Entries: entries}
	if err := s.saveManifest(manifest); err != nil {
		return nil, fmt.Errorf("publish manifest: %w", err)
	}

	if runID != "" {
		if err := s.linkRunToManifest(runID, manifest.ID); err != nil {
			return nil, err
		}
	}

	return manifest, nil
}

func (s *Store) linkRunToManifest(runID, manifestID string) error {
	dir := filepath.Join(s.root, "runs", runID, "assets")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run assets directory: %w", err)
	}
	ref := struct {
		ManifestID string `json:"manifest_id"`
	}{ManifestID: manifestID}
	return writeJSONAtomic(filepath.Join(dir, "manifest.json"), ref)
}
