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
)

// CleanupResult summarizes one orphaned-blob sweep.
type CleanupResult struct {
	BlobsScanned int
	BlobsDeleted int
	BytesFreed   int64
}

// CleanupOrphanedBlobs deletes every blob not referenced by any
// published manifest. It takes the sweep write lock for its entire
// duration, so no snapshot can publish a manifest referencing a blob
// this sweep is about to delete: StoreBlob and SnapshotWorkspace both
// block on their read lock until the sweep finishes, and the reachable
// set computed here is read fresh after the lock is held, not before.
func (s *Store) CleanupOrphanedBlobs() (*CleanupResult, error) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	reachable, err := s.reachableDigests()
	if err != nil {
		return nil, fmt.Errorf("compute reachable digests: %w", err)
	}

	result := &CleanupResult{}
	blobsRoot := filepath.Join(s.root, "blobs")
	err = filepath.Walk(blobsRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		digest := filepath.Base(path)
		result.BlobsScanned++
		if reachable[digest] {
			return nil
		}
		size := info.Size()
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove orphaned blob %s: %w", digest, err)
		}
		result.BlobsDeleted++
		result.BytesFreed += size
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.pruneEmptyShardDirs(blobsRoot)
	return result, nil
}

// reachableDigests unions every digest referenced by any published
// manifest, since manifests are the only thing that can keep a blob
// alive once its originating run directory is gone.
func (s *Store) reachableDigests() (map[string]bool, error) {
	ids, err := s.ListManifestIDs()
	if err != nil {
		return nil, err
	}
	reachable := make(map[string]bool)
	for _, id := range ids {
		m, err := s.LoadManifest(id)
		if err != nil {
			s.log.Warn("skipping unreadable manifest during cleanup", "manifest_id", id, "error", err)
			continue
		}
		for _, entry := range m.Entries {
			if entry.Digest != "" {
				reachable[entry.Digest] = true
			}
		}
	}
	return reachable, nil
}

// pruneEmptyShardDirs removes now-empty blobs/<xx>/<yy> shard
// directories left behind by a sweep. Failures are silently ignored,
// not fatal: an empty directory left behind costs nothing and a future
// sweep will retry it.
func (s *Store) pruneEmptyShardDirs(blobsRoot string) {
	top, err := os.ReadDir(blobsRoot)
	if err != nil {
		return
	}
	for _, first := range top {
		if !first.IsDir() {
			continue
		}
		firstPath := filepath.Join(blobsRoot, first.Name())
		second, err := os.ReadDir(firstPath)
		if err != nil {
			continue
		}
		for _, shard := range second {
			if !shard.IsDir() {
				continue
			}
			shardPath := filepath.Join(firstPath, shard.Name())
			entries, err := os.ReadDir(shardPath)
			if err == nil && len(entries) == 0 {
				os.Remove(shardPath)
			}
		}
		if remaining, err := os.ReadDir(firstPath); err == nil && len(remaining) == 0 {
			os.Remove(firstPath)
		}
	}
}
