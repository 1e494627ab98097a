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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Skydoge-zjm/runicorn/pkg/errors"
)

// Store is the content-addressed blob store and manifest registry
// rooted at a data directory (the same root the run storage engine
// uses, so blobs/ and manifests/ sit alongside runs/).
//
// sweepMu serializes cleanup_orphaned_blobs against concurrent
// snapshots: a sweep takes the write lock so no snapshot can publish a
// new manifest referencing blobs the sweep is deciding to delete;
// snapshots take the read lock so any number can run concurrently with
// each other.
type Store struct {
	root    string
	log     *slog.Logger
	sweepMu sync.RWMutex
}

// New returns a Store rooted at root, creating blobs/ and manifests/.
func New(root string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, sub := range []string{"blobs", "manifests"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	return &Store{root: root, log: log}, nil
}

// Root returns the data root this Store was constructed with.
func (s *Store) Root() string { return s.root }

func (s *Store) blobPath(digest string) string {
	return filepath.Join(s.root, "blobs", digest[0:2], digest[2:4], digest)
}

func (s *Store) manifestPath(id string) string {
	return filepath.Join(s.root, "manifests", id+".json")
}

// StoreBlob streams r through SHA-256 and, on completion, places the
// content at its content-addressed path if not already present. The
// digest and size are returned regardless of whether the blob already
// existed (store_blob is idempotent on identical content).
func (s *Store) StoreBlob(r io.Reader) (digest string, size int64, err error) {
	s.sweepMu.RLock()
	defer s.sweepMu.RUnlock()

	dir := filepath.Join(s.root, "blobs")
	tmp, err := os.CreateTemp(dir, ".tmp-blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp blob file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	h := sha256.New()
	n, err := io.Copy(tmp, io.TeeReader(r, h))
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write blob content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("sync blob content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp blob file: %w", err)
	}

	digest = hex.EncodeToString(h.Sum(nil))
	target := s.blobPath(digest)

	if _, err := os.Stat(target); err == nil {
		// Identical content already stored; discard the temp copy.
		return digest, n, nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", 0, fmt.Errorf("create blob shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", 0, fmt.Errorf("rename blob into place: %w", err)
	}
	return digest, n, nil
}

// StoreBlobFile is StoreBlob over an on-disk file's content.
func (s *Store) StoreBlobFile(path string) (digest string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return s.StoreBlob(f)
}

// writeJSONAtomic marshals v and replaces path with the result via
// write-to-temp-then-rename on the same filesystem, fsyncing the temp
// file before the rename. Mirrors the run storage engine's own
// metadata-write pattern so both ends of the module write files the
// same crash-safe way.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	return os.Rename(tmpPath, path)
}

// GetBlobPath returns the on-disk path for digest, or NotFound.
func (s *Store) GetBlobPath(digest string) (string, error) {
	path := s.blobPath(digest)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", &errors.NotFoundError{Resource: "blob", ID: digest}
		}
		return "", err
	}
	return path, nil
}
