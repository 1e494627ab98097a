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
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// RestoreManifest materializes every entry of m under targetDir. Files
// are hard-linked from the blob store where possible (the common case,
// since targetDir is usually on the same filesystem as the data root)
// and copied when the link fails for any reason, including crossing a
// filesystem boundary. Symlinks are recreated pointing at their
// original target. A file already present with the right content is
// left alone.
func (s *Store) RestoreManifest(m *Manifest, targetDir string) error {
	for _, entry := range m.Entries {
		dest := filepath.Join(targetDir, filepath.FromSlash(entry.RelPath))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("create directory for %s: %w", entry.RelPath, err)
		}

		if entry.SymlinkTarget != "" {
			if err := restoreSymlink(dest, entry.SymlinkTarget); err != nil {
				return fmt.Errorf("restore symlink %s: %w", entry.RelPath, err)
			}
			continue
		}

		if alreadyRestored(dest, entry.Digest) {
			continue
		}

		blobPath, err := s.GetBlobPath(entry.Digest)
		if err != nil {
			return fmt.Errorf("restore %s: %w", entry.RelPath, err)
		}

		os.Remove(dest) // Link fails if dest already exists.
		if err := restoreViaLinkOrCopy(blobPath, dest, os.FileMode(entry.Mode)); err != nil {
			return fmt.Errorf("restore %s: %w", entry.RelPath, err)
		}
	}
	return nil
}

// alreadyRestored reports whether dest already holds the content
// identified by digest, so a repeat restore is a no-op rather than a
// redundant link/copy. It hashes dest directly instead of going
// through StoreBlob, since checking doesn't need to add dest's content
// to the blob store.
func alreadyRestored(dest, digest string) bool {
	f, err := os.Open(dest)
	if err != nil {
		return false
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == digest
}

func restoreSymlink(dest, target string) error {
	if existing, err := os.Readlink(dest); err == nil && existing == target {
		return nil
	}
	os.Remove(dest)
	return os.Symlink(target, dest)
}

// restoreViaLinkOrCopy hard-links blobPath to dest when that would
// leave dest at the right mode without disturbing the blob (blobs are
// shared across every manifest entry that happens to match their
// content, so chmod-ing a hard link would silently change every other
// file sharing that inode). Otherwise it falls back to a copy, which
// also covers cross-filesystem restores where Link always fails.
func restoreViaLinkOrCopy(blobPath, dest string, mode os.FileMode) error {
	if err := os.Link(blobPath, dest); err == nil {
		info, statErr := os.Stat(blobPath)
		if statErr == nil && info.Mode().Perm() == mode {
			return nil
		}
		os.Remove(dest)
	}
	return copyFileMode(blobPath, dest, mode)
}

func copyFileMode(source, dest string, mode os.FileMode) error {
	src, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy content: %w", err)
	}
	return os.Chmod(dest, mode)
}
