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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestSnapshotWorkspace_RecordsFilesAndPrunesIgnored(t *testing.T) {
	s := newTestStore(t)
	workspace := t.TempDir()

	writeWorkspaceFile(t, workspace, "main.py", "print(1)")
	writeWorkspaceFile(t, workspace, "checkpoints/model.bin", "weights")
	writeWorkspaceFile(t, workspace, "__pycache__/main.cpython.pyc", "bytecode")

	m, err := s.SnapshotWorkspace(workspace, []string{"__pycache__/"}, "")
	require.NoError(t, err)

	var relPaths []string
	for _, e := range m.Entries {
		relPaths = append(relPaths, e.RelPath)
	}
	assert.Contains(t, relPaths, "main.py")
	assert.Contains(t, relPaths, "checkpoints/model.bin")
	assert.NotContains(t, relPaths, "__pycache__/main.cpython.pyc")
}

func TestSnapshotWorkspace_IsContentAddressedAcrossDuplicateFiles(t *testing.T) {
	s := newTestStore(t)
	workspace := t.TempDir()

	writeWorkspaceFile(t, workspace, "a.txt", "same content")
	writeWorkspaceFile(t, workspace, "b.txt", "same content")

	m, err := s.SnapshotWorkspace(workspace, nil, "")
	require.NoError(t, err)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, m.Entries[0].Digest, m.Entries[1].Digest)
}

func TestSnapshotWorkspace_RecordsSymlinkByTargetWithoutFollowing(t *testing.T) {
	s := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "real.txt", "content")
	require.NoError(t, os.Symlink("real.txt", filepath.Join(workspace, "link.txt")))

	m, err := s.SnapshotWorkspace(workspace, nil, "")
	require.NoError(t, err)

	var link *ManifestEntry
	for i := range m.Entries {
		if m.Entries[i].RelPath == "link.txt" {
			link = &m.Entries[i]
		}
	}
	require.NotNil(t, link)
	assert.Equal(t, "real.txt", link.SymlinkTarget)
	assert.Empty(t, link.Digest)
}

func TestSnapshotWorkspace_WithRunIDLinksManifestIntoRunDirectory(t *testing.T) {
	s := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "a.txt", "content")

	m, err := s.SnapshotWorkspace(workspace, nil, "run-123")
	require.NoError(t, err)

	refPath := filepath.Join(s.Root(), "runs", "run-123", "assets", "manifest.json")
	data, err := os.ReadFile(refPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), m.ID)
}

func TestSnapshotWorkspace_IsDeterministicForIdenticalTrees(t *testing.T) {
	s := newTestStore(t)
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "a.txt", "content")
	writeWorkspaceFile(t, workspace, "b/c.txt", "nested")

	m1, err := s.SnapshotWorkspace(workspace, nil, "")
	require.NoError(t, err)
	m2, err := s.SnapshotWorkspace(workspace, nil, "")
	require.NoError(t, err)

	assert.Equal(t, m1.ID, m2.ID)
}
