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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeManifestID_IsStableForIdenticalEntries(t *testing.T) {
	entries := []ManifestEntry{{RelPath: "a.txt", Digest: "abc", Size: 3, Mode: 0644}}

	id1, err := computeManifestID("root", entries)
	require.NoError(t, err)
	id2, err := computeManifestID("root", entries)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestComputeManifestID_ChangesWithEntryContent(t *testing.T) {
	a := []ManifestEntry{{RelPath: "a.txt", Digest: "abc", Size: 3}}
	b := []ManifestEntry{{RelPath: "a.txt", Digest: "def", Size: 3}}

	idA, err := computeManifestID("root", a)
	require.NoError(t, err)
	idB, err := computeManifestID("root", b)
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)
}

func TestSaveAndLoadManifest_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	m := &Manifest{RootName: "proj", Entries: []ManifestEntry{{RelPath: "a.txt", Digest: "abc", Size: 3}}}
	id, err := computeManifestID(m.RootName, m.Entries)
	require.NoError(t, err)
	m.ID = id

	require.NoError(t, s.saveManifest(m))

	loaded, err := s.LoadManifest(id)
	require.NoError(t, err)
	assert.Equal(t, m.RootName, loaded.RootName)
	assert.Equal(t, m.Entries, loaded.Entries)
}

func TestLoadManifest_UnknownIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadManifest("does-not-exist")
	assert.Error(t, err)
}

func TestListManifestIDs_ReturnsAllPublished(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"x", "y"} {
		m := &Manifest{RootName: name, Entries: []ManifestEntry{{RelPath: name, Digest: "d"}}}
		id, err := computeManifestID(m.RootName, m.Entries)
		require.NoError(t, err)
		m.ID = id
		require.NoError(t, s.saveManifest(m))
	}

	ids, err := s.ListManifestIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}
