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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return s
}

func TestStoreBlob_IsContentAddressedAndDeduplicates(t *testing.T) {
	s := newTestStore(t)

	digest1, size1, err := s.StoreBlob(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.EqualValues(t, len("hello world"), size1)

	digest2, _, err := s.StoreBlob(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, digest1, digest2, "identical content must hash to the same digest")

	path, err := s.GetBlobPath(digest1)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestStoreBlob_DifferentContentProducesDifferentDigests(t *testing.T) {
	s := newTestStore(t)

	d1, _, err := s.StoreBlob(strings.NewReader("a"))
	require.NoError(t, err)
	d2, _, err := s.StoreBlob(strings.NewReader("b"))
	require.NoError(t, err)

	assert.NotEqual(t, d1, d2)
}

func TestGetBlobPath_UnknownDigestIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetBlobPath(strings.Repeat("0", 64))
	assert.Error(t, err)
}
