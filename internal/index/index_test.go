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

package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

func newTestIndex(t *testing.T) (*Index, *runstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := runstore.New(dir, nil)
	require.NoError(t, err)

	idx, err := Open(Config{Path: filepath.Join(dir, "index.db")}, store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx, store
}

func TestOpen_CreatesSchema(t *testing.T) {
	idx, _ := newTestIndex(t)

	var name string
	err := idx.db.QueryRowContext(context.Background(),
		`SELECT name FROM sqlite_master WHERE type='table' AND name='runs'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "runs", name)
}
