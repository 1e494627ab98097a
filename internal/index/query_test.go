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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

func seedRuns(t *testing.T, idx *Index, store *runstore.Store, n int) []*runstore.Handle {
	t.Helper()
	ctx := context.Background()
	handles := make([]*runstore.Handle, n)
	for i := 0; i < n; i++ {
		h, err := store.CreateRun("cv/run", runstore.CreateOptions{})
		require.NoError(t, err)
		meta, err := store.ReadMeta(h.ID())
		require.NoError(t, err)
		status, err := store.ReadStatus(h.ID())
		require.NoError(t, err)
		require.NoError(t, idx.UpsertRun(ctx, meta, status))
		handles[i] = h
	}
	return handles
}

func TestListRuns_PaginatesWithCursor(t *testing.T) {
	idx, store := newTestIndex(t)
	seedRuns(t, idx, store, 5)
	ctx := context.Background()

	page1, err := idx.ListRuns(ctx, ListRunsParams{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page1.Runs, 2)
	require.NotEmpty(t, page1.Cursor)

	page2, err := idx.ListRuns(ctx, ListRunsParams{PageSize: 2, Cursor: page1.Cursor})
	require.NoError(t, err)
	assert.Len(t, page2.Runs, 2)

	page3, err := idx.ListRuns(ctx, ListRunsParams{PageSize: 2, Cursor: page2.Cursor})
	require.NoError(t, err)
	assert.Len(t, page3.Runs, 1)
	assert.Empty(t, page3.Cursor, "final page has no further cursor")
}

func TestListRuns_DefaultExcludesDeleted(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()

	h, err := store.CreateRun("a", runstore.CreateOptions{})
	require.NoError(t, err)
	meta, _ := store.ReadMeta(h.ID())
	status, _ := store.ReadStatus(h.ID())
	now := status.UpdatedAt
	status.DeletedAt = &now
	require.NoError(t, idx.UpsertRun(ctx, meta, status))

	result, err := idx.ListRuns(ctx, ListRunsParams{})
	require.NoError(t, err)
	assert.Empty(t, result.Runs)
}

func TestListRuns_FiltersByPathPrefix(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()

	for _, path := range []string{"cv/resnet", "nlp/bert"} {
		h, err := store.CreateRun(path, runstore.CreateOptions{})
		require.NoError(t, err)
		meta, _ := store.ReadMeta(h.ID())
		status, _ := store.ReadStatus(h.ID())
		require.NoError(t, idx.UpsertRun(ctx, meta, status))
	}

	result, err := idx.ListRuns(ctx, ListRunsParams{Filter: ListFilter{PathPrefix: "cv/"}})
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, "cv/resnet", result.Runs[0].Path)
}

func TestListRuns_AppliesFilterExpr(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()

	h1, _ := store.CreateRun("a", runstore.CreateOptions{})
	require.NoError(t, h1.SetPrimaryMetric("accuracy", runstore.ModeMax))
	require.NoError(t, h1.AppendEvent(int64p(1), "", map[string]float64{"accuracy": 0.95}))
	meta1, _ := store.ReadMeta(h1.ID())
	status1, _ := store.ReadStatus(h1.ID())
	require.NoError(t, idx.UpsertRun(ctx, meta1, status1))

	h2, _ := store.CreateRun("b", runstore.CreateOptions{})
	require.NoError(t, h2.SetPrimaryMetric("accuracy", runstore.ModeMax))
	require.NoError(t, h2.AppendEvent(int64p(1), "", map[string]float64{"accuracy": 0.5}))
	meta2, _ := store.ReadMeta(h2.ID())
	status2, _ := store.ReadStatus(h2.ID())
	require.NoError(t, idx.UpsertRun(ctx, meta2, status2))

	result, err := idx.ListRuns(ctx, ListRunsParams{
		Filter: ListFilter{FilterExpr: "primary_metric_best > 0.9"},
	})
	require.NoError(t, err)
	require.Len(t, result.Runs, 1)
	assert.Equal(t, h1.ID(), result.Runs[0].ID)
}

func TestPathTree_AggregatesCountsAndRunningFlag(t *testing.T) {
	idx, store := newTestIndex(t)
	ctx := context.Background()

	h1, _ := store.CreateRun("cv/resnet50", runstore.CreateOptions{})
	meta1, _ := store.ReadMeta(h1.ID())
	status1, _ := store.ReadStatus(h1.ID())
	require.NoError(t, idx.UpsertRun(ctx, meta1, status1))

	h2, _ := store.CreateRun("cv/resnet101", runstore.CreateOptions{})
	require.NoError(t, h2.Finish(runstore.StatusFinished))
	meta2, _ := store.ReadMeta(h2.ID())
	status2, _ := store.ReadStatus(h2.ID())
	require.NoError(t, idx.UpsertRun(ctx, meta2, status2))

	tree, err := idx.PathTree(ctx)
	require.NoError(t, err)
	require.Len(t, tree.Children, 1)
	cv := tree.Children[0]
	assert.Equal(t, "cv", cv.Name)
	assert.True(t, cv.HasRunningChild)
	require.Len(t, cv.Children, 2)
}

func TestGetRun_ReturnsFileBackedDetail(t *testing.T) {
	idx, store := newTestIndex(t)
	h, err := store.CreateRun("cv/resnet50", runstore.CreateOptions{Alias: "baseline"})
	require.NoError(t, err)

	detail, err := idx.GetRun(h.ID())
	require.NoError(t, err)
	assert.Equal(t, "cv/resnet50", detail.Meta.Path)
	assert.Equal(t, runstore.StatusRunning, detail.Status.Status)
}

func TestGetRun_UnknownIsNotFound(t *testing.T) {
	idx, _ := newTestIndex(t)
	_, err := idx.GetRun("does-not-exist")
	assert.Error(t, err)
}

func TestGetMetrics_DownsamplesWhenTargetSmaller(t *testing.T) {
	idx, store := newTestIndex(t)
	h, err := store.CreateRun("a", runstore.CreateOptions{})
	require.NoError(t, err)
	for i := int64(0); i < 1000; i++ {
		require.NoError(t, h.AppendEvent(int64p(i), "", map[string]float64{"loss": float64(i) / 1000}))
	}

	table, err := idx.GetMetrics(h.ID(), XAxisStep, 50)
	require.NoError(t, err)
	assert.Equal(t, 1000, table.Total)
	assert.LessOrEqual(t, table.Sampled, 50)
	assert.Equal(t, int64(999), *table.LastStep)
}

func TestGetMetrics_ReadsOnlyGrowthOnSecondCall(t *testing.T) {
	idx, store := newTestIndex(t)
	h, err := store.CreateRun("a", runstore.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.AppendEvent(int64p(1), "", map[string]float64{"x": 1}))

	first, err := idx.GetMetrics(h.ID(), XAxisStep, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	require.NoError(t, h.AppendEvent(int64p(2), "", map[string]float64{"x": 2}))
	second, err := idx.GetMetrics(h.ID(), XAxisStep, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Total)
}

func TestGetLogs_ReturnsFullTextWithoutRange(t *testing.T) {
	idx, store := newTestIndex(t)
	h, err := store.CreateRun("a", runstore.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.AppendLog([]byte("hello world\n")))

	data, err := idx.GetLogs(h.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))
}

func TestGetLogs_SlicesByteRange(t *testing.T) {
	idx, store := newTestIndex(t)
	h, err := store.CreateRun("a", runstore.CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.AppendLog([]byte("0123456789")))

	end := int64(4)
	data, err := idx.GetLogs(h.ID(), &ByteRange{Start: 2, End: &end})
	require.NoError(t, err)
	assert.Equal(t, "234", string(data))
}

func TestGetLogs_UnknownRunIsNotFound(t *testing.T) {
	idx, _ := newTestIndex(t)
	_, err := idx.GetLogs("does-not-exist", nil)
	assert.Error(t, err)
}
