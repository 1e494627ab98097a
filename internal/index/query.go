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
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
	"github.com/Skydoge-zjm/runicorn/pkg/errors"
	"github.com/Skydoge-zjm/runicorn/pkg/lttb"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ListRuns returns one page of run summaries. filter_expr (if set) is
// applied in-process after SQL narrows by path prefix, status, and
// deleted state; this means a page may legitimately come back shorter
// than page_size when filter_expr rejects some of the SQL-matched rows
// — callers should follow the returned cursor rather than assume a
// full page means more data remains.
func (idx *Index) ListRuns(ctx context.Context, params ListRunsParams) (*ListRunsResult, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	offset, err := decodeCursor(params.Cursor)
	if err != nil {
		return nil, &errors.ValidationError{Field: "cursor", Message: "malformed cursor"}
	}

	query, args := buildListQuery(params.Filter, params.SortBy, params.SortDir, pageSize+1, offset)
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list_runs query: %w", err)
	}
	defer rows.Close()

	var candidates []RunSummary
	for rows.Next() {
		rs, err := scanRunSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		candidates = append(candidates, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(candidates) > pageSize
	if hasMore {
		candidates = candidates[:pageSize]
	}

	result := make([]RunSummary, 0, len(candidates))
	for _, rs := range candidates {
		ok, err := idx.filter.matches(params.Filter.FilterExpr, rs)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, rs)
		}
	}

	out := &ListRunsResult{Runs: result}
	if hasMore {
		out.Cursor = encodeCursor(offset + pageSize)
	}
	return out, nil
}

func buildListQuery(f ListFilter, sortBy SortField, dir SortDir, limit, offset int) (string, []any) {
	query := `SELECT id, path, alias, created_at, updated_at, status, pid,
		primary_metric_name, primary_metric_mode, primary_metric_best,
		primary_metric_step, deleted_at FROM runs WHERE 1=1`
	var args []any

	if f.PathPrefix != "" {
		query += " AND path LIKE ?"
		args = append(args, f.PathPrefix+"%")
	}
	if len(f.StatusIn) > 0 {
		placeholders := make([]string, len(f.StatusIn))
		for i, s := range f.StatusIn {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " AND status IN (" + strings.Join(placeholders, ",") + ")"
	}
	if f.Deleted == nil || !*f.Deleted {
		query += " AND deleted_at IS NULL"
	} else {
		query += " AND deleted_at IS NOT NULL"
	}

	orderCol := "created_at"
	if sortBy == SortPrimaryMetric {
		orderCol = "primary_metric_best"
	}
	orderDir := "DESC"
	if dir == SortAsc {
		orderDir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s LIMIT ? OFFSET ?", orderCol, orderDir, orderDir)
	args = append(args, limit, offset)

	return query, args
}

func scanRunSummary(rows *sql.Rows) (RunSummary, error) {
	var rs RunSummary
	var alias, pmName, pmMode, deletedAt sql.NullString
	var pid sql.NullInt64
	var pmBest sql.NullFloat64
	var pmStep sql.NullInt64
	var createdAt, updatedAt string
	var status string

	if err := rows.Scan(&rs.ID, &rs.Path, &alias, &createdAt, &updatedAt, &status, &pid,
		&pmName, &pmMode, &pmBest, &pmStep, &deletedAt); err != nil {
		return rs, err
	}

	rs.Status = runstore.Status(status)
	rs.Alias = alias.String
	rs.PID = int(pid.Int64)
	rs.PrimaryMetricName = pmName.String
	rs.PrimaryMetricMode = runstore.MetricMode(pmMode.String)
	rs.PrimaryMetricBest = pmBest.Float64
	if pmStep.Valid {
		v := pmStep.Int64
		rs.PrimaryMetricStep = &v
	}
	if t, err := time.Parse(rfc3339, createdAt); err == nil {
		rs.CreatedAt = t
	}
	if t, err := time.Parse(rfc3339, updatedAt); err == nil {
		rs.UpdatedAt = t
	}
	if deletedAt.Valid {
		if t, err := time.Parse(rfc3339, deletedAt.String); err == nil {
			rs.DeletedAt = &t
		}
	}
	return rs, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(b))
}

// PathTree aggregates every non-deleted run's path into a hierarchical
// tree, one node per path segment, with per-node run counts and a
// running-descendant flag.
func (idx *Index) PathTree(ctx context.Context) (*PathNode, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT path, status FROM runs WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("path_tree query: %w", err)
	}
	defer rows.Close()

	root := &PathNode{Name: "", FullPath: ""}
	byPath := map[string]*PathNode{"": root}

	for rows.Next() {
		var path, status string
		if err := rows.Scan(&path, &status); err != nil {
			return nil, err
		}
		running := runstore.Status(status) == runstore.StatusRunning

		segments := strings.Split(strings.Trim(path, "/"), "/")
		cur := root
		full := ""
		for _, seg := range segments {
			if seg == "" {
				continue
			}
			full = strings.TrimPrefix(full+"/"+seg, "/")
			node, ok := byPath[full]
			if !ok {
				node = &PathNode{Name: seg, FullPath: full}
				byPath[full] = node
				cur.Children = append(cur.Children, node)
			}
			if running {
				node.HasRunningChild = true
			}
			cur = node
		}
		cur.RunCount++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortPathTree(root)
	return root, nil
}

func sortPathTree(n *PathNode) {
	sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Name < n.Children[j].Name })
	for _, c := range n.Children {
		sortPathTree(c)
	}
}

// GetRun returns a run's detailed view, read directly from its
// meta.json and status.json rather than the index projection.
func (idx *Index) GetRun(id string) (*RunDetail, error) {
	meta, err := idx.store.ReadMeta(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run", ID: id}
		}
		return nil, fmt.Errorf("read meta.json: %w", err)
	}
	status, err := idx.store.ReadStatus(id)
	if err != nil {
		return nil, fmt.Errorf("read status.json: %w", err)
	}
	return &RunDetail{Meta: meta, Status: status}, nil
}

// GetMetrics returns run's events as a table of rows, one column per
// metric name observed, optionally downsampled to downsampleTarget
// points per series via pkg/lttb. xAxis selects whether rows are keyed
// by step or by wall-clock time.
func (idx *Index) GetMetrics(runID string, xAxis XAxis, downsampleTarget int) (*MetricsTable, error) {
	events, err := idx.loadEvents(runID)
	if err != nil {
		return nil, err
	}

	columns := map[string]bool{}
	rows := make([]MetricRow, 0, len(events))
	for _, ev := range events {
		x := float64(ev.Timestamp.UnixNano()) / 1e9
		if xAxis == XAxisStep && ev.Step != nil {
			x = float64(*ev.Step)
		}
		row := MetricRow{X: x, Step: ev.Step, Values: ev.Fields}
		rows = append(rows, row)
		for name := range ev.Fields {
			columns[name] = true
		}
	}

	total := len(rows)
	sampled := total
	if downsampleTarget > 0 && downsampleTarget < total {
		rows = downsampleRows(rows, downsampleTarget)
		sampled = len(rows)
	}

	table := &MetricsTable{Rows: rows, Total: total, Sampled: sampled}
	table.Columns = make([]string, 0, len(columns))
	for name := range columns {
		table.Columns = append(table.Columns, name)
	}
	sort.Strings(table.Columns)

	if total > 0 {
		table.LastStep = lastStepOf(events)
	}
	return table, nil
}

func lastStepOf(events []runstore.Event) *int64 {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Step != nil {
			return events[i].Step
		}
	}
	return nil
}

// downsampleRows applies LTTB independently to each metric column's
// series, using the row's position as x, then keeps every row that any
// column's selection picked; a kept row carries all of its values.
func downsampleRows(rows []MetricRow, target int) []MetricRow {
	byName := map[string][]lttb.Point{}
	for i, r := range rows {
		for name, v := range r.Values {
			byName[name] = append(byName[name], lttb.Point{X: float64(i), Y: v})
		}
	}

	keepIdx := map[int]bool{}
	for _, pts := range byName {
		for _, p := range lttb.Downsample(pts, target) {
			keepIdx[int(p.X)] = true
		}
	}

	out := make([]MetricRow, 0, len(keepIdx))
	for i, r := range rows {
		if keepIdx[i] {
			out = append(out, r)
		}
	}
	return out
}

// GetLogs returns a run's logs.txt content, optionally sliced to r.
func (idx *Index) GetLogs(runID string, r *ByteRange) ([]byte, error) {
	path := filepath.Join(idx.store.RunDir(runID), "logs.txt")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run logs", ID: runID}
		}
		return nil, err
	}
	defer f.Close()

	if r == nil {
		return os.ReadFile(path)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	end := info.Size()
	if r.End != nil && *r.End < end {
		end = *r.End + 1
	}
	if r.Start >= end {
		return []byte{}, nil
	}
	if _, err := f.Seek(r.Start, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, end-r.Start)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}
