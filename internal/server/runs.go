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

package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/index"
	"github.com/Skydoge-zjm/runicorn/internal/runstore"
	"github.com/Skydoge-zjm/runicorn/internal/server/httputil"
)

// handleListRuns serves GET /api/runs. Pagination is cursor-based
// (list_runs' own contract): a client passes back the "cursor" value
// from the previous response's body to fetch the next page. A page
// that comes back shorter than page_size does not by itself mean the
// list is exhausted — filter_expr can shrink a page below a full SQL
// match — so callers must check for a non-empty cursor, not page length.
func (r *Router) handleListRuns(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()

	filter := index.ListFilter{
		PathPrefix: q.Get("path_prefix"),
		FilterExpr: q.Get("filter_expr"),
	}
	if statusParam := q.Get("status"); statusParam != "" {
		for _, s := range strings.Split(statusParam, ",") {
			filter.StatusIn = append(filter.StatusIn, runstore.Status(strings.TrimSpace(s)))
		}
	}
	if q.Get("deleted") != "" {
		v := q.Get("deleted") == "true"
		filter.Deleted = &v
	}

	sortBy := index.SortCreatedAt
	if q.Get("sort_by") == "primary_metric" {
		sortBy = index.SortPrimaryMetric
	}
	sortDir := index.SortDesc
	if q.Get("sort_dir") == "asc" {
		sortDir = index.SortAsc
	}

	pageSize := 0
	if v := q.Get("page_size"); v != "" {
		pageSize, _ = strconv.Atoi(v)
	} else if v := q.Get("per_page"); v != "" {
		pageSize, _ = strconv.Atoi(v)
	}

	result, err := r.cfg.Index.ListRuns(req.Context(), index.ListRunsParams{
		Filter:   filter,
		SortBy:   sortBy,
		SortDir:  sortDir,
		PageSize: pageSize,
		Cursor:   q.Get("cursor"),
	})
	if err != nil {
		writeAPIError(w, req, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"items":    result.Runs,
		"cursor":   result.Cursor,
		"has_more": result.Cursor != "",
	})
}

func (r *Router) handleGetRun(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	detail, err := r.cfg.Index.GetRun(id)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (r *Router) handleGetMetrics(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	q := req.URL.Query()

	xAxis := index.XAxisStep
	if q.Get("x") == "time" {
		xAxis = index.XAxisTime
	}
	downsample := 0
	if v := q.Get("downsample"); v != "" {
		downsample, _ = strconv.Atoi(v)
	}

	table, err := r.cfg.Index.GetMetrics(id, xAxis, downsample)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}

	w.Header().Set("X-Row-Count", strconv.Itoa(len(table.Rows)))
	w.Header().Set("X-Total-Count", strconv.Itoa(table.Total))
	if table.LastStep != nil {
		w.Header().Set("X-Last-Step", strconv.FormatInt(*table.LastStep, 10))
	}
	httputil.WriteJSON(w, http.StatusOK, table)
}

func (r *Router) handleGetLogs(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	q := req.URL.Query()

	var byteRange *index.ByteRange
	if from := q.Get("from"); from != "" {
		start, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			writeAPIError(w, req, apierr.NewValidationError("from", "must be an integer byte offset"))
			return
		}
		byteRange = &index.ByteRange{Start: start}
		if to := q.Get("to"); to != "" {
			end, err := strconv.ParseInt(to, 10, 64)
			if err != nil {
				writeAPIError(w, req, apierr.NewValidationError("to", "must be an integer byte offset"))
				return
			}
			byteRange.End = &end
		}
	}

	data, err := r.cfg.Index.GetLogs(id, byteRange)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}
