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
	"time"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

// RunSummary is one row of a list_runs/path_tree response.
type RunSummary struct {
	ID                string              `json:"id"`
	Path              string              `json:"path"`
	Alias             string              `json:"alias,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Status            runstore.Status     `json:"status"`
	PID               int                 `json:"pid,omitempty"`
	PrimaryMetricName string              `json:"primary_metric_name,omitempty"`
	PrimaryMetricMode runstore.MetricMode `json:"primary_metric_mode,omitempty"`
	PrimaryMetricBest float64             `json:"primary_metric_best,omitempty"`
	PrimaryMetricStep *int64              `json:"primary_metric_step,omitempty"`
	DeletedAt         *time.Time          `json:"deleted_at,omitempty"`
}

// ListFilter narrows list_runs' candidate set via cheap SQL predicates.
// FilterExpr, when non-empty, is applied in-process afterward.
type ListFilter struct {
	PathPrefix string
	StatusIn   []runstore.Status
	Deleted    *bool
	FilterExpr string
}

// SortField selects list_runs' ordering column.
type SortField string

const (
	SortCreatedAt     SortField = "created_at"
	SortPrimaryMetric SortField = "primary_metric"
)

// SortDir is ascending or descending.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ListRunsParams are list_runs' full parameters.
type ListRunsParams struct {
	Filter   ListFilter
	SortBy   SortField
	SortDir  SortDir
	PageSize int
	Cursor   string
}

// ListRunsResult is one page of list_runs.
type ListRunsResult struct {
	Runs   []RunSummary
	Cursor string // opaque; empty means no further pages
}

// PathNode is one node of path_tree's hierarchical aggregation.
type PathNode struct {
	Name            string      `json:"name"`
	FullPath        string      `json:"full_path"`
	RunCount        int         `json:"run_count"`
	HasRunningChild bool        `json:"has_running_child"`
	Children        []*PathNode `json:"children,omitempty"`
}

// MetricRow is one (x, name->value) observation in a get_metrics table.
type MetricRow struct {
	X      float64            `json:"x"`
	Step   *int64             `json:"step,omitempty"`
	Values map[string]float64 `json:"values"`
}

// XAxis selects get_metrics' independent variable.
type XAxis string

const (
	XAxisStep XAxis = "step"
	XAxisTime XAxis = "time"
)

// MetricsTable is get_metrics' response body.
type MetricsTable struct {
	Columns  []string    `json:"columns"`
	Rows     []MetricRow `json:"rows"`
	Total    int         `json:"total"`
	Sampled  int         `json:"sampled"`
	LastStep *int64      `json:"last_step,omitempty"`
}

// RunDetail is get_run's response: the run's full status.json and
// meta.json content, read from the authoritative files rather than
// the (lossier) index row.
type RunDetail struct {
	Meta   runstore.Meta       `json:"meta"`
	Status runstore.StatusFile `json:"status"`
}

// ByteRange requests a slice of get_logs' output. Both bounds are
// inclusive byte offsets; a nil End means "to end of file".
type ByteRange struct {
	Start int64
	End   *int64
}
