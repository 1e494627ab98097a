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

package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Skydoge-zjm/runicorn/internal/index"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "list_runs",
		Description: "List experiment runs, optionally filtered by path prefix, status, or an expr-lang filter expression evaluated against each run's summary.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path_prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only runs whose path starts with this prefix",
				},
				"filter_expr": map[string]interface{}{
					"type":        "string",
					"description": `expr-lang expression, e.g. status == "running" && path startsWith "cv/"`,
				},
				"page_size": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum runs to return (default 50)",
				},
				"cursor": map[string]interface{}{
					"type":        "string",
					"description": "Opaque pagination cursor from a previous call's response",
				},
			},
		},
	}, s.handleListRuns)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_run",
		Description: "Fetch a single run's meta.json and status.json content by run id.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run id, as returned by list_runs",
				},
			},
			Required: []string{"run_id"},
		},
	}, s.handleGetRun)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_metrics",
		Description: "Fetch a run's logged metric series, downsampled for display, against a step or wall-clock-time x-axis.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run id, as returned by list_runs",
				},
				"x_axis": map[string]interface{}{
					"type":        "string",
					"description": `"step" or "time" (default "step")`,
				},
				"downsample_target": map[string]interface{}{
					"type":        "integer",
					"description": "Target point count after downsampling (default 500)",
				},
			},
			Required: []string{"run_id"},
		},
	}, s.handleGetMetrics)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "get_logs",
		Description: "Fetch a byte range of a run's raw log stream. Omit start/end to fetch the whole file.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"run_id": map[string]interface{}{
					"type":        "string",
					"description": "Run id, as returned by list_runs",
				},
				"start": map[string]interface{}{
					"type":        "integer",
					"description": "Inclusive starting byte offset (default 0)",
				},
				"end": map[string]interface{}{
					"type":        "integer",
					"description": "Inclusive ending byte offset (default: end of file)",
				},
			},
			Required: []string{"run_id"},
		},
	}, s.handleGetLogs)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allow() {
		return errorResult("rate limit exceeded, try again shortly"), nil
	}

	pageSize := request.GetInt("page_size", 50)

	result, err := s.idx.ListRuns(ctx, index.ListRunsParams{
		Filter: index.ListFilter{
			PathPrefix: request.GetString("path_prefix", ""),
			FilterExpr: request.GetString("filter_expr", ""),
		},
		SortBy:   index.SortCreatedAt,
		SortDir:  index.SortDesc,
		PageSize: pageSize,
		Cursor:   request.GetString("cursor", ""),
	})
	if err != nil {
		return errorResult("list_runs: %v", err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allow() {
		return errorResult("rate limit exceeded, try again shortly"), nil
	}

	runID, err := request.RequireString("run_id")
	if err != nil {
		return errorResult("missing or invalid 'run_id' argument"), nil
	}

	detail, err := s.idx.GetRun(runID)
	if err != nil {
		return errorResult("get_run: %v", err), nil
	}
	return jsonResult(detail)
}

func (s *Server) handleGetMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allow() {
		return errorResult("rate limit exceeded, try again shortly"), nil
	}

	runID, err := request.RequireString("run_id")
	if err != nil {
		return errorResult("missing or invalid 'run_id' argument"), nil
	}

	xAxis := index.XAxisStep
	if v := request.GetString("x_axis", ""); v == string(index.XAxisTime) {
		xAxis = index.XAxisTime
	}

	downsample := request.GetInt("downsample_target", 500)

	table, err := s.idx.GetMetrics(runID, xAxis, downsample)
	if err != nil {
		return errorResult("get_metrics: %v", err), nil
	}
	return jsonResult(table)
}

func (s *Server) handleGetLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allow() {
		return errorResult("rate limit exceeded, try again shortly"), nil
	}

	runID, err := request.RequireString("run_id")
	if err != nil {
		return errorResult("missing or invalid 'run_id' argument"), nil
	}

	var byteRange *index.ByteRange
	args := request.GetArguments()
	_, hasStart := args["start"]
	_, hasEnd := args["end"]
	if hasStart || hasEnd {
		br := index.ByteRange{Start: int64(request.GetInt("start", 0))}
		if hasEnd {
			n := int64(request.GetInt("end", 0))
			br.End = &n
		}
		byteRange = &br
	}

	data, err := s.idx.GetLogs(runID, byteRange)
	if err != nil {
		return errorResult("get_logs: %v", err), nil
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(data))}}, nil
}
