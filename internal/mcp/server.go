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

// Package mcp implements a read-only MCP server exposing the index's
// query surface as tools, so an AI coding assistant can inspect
// experiment data without hitting the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/Skydoge-zjm/runicorn/internal/index"
)

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Server wraps the MCP server and exposes the index as a set of
// read-only tools. Unlike an HTTP listener it never accepts external
// connections — it speaks stdio to a single co-process assistant — so
// rate limiting here guards against a runaway client looping tool
// calls, not against multiple untrusted callers.
type Server struct {
	mcpServer *server.MCPServer
	idx       *index.Index
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server name advertised to MCP clients.
	Name string
	// Version is the runicorn version string.
	Version string
	// Index is the opened, read-only query index every tool queries.
	Index *index.Index
	// Logger writes to stderr; stdout is reserved for the stdio transport.
	Logger *slog.Logger
}

// NewServer builds an MCP server with list_runs/get_run/get_metrics/
// get_logs registered as tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Index == nil {
		return nil, fmt.Errorf("mcp: Index is required")
	}
	if cfg.Name == "" {
		cfg.Name = "runicorn"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version),
		idx:       cfg.Index,
		limiter:   rate.NewLimiter(rate.Limit(20.0/60.0), 20),
		logger:    cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves the MCP protocol over stdio until the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting runicorn MCP server")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...))
}

// jsonResult renders v as indented JSON text content — every tool here
// returns structured data, so the wire format is uniform across tools.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := marshalIndent(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
	}, nil
}

func (s *Server) allow() bool {
	return s.limiter.Allow()
}
