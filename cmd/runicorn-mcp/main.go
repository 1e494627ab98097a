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

// Command runicorn-mcp is a read-only MCP server over stdio, exposing
// list_runs/get_run/get_metrics/get_logs so AI coding assistants can
// query experiment data without a running "runicorn serve" process or
// direct HTTP access.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Skydoge-zjm/runicorn/internal/config"
	"github.com/Skydoge-zjm/runicorn/internal/index"
	"github.com/Skydoge-zjm/runicorn/internal/log"
	internalmcp "github.com/Skydoge-zjm/runicorn/internal/mcp"
	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "runicorn-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	logger := log.New(log.DefaultConfig())

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := runstore.New(cfg.DataRoot, logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}

	idx, err := index.Open(index.Config{
		Path:             cfg.DataRoot + "/index.db",
		MetricsCacheSize: cfg.MetricsCacheSize,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	srv, err := internalmcp.NewServer(internalmcp.Config{
		Name:    "runicorn",
		Version: version,
		Index:   idx,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build mcp server: %w", err)
	}

	return srv.Run(context.Background())
}
