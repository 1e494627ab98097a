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
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

// Index is a SQLite-backed derived projection of run metadata and
// metric events. It holds a reference to the run storage engine itself
// for the requests that need authoritative file content (get_run's
// full status/meta view, get_logs, and the metrics cache refill path).
type Index struct {
	db    *sql.DB
	store *runstore.Store
	log   *slog.Logger

	filter  *filterEvaluator
	metrics *metricsCache
}

// Config configures Open.
type Config struct {
	// Path is the database file path, e.g. "<data-root>/index.db".
	Path string
	// MetricsCacheSize bounds the process-wide metrics LRU (see cache.go).
	// Zero selects the default of 64 runs.
	MetricsCacheSize int
}

// Open opens (creating if absent) the index database at cfg.Path,
// configures pragmas, and runs migrations. store is the run storage
// engine this index is derived from.
func Open(cfg Config, store *runstore.Store, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY
	// under concurrent writers and keeps the dual-write path simple.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index db: %w", err)
	}

	capacity := cfg.MetricsCacheSize
	if capacity <= 0 {
		capacity = defaultMetricsCacheSize
	}

	idx := &Index{
		db:      db,
		store:   store,
		log:     log,
		filter:  newFilterEvaluator(),
		metrics: newMetricsCache(capacity),
	}
	if err := idx.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure pragmas: %w", err)
	}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return idx, nil
}

func (idx *Index) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := idx.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

func (idx *Index) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			alias TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER,
			primary_metric_name TEXT,
			primary_metric_mode TEXT,
			primary_metric_best REAL,
			primary_metric_step INTEGER,
			deleted_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_path ON runs(path)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_deleted_at ON runs(deleted_at)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			name TEXT NOT NULL,
			value REAL NOT NULL,
			step INTEGER,
			stage TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_run_name_step ON metrics(run_id, name, step)`,
	}
	for _, m := range migrations {
		if _, err := idx.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Store returns the run storage engine this index is derived from.
// Handlers that need a run's directory directly (export, archive) go
// through this rather than duplicating a *runstore.Store reference in
// their own config.
func (idx *Index) Store() *runstore.Store {
	return idx.store
}
