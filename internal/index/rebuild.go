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
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

// Rebuild scans every run under store and re-populates the index from
// scratch. It is the heal half of the dual-write contract: serve calls
// it on every start (which covers an index that is missing or older
// than the run directories), import calls it after extracting, and it
// is safe to call at any time since it is idempotent (every row is an
// upsert).
func (idx *Index) Rebuild(ctx context.Context) error {
	ids, err := idx.store.ListRunIDs()
	if err != nil {
		return fmt.Errorf("list run directories: %w", err)
	}

	for _, id := range ids {
		if err := idx.rebuildOne(ctx, id); err != nil {
			idx.log.Warn("skipping run during index rebuild", slog.String("run_id", id), slog.Any("error", err))
		}
	}
	return nil
}

func (idx *Index) rebuildOne(ctx context.Context, id string) error {
	meta, err := idx.store.ReadMeta(id)
	if err != nil {
		return fmt.Errorf("read meta.json: %w", err)
	}
	status, err := idx.store.ReadStatus(id)
	if err != nil {
		return fmt.Errorf("read status.json: %w", err)
	}

	// Clear any stale metric rows before replaying events.jsonl in full,
	// so a rebuild never double-counts a previously-indexed run.
	if err := idx.DeleteRun(ctx, id); err != nil {
		return err
	}
	if err := idx.UpsertRun(ctx, meta, status); err != nil {
		return err
	}

	eventsPath := filepath.Join(idx.store.RunDir(id), "events.jsonl")
	return runstore.ReadEventsFile(eventsPath, func(ev runstore.Event) error {
		return idx.InsertMetricEvent(ctx, id, ev)
	})
}
