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
	"time"

	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

// UpsertRun writes or replaces a run's row. Called by writers after the
// file write has already succeeded — the index is always the second
// half of the dual-write, never the first.
func (idx *Index) UpsertRun(ctx context.Context, meta runstore.Meta, status runstore.StatusFile) error {
	query := `
		INSERT INTO runs (id, path, alias, created_at, updated_at, status, pid,
			primary_metric_name, primary_metric_mode, primary_metric_best,
			primary_metric_step, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path=excluded.path, alias=excluded.alias, updated_at=excluded.updated_at,
			status=excluded.status, pid=excluded.pid,
			primary_metric_name=excluded.primary_metric_name,
			primary_metric_mode=excluded.primary_metric_mode,
			primary_metric_best=excluded.primary_metric_best,
			primary_metric_step=excluded.primary_metric_step,
			deleted_at=excluded.deleted_at
	`
	pm := status.PrimaryMetric
	_, err := idx.db.ExecContext(ctx, query,
		meta.ID, meta.Path, nullString(meta.Alias), meta.CreatedAt.Format(rfc3339),
		status.UpdatedAt.Format(rfc3339), string(status.Status), nullInt(status.PID),
		nullString(pm.Name), nullString(string(pm.Mode)), nullFloatPtr(pm.Best, pm.HasBest),
		nullInt64Ptr(pm.Step), nullTimePtr(status.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", meta.ID, err)
	}
	return nil
}

// DeleteRun removes a run's row and metric rows (metrics cascades via
// the foreign key). Used when a run directory is permanently removed,
// not for the soft-delete path (which goes through UpsertRun with
// DeletedAt set).
func (idx *Index) DeleteRun(ctx context.Context, id string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return nil
}

// RunIDsByPrefix returns every non-deleted run id whose path equals
// prefix or is nested under it, used by path-scoped soft-delete and
// export.
func (idx *Index) RunIDsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT id FROM runs WHERE deleted_at IS NULL AND (path = ? OR path LIKE ?) ORDER BY id`,
		prefix, prefix+"/%",
	)
	if err != nil {
		return nil, fmt.Errorf("run ids by prefix: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SoftDeleteByPrefix marks every run under prefix as deleted: the
// run's status.json is updated first (the authoritative copy), then
// the index row is re-projected from it, mirroring the storage
// engine's file-first dual-write order. Returns the number of runs
// affected.
func (idx *Index) SoftDeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ids, err := idx.RunIDsByPrefix(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		status, err := idx.store.SoftDelete(id)
		if err != nil {
			return 0, fmt.Errorf("soft-delete run %s: %w", id, err)
		}
		meta, err := idx.store.ReadMeta(id)
		if err != nil {
			return 0, fmt.Errorf("read meta.json for run %s: %w", id, err)
		}
		if err := idx.UpsertRun(ctx, meta, status); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// InsertMetricEvent records one event's fields as metric rows.
func (idx *Index) InsertMetricEvent(ctx context.Context, runID string, ev runstore.Event) error {
	if len(ev.Fields) == 0 {
		return nil
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metrics (run_id, ts, name, value, step, stage)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for name, value := range ev.Fields {
		if _, err := stmt.ExecContext(ctx, runID, ev.Timestamp.Format(rfc3339), name, value,
			nullInt64Ptr(ev.Step), nullString(ev.Stage)); err != nil {
			return fmt.Errorf("insert metric %s for run %s: %w", name, runID, err)
		}
	}
	return tx.Commit()
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullInt64Ptr(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloatPtr(v float64, valid bool) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: valid}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(rfc3339), Valid: true}
}
