package runstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SweepConfig controls the background stale-run detector.
type SweepConfig struct {
	// Interval is how often the sweep scans running runs. Default: 30s.
	Interval time.Duration
	// IdleThreshold is how long status.json may go unrefreshed before a
	// running run is considered stale. Default: 120s.
	IdleThreshold time.Duration
}

// RunSweep blocks, periodically scanning <root>/runs for runs with
// status.json.status == running whose process is no longer alive or
// whose UpdatedAt has gone stale, flipping them to StatusStale. It
// returns when ctx is canceled. A fsnotify watcher on the runs
// directory wakes the sweep promptly on writes in addition to its
// fixed interval; on platforms or filesystems where the watcher cannot
// be established, the sweep falls back to interval-only polling.
func (s *Store) RunSweep(ctx context.Context, cfg SweepConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 120 * time.Second
	}

	runsDir := filepath.Join(s.root, "runs")
	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		if err := watcher.Add(runsDir); err != nil {
			s.log.Warn("stale sweep: falling back to polling, could not watch runs directory", slog.Any("error", err))
			watcher.Close()
			watcher = nil
		}
		defer func() {
			if watcher != nil {
				watcher.Close()
			}
		}()
	} else {
		s.log.Warn("stale sweep: falling back to polling, fsnotify unavailable", slog.Any("error", watchErr))
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	s.sweepOnce(cfg)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(cfg)
		case _, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			s.sweepOnce(cfg)
		}
	}
}

// watcherEvents returns w.Events, or a nil channel (which blocks
// forever in a select) when w is nil so RunSweep's select works
// uniformly whether or not a watcher was established.
func watcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func (s *Store) sweepOnce(cfg SweepConfig) {
	runsDir := filepath.Join(s.root, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		s.log.Warn("stale sweep: list runs directory", slog.Any("error", err))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		statusPath := filepath.Join(runsDir, id, "status.json")

		data, err := os.ReadFile(statusPath)
		if err != nil {
			continue // run directory mid-creation or already removed
		}
		var status StatusFile
		if err := json.Unmarshal(data, &status); err != nil {
			continue
		}
		if status.Status != StatusRunning {
			continue
		}

		idle := now.Sub(status.UpdatedAt)
		alive := status.PID > 0 && processAlive(status.PID)
		if alive && idle < cfg.IdleThreshold {
			continue
		}

		status.Status = StatusStale
		status.UpdatedAt = now
		if err := writeJSONAtomic(statusPath, status); err != nil {
			s.log.Warn("stale sweep: mark run stale", slog.String("run_id", id), slog.Any("error", err))
			continue
		}
		s.log.Info("run marked stale", slog.String("run_id", id), slog.Duration("idle", idle), slog.Bool("pid_alive", alive))
	}
}

// processAlive reports whether pid refers to a live process. On Unix,
// signal 0 performs only existence and permission checks.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
