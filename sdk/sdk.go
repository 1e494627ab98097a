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

// Package sdk is the writer API training scripts import directly. It is
// a thin wrapper over internal/runstore: Init returns an explicit *Run
// for callers that want to pass a handle around, and DefaultRun gives
// scripts that want a single ambient run a package-level convenience
// built strictly on top of the explicit API — there is no global
// mutable state here beyond the one *Run DefaultRun caches.
package sdk

import (
	"fmt"
	"os"
	"sync"

	"github.com/Skydoge-zjm/runicorn/internal/config"
	"github.com/Skydoge-zjm/runicorn/internal/runstore"
)

// Options configures Init.
type Options struct {
	// Path groups the run in the tree "run list" browses (e.g. "cv/resnet50").
	Path string
	// Alias is an optional human-friendly label shown alongside the run id.
	Alias string
	// DataRoot overrides the configured data root. Empty uses config.Load's default.
	DataRoot string
}

// Run is the writer handle a script holds for the duration of one
// experiment run. It wraps a runstore.Handle; method names mirror the
// teacher's own "current run" verbs rather than runstore's lower-level
// ones.
type Run struct {
	h *runstore.Handle
}

// Init starts a new run and returns its Run handle. Callers are
// responsible for calling Finish when the run ends; an unfinished run
// is picked up by the stale-run sweep once its owning process exits.
func Init(opts Options) (*Run, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sdk: Path is required")
	}

	dataRoot := opts.DataRoot
	if dataRoot == "" {
		cfg, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("sdk: load config: %w", err)
		}
		dataRoot = cfg.DataRoot
	}

	store, err := runstore.New(dataRoot, nil)
	if err != nil {
		return nil, fmt.Errorf("sdk: open store: %w", err)
	}

	host, _ := os.Hostname()
	h, err := store.CreateRun(opts.Path, runstore.CreateOptions{Alias: opts.Alias, Host: host})
	if err != nil {
		return nil, fmt.Errorf("sdk: create run: %w", err)
	}
	return &Run{h: h}, nil
}

// ID returns the run's identifier.
func (r *Run) ID() string { return r.h.ID() }

// Log appends one metric event at the given step (nil for step-less
// events) and stage label.
func (r *Run) Log(step *int64, stage string, fields map[string]float64) error {
	return r.h.AppendEvent(step, stage, fields)
}

// LogImage stores an image under the run's media directory, returning
// its path relative to the run directory.
func (r *Run) LogImage(key string, data []byte, step *int64, ext string) (string, error) {
	return r.h.LogImage(key, data, step, ext)
}

// SetPrimaryMetric designates which metric name "run list" and the
// query server's summary view treat as the run's headline number, and
// whether a higher or lower value is better.
func (r *Run) SetPrimaryMetric(name string, mode runstore.MetricMode) error {
	return r.h.SetPrimaryMetric(name, mode)
}

// Summary merges the given fields into the run's free-form summary.
func (r *Run) Summary(update map[string]any) error {
	return r.h.Summary(update)
}

// Write appends raw bytes to the run's log stream, satisfying io.Writer
// so a script can point a logger or os.Stdout tee at a Run directly.
func (r *Run) Write(p []byte) (int, error) {
	if err := r.h.AppendLog(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finish marks the run with a terminal status. Callers should defer
// this immediately after Init to cover the panic/early-return case,
// recovering and re-finishing with StatusFailed if needed.
func (r *Run) Finish(status runstore.Status) error {
	return r.h.Finish(status)
}

var (
	defaultMu  sync.Mutex
	defaultRun *Run
)

// DefaultRun returns the process-wide ambient run, starting one with
// opts the first time it's called and reusing it on every subsequent
// call. It exists for short scripts that don't want to thread a *Run
// through their own call stack; anything that needs more than one run
// per process should call Init directly instead.
func DefaultRun(opts Options) (*Run, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultRun != nil {
		return defaultRun, nil
	}
	r, err := Init(opts)
	if err != nil {
		return nil, err
	}
	defaultRun = r
	return r, nil
}
