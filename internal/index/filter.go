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
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	runicornerrors "github.com/Skydoge-zjm/runicorn/pkg/errors"
)

// filterEvaluator compiles and caches list_runs' filter_expr programs.
// Expressions run only over the already-SQL-narrowed candidate set, on
// a plain map built from each RunSummary — they never touch SQL.
type filterEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newFilterEvaluator() *filterEvaluator {
	return &filterEvaluator{cache: make(map[string]*vm.Program)}
}

func (f *filterEvaluator) matches(expression string, run RunSummary) (bool, error) {
	if expression == "" {
		return true, nil
	}

	prog, err := f.compile(expression)
	if err != nil {
		return false, &runicornerrors.ValidationError{
			Field:      "filter_expr",
			Message:    fmt.Sprintf("failed to compile: %s", err.Error()),
			Suggestion: "check expression syntax, e.g. `status == \"finished\" && primary_metric_best > 0.9`",
		}
	}

	env := map[string]any{
		"id":                  run.ID,
		"path":                run.Path,
		"alias":               run.Alias,
		"status":              string(run.Status),
		"primary_metric_name": run.PrimaryMetricName,
		"primary_metric_best": run.PrimaryMetricBest,
		"deleted":             run.DeletedAt != nil,
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return false, &runicornerrors.ValidationError{
			Field:      "filter_expr",
			Message:    fmt.Sprintf("evaluation failed: %s", err.Error()),
			Suggestion: "verify referenced fields exist on a run summary",
		}
	}

	ok, isBool := result.(bool)
	if !isBool {
		return false, &runicornerrors.ValidationError{
			Field:   "filter_expr",
			Message: fmt.Sprintf("must evaluate to a boolean, got %T", result),
		}
	}
	return ok, nil
}

func (f *filterEvaluator) compile(expression string) (*vm.Program, error) {
	f.mu.RLock()
	if prog, ok := f.cache[expression]; ok {
		f.mu.RUnlock()
		return prog, nil
	}
	f.mu.RUnlock()

	env := map[string]any{
		"id": "", "path": "", "alias": "", "status": "",
		"primary_metric_name": "", "primary_metric_best": 0.0, "deleted": false,
	}
	prog, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[expression] = prog
	f.mu.Unlock()
	return prog, nil
}
