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

// Package runstore is the durable, append-only run storage engine.
//
// Each run owns a directory under the data root:
//
//	<root>/runs/<run_id>/
//	  meta.json        path, alias, created_at, host info
//	  status.json      status, pid, updated_at, primary_metric
//	  summary.json      free-form summary fields merged over time
//	  events.jsonl      one JSON object per line, metric events
//	  logs.txt          UTF-8 text log, may contain ANSI
//	  media/<key>       images and other logged files
//	  .lock             cross-process advisory lock
//
// A Store resolves run directories under a configured data root. A
// Handle is the explicit, per-run writer API returned by CreateRun; it
// replaces any implicit "currently active run" global, so concurrent
// callers in the same process never fight over ambient state. One
// writer process per run is the expected mode, but Handle serializes
// its own in-process callers with a mutex and cooperates with other
// processes through an advisory lock on .lock.
package runstore
