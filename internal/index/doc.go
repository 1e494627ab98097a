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

// Package index maintains a SQLite projection of the run storage
// engine for query performance. The index is a cache, not a source of
// truth: every run's files under runs/<id>/ remain authoritative, and
// a missing or stale index is rebuilt by scanning them. Writers
// dual-write — the file first, then the index row — so a crash between
// the two leaves the index merely behind, never wrong; Rebuild heals
// it on the next cold start or on demand.
package index
