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

// Package assets implements deduplicated, content-addressed storage of
// file contents (blobs, keyed by SHA-256 digest), workspace snapshots
// governed by .rnignore-style rules, and manifest-based restore. Blobs
// live under <root>/blobs/<hex[0:2]>/<hex[2:4]>/<hex>; snapshot
// manifests live under <root>/manifests/<manifest-id>.json. A run that
// takes a snapshot additionally stores assets/manifest.json inside its
// own run directory, linking the run to the snapshot id.
package assets
