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

// Package ignore compiles gitignore-compatible pattern lists (.rnignore
// files) for the assets engine's workspace snapshot traversal. Patterns
// support "!" negation, directory-only trailing "/", "**", and leading
// "/" root anchoring. Later patterns override earlier ones on the same
// path, matching git's own precedence rule.
package ignore
