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

package server

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// handleGetBlob serves GET /api/assets/blob/{digest}. Content is
// immutable under its digest, so responses are cacheable forever.
func (r *Router) handleGetBlob(w http.ResponseWriter, req *http.Request) {
	digest := req.PathValue("digest")
	if !digestPattern.MatchString(digest) {
		writeAPIError(w, req, apierr.NewValidationError("digest", "must be 64 lowercase hex characters"))
		return
	}

	path, err := r.cfg.Assets.GetBlobPath(digest)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", digest))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, req, path)
}
