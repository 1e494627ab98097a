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
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/index"
	"github.com/Skydoge-zjm/runicorn/internal/server/httputil"
)

// pathEntry is one row of the flat GET /api/paths response.
type pathEntry struct {
	Path            string `json:"path"`
	RunCount        int    `json:"run_count,omitempty"`
	HasRunningChild bool   `json:"has_running_child,omitempty"`
}

// handleListPaths serves GET /api/paths?include_stats=bool — a flat
// list derived by walking the same hierarchical tree path_tree builds,
// so the two endpoints never disagree about which paths exist.
func (r *Router) handleListPaths(w http.ResponseWriter, req *http.Request) {
	includeStats := req.URL.Query().Get("include_stats") == "true"

	root, err := r.cfg.Index.PathTree(req.Context())
	if err != nil {
		writeAPIError(w, req, err)
		return
	}

	var entries []pathEntry
	flattenPathTree(root, &entries, includeStats)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func flattenPathTree(n *index.PathNode, out *[]pathEntry, includeStats bool) {
	if n.FullPath != "" {
		e := pathEntry{Path: n.FullPath}
		if includeStats {
			e.RunCount = n.RunCount
			e.HasRunningChild = n.HasRunningChild
		}
		*out = append(*out, e)
	}
	for _, c := range n.Children {
		flattenPathTree(c, out, includeStats)
	}
}

// handlePathTree serves GET /api/paths/tree.
func (r *Router) handlePathTree(w http.ResponseWriter, req *http.Request) {
	root, err := r.cfg.Index.PathTree(req.Context())
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, root)
}

// handlePathRuns serves GET /api/paths/runs?prefix=, returning every
// run whose path equals or nests under prefix. Unlike list_runs this
// is not paginated: it is meant for small scoped views (a dashboard's
// "runs in this folder" panel), not for browsing the whole index.
func (r *Router) handlePathRuns(w http.ResponseWriter, req *http.Request) {
	prefix := req.URL.Query().Get("prefix")

	result, err := r.cfg.Index.ListRuns(req.Context(), index.ListRunsParams{
		Filter:   index.ListFilter{PathPrefix: prefix},
		SortBy:   index.SortCreatedAt,
		SortDir:  index.SortDesc,
		PageSize: maxPathRunsPageSize,
	})
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"items": result.Runs})
}

const maxPathRunsPageSize = 500

type softDeleteRequest struct {
	Prefix string `json:"prefix"`
}

// handleSoftDelete serves POST /api/paths/soft-delete {prefix}.
func (r *Router) handleSoftDelete(w http.ResponseWriter, req *http.Request) {
	var body softDeleteRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeAPIError(w, req, apierr.NewValidationError("body", "must be valid JSON"))
		return
	}
	if body.Prefix == "" {
		writeAPIError(w, req, apierr.NewValidationError("prefix", "must not be empty"))
		return
	}

	count, err := r.cfg.Index.SoftDeleteByPrefix(req.Context(), body.Prefix)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"deleted": count})
}

// handleExport serves GET /api/paths/export?prefix=&format=zip|tar.gz,
// streaming an archive of every matching run's directory. Defaults to
// zip; "format=tar.gz" selects a gzip-compressed tarball instead.
func (r *Router) handleExport(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	prefix := q.Get("prefix")

	ids, err := r.cfg.Index.RunIDsByPrefix(req.Context(), prefix)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	if len(ids) == 0 {
		writeAPIError(w, req, apierr.NewNotFoundError("path", prefix))
		return
	}

	store := r.cfg.Index.Store()
	if q.Get("format") == "tar.gz" {
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", `attachment; filename="runs.tar.gz"`)
		writeTarGzArchive(w, store, ids)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="runs.zip"`)
	writeZipArchive(w, store, ids)
}

type runDirStore interface {
	RunDir(id string) string
}

func writeZipArchive(w http.ResponseWriter, store runDirStore, ids []string) {
	zw := zip.NewWriter(w)
	defer zw.Close()

	for _, id := range ids {
		dir := store.RunDir(id)
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(filepath.Dir(dir), path)
			if err != nil {
				return nil
			}
			f, err := zw.Create(filepath.ToSlash(rel))
			if err != nil {
				return nil
			}
			src, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer src.Close()
			copyQuiet(f, src)
			return nil
		})
	}
}

func writeTarGzArchive(w http.ResponseWriter, store runDirStore, ids []string) {
	gw := gzip.NewWriter(w)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, id := range ids {
		dir := store.RunDir(id)
		filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(filepath.Dir(dir), path)
			if err != nil {
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return nil
			}
			hdr.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(hdr); err != nil {
				return nil
			}
			src, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer src.Close()
			copyQuiet(tw, src)
			return nil
		})
	}
}

func copyQuiet(dst interface{ Write([]byte) (int, error) }, src *os.File) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			dst.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
