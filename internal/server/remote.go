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
	"encoding/json"
	"net/http"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/server/httputil"
)

// These handlers are thin HTTP adapters over cfg.Remote; all the
// connect/tunnel/peer-lifecycle logic lives in internal/remote, kept
// out of this package so the query/streaming server doesn't pull in
// an SSH dependency surface merely to serve runs.

func (r *Router) handleRemoteConnect(w http.ResponseWriter, req *http.Request) {
	id, err := r.cfg.Remote.Connect(req)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"connection_id": id})
}

func (r *Router) handleRemoteListConnections(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, r.cfg.Remote.ListConnections())
}

func (r *Router) handleRemoteDisconnect(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	cleanupPeer := req.URL.Query().Get("cleanup_peer") == "true"
	if err := r.cfg.Remote.Disconnect(id, cleanupPeer); err != nil {
		writeAPIError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleRemoteEnvironments(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("connection_id")
	if id == "" {
		writeAPIError(w, req, apierr.NewValidationError("connection_id", "must not be empty"))
		return
	}
	envs, err := r.cfg.Remote.ListEnvironments(id)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, envs)
}

func (r *Router) handleRemoteViewerStart(w http.ResponseWriter, req *http.Request) {
	status, err := r.cfg.Remote.StartViewer(req)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (r *Router) handleRemoteViewerStop(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeAPIError(w, req, apierr.NewValidationError("body", "must be valid JSON"))
		return
	}
	if err := r.cfg.Remote.StopViewer(body.ConnectionID); err != nil {
		writeAPIError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleRemoteViewerStatus(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("connection_id")
	status, err := r.cfg.Remote.ViewerStatus(id)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (r *Router) handleRemoteHealth(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("connection_id")
	report, err := r.cfg.Remote.Health(id)
	if err != nil {
		writeAPIError(w, req, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (r *Router) handleRemoteAddKnownHost(w http.ResponseWriter, req *http.Request) {
	if err := r.cfg.Remote.AddKnownHost(req); err != nil {
		writeAPIError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
