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

// Package server implements the local query/streaming HTTP+WebSocket
// API: run listing and detail, metric series with downsampling, log
// tailing (plain and streamed), path aggregation, asset retrieval, and
// the remote-viewer control surface.
package server

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Skydoge-zjm/runicorn/internal/apierr"
	"github.com/Skydoge-zjm/runicorn/internal/assets"
	"github.com/Skydoge-zjm/runicorn/internal/index"
	"github.com/Skydoge-zjm/runicorn/internal/log"
	"github.com/Skydoge-zjm/runicorn/internal/server/httputil"
	"github.com/Skydoge-zjm/runicorn/internal/server/middleware"
	"github.com/Skydoge-zjm/runicorn/internal/tracing"
	runicornerrors "github.com/Skydoge-zjm/runicorn/pkg/errors"
)

// RemoteController is the subset of the SSH remote-viewer controller the
// router needs; kept as an interface so the server package doesn't
// import the concrete controller (and its SSH dependency surface)
// directly.
type RemoteController interface {
	Connect(r *http.Request) (connectionID string, err error)
	ListConnections() any
	Disconnect(connectionID string, cleanupPeer bool) error
	ListEnvironments(connectionID string) (any, error)
	StartViewer(r *http.Request) (any, error)
	StopViewer(connectionID string) error
	ViewerStatus(connectionID string) (any, error)
	Health(connectionID string) (any, error)
	AddKnownHost(r *http.Request) error
}

// Config holds the dependencies and policy the router is built from.
type Config struct {
	Version string

	Index  *index.Index
	Assets *assets.Store
	Remote RemoteController

	RateLimits map[string]middleware.RateLimitRule

	Logger *slog.Logger
}

// Router wraps an http.ServeMux with the middleware chain and handler
// state for the query/streaming API.
type Router struct {
	mux     *http.ServeMux
	cfg     Config
	limiter *middleware.RateLimiter
	logger  *slog.Logger
}

// NewRouter builds the full route table described by the external
// interfaces: health, runs, paths, assets, and (when cfg.Remote is
// non-nil) the remote-viewer control endpoints.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Router{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		limiter: middleware.NewRateLimiter(cfg.RateLimits),
		logger:  logger,
	}

	r.mux.HandleFunc("GET /api/health", r.handleHealth)
	r.mux.HandleFunc("GET /metrics", tracing.MetricsHandler().ServeHTTP)

	r.mux.HandleFunc("GET /api/runs", r.handleListRuns)
	r.mux.HandleFunc("GET /api/runs/{id}", r.handleGetRun)
	r.mux.HandleFunc("GET /api/runs/{id}/metrics", r.handleGetMetrics)
	r.mux.HandleFunc("GET /api/runs/{id}/logs", r.handleGetLogs)
	r.mux.HandleFunc("GET /api/runs/{id}/logs/ws", r.handleLogsWebSocket)

	r.mux.HandleFunc("GET /api/paths", r.handleListPaths)
	r.mux.HandleFunc("GET /api/paths/tree", r.handlePathTree)
	r.mux.HandleFunc("GET /api/paths/runs", r.handlePathRuns)
	r.mux.HandleFunc("POST /api/paths/soft-delete", r.handleSoftDelete)
	r.mux.HandleFunc("GET /api/paths/export", r.handleExport)

	r.mux.HandleFunc("GET /api/assets/blob/{digest}", r.handleGetBlob)

	if cfg.Remote != nil {
		r.mux.HandleFunc("POST /api/remote/connect", r.handleRemoteConnect)
		r.mux.HandleFunc("GET /api/remote/connections", r.handleRemoteListConnections)
		r.mux.HandleFunc("DELETE /api/remote/connections/{id}", r.handleRemoteDisconnect)
		r.mux.HandleFunc("GET /api/remote/environments", r.handleRemoteEnvironments)
		r.mux.HandleFunc("POST /api/remote/viewer/start", r.handleRemoteViewerStart)
		r.mux.HandleFunc("POST /api/remote/viewer/stop", r.handleRemoteViewerStop)
		r.mux.HandleFunc("GET /api/remote/viewer/status", r.handleRemoteViewerStatus)
		r.mux.HandleFunc("GET /api/remote/health", r.handleRemoteHealth)
		r.mux.HandleFunc("POST /api/remote/known-hosts/add", r.handleRemoteAddKnownHost)
	}

	return r
}

// ServeHTTP implements http.Handler, wrapping the mux in the same
// trace-context -> span -> correlation -> request-log -> rate-limit
// chain the rest of the module uses.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var handler http.Handler = r.mux

	handler = r.limiter.Middleware(rateLimitClass)(handler)

	innerHandler := handler
	handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		correlationID := tracing.FromContextOrEmpty(req.Context())
		logger := log.WithCorrelationID(r.logger, string(correlationID))

		defer func() {
			logger.Info("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()
		innerHandler.ServeHTTP(w, req)
	})

	handler = tracing.CorrelationMiddleware(handler)
	handler = tracing.TracingMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)

	handler.ServeHTTP(w, req)
}

// rateLimitClass maps a request to its rate-limit bucket. Metrics
// polling and writes get their own class so a busy dashboard tab
// doesn't starve a concurrent export.
func rateLimitClass(req *http.Request) string {
	switch {
	case req.Method == http.MethodPost || req.Method == http.MethodDelete:
		return "write"
	case isMetricsPath(req.URL.Path):
		return "metrics"
	default:
		return "default"
	}
}

func isMetricsPath(path string) bool {
	return len(path) > len("/metrics") && path[len(path)-len("/metrics"):] == "/metrics"
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": r.cfg.Version,
	})
}

// writeAPIError translates an error from a backing package (index,
// assets, runstore — none of which are HTTP-aware) into apierr's
// taxonomy and writes the response.
func writeAPIError(w http.ResponseWriter, req *http.Request, err error) {
	correlationID := string(tracing.FromContextOrEmpty(req.Context()))
	apierr.WriteHTTP(w, translateError(err), correlationID)
}

// translateError maps pkg/errors' domain error types (used throughout
// internal/index, internal/assets, internal/runstore) onto apierr's
// HTTP-facing equivalents. Errors already in apierr's taxonomy, or not
// recognized at all, pass through unchanged — WriteHTTP's default case
// reports those as a generic 500.
func translateError(err error) error {
	var notFound *runicornerrors.NotFoundError
	if stderrors.As(err, &notFound) {
		return &apierr.NotFoundError{Resource: notFound.Resource, ID: notFound.ID}
	}
	var validation *runicornerrors.ValidationError
	if stderrors.As(err, &validation) {
		return &apierr.ValidationError{Field: validation.Field, Message: validation.Message}
	}
	return err
}
