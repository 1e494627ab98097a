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

// Package apierr defines the HTTP-facing error taxonomy for the query
// server and maps it to status codes and JSON bodies.
package apierr

import (
	"errors"
	"fmt"
)

// RemoteFailureCode enumerates the structured codes a RemoteFailureError
// carries in its JSON body.
type RemoteFailureCode string

const (
	CodeSSHAuthFailed       RemoteFailureCode = "ssh_auth_failed"
	CodeConnectionTimeout   RemoteFailureCode = "connection_timeout"
	CodeEnvironmentNotFound RemoteFailureCode = "environment_not_found"
	CodeViewerStartFailed   RemoteFailureCode = "viewer_start_failed"
	CodeTunnelFailed        RemoteFailureCode = "tunnel_failed"
)

// ValidationError reports malformed client input. Maps to HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports an unknown run, digest, or connection. Maps to
// HTTP 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// PathEscapeError reports a path that resolves outside the data root or
// contains ".." segments. Maps to HTTP 403.
type PathEscapeError struct {
	Path string
}

func (e *PathEscapeError) Error() string {
	return fmt.Sprintf("path escapes data root: %s", e.Path)
}

// NewPathEscapeError constructs a PathEscapeError.
func NewPathEscapeError(path string) *PathEscapeError {
	return &PathEscapeError{Path: path}
}

// HostKeyProblem describes a host-key mismatch or absence that requires
// explicit confirmation before a remote connection proceeds.
type HostKeyProblem struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	KeyType        string `json:"key_type"`
	FingerprintSHA string `json:"fingerprint_sha256"`
	PublicKeyBytes []byte `json:"public_key_bytes"`
	Reason         string `json:"reason"` // "unknown" or "changed"
	Expected       string `json:"expected,omitempty"`
}

// ConflictError reports a host-key confirmation requirement. Maps to
// HTTP 409; the HostKeyProblem is carried in the response body's
// "problem" field.
type ConflictError struct {
	Problem HostKeyProblem
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("host key for %s:%d requires confirmation (%s)", e.Problem.Host, e.Problem.Port, e.Problem.Reason)
}

// NewConflictError constructs a ConflictError carrying a HostKeyProblem.
func NewConflictError(problem HostKeyProblem) *ConflictError {
	return &ConflictError{Problem: problem}
}

// RateLimitedError reports quota exhaustion. Maps to HTTP 429.
type RateLimitedError struct {
	Limit      int
	Remaining  int
	RetryAfter int // seconds
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: limit=%d retry_after=%ds", e.Limit, e.RetryAfter)
}

// RemoteFailureError reports an SSH, environment-detection, peer-start,
// or tunnel failure. Maps to a 5xx status depending on Code.
type RemoteFailureError struct {
	Code        RemoteFailureCode
	Message     string
	RetryAfter  int // seconds, 0 if not applicable
	Suggestions []string
	Cause       error
}

func (e *RemoteFailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("remote failure (%s): %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("remote failure (%s): %s", e.Code, e.Message)
}

func (e *RemoteFailureError) Unwrap() error { return e.Cause }

// InternalError wraps an unexpected failure that should be logged with a
// correlation id and reported to the client as a generic 500.
type InternalError struct {
	CorrelationID string
	Cause         error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error (correlation_id=%s): %v", e.CorrelationID, e.Cause)
}

func (e *InternalError) Unwrap() error { return e.Cause }

// StatusCode returns the HTTP status code for err, classifying it by
// type against the taxonomy above. Unrecognized errors map to 500.
func StatusCode(err error) int {
	var (
		valErr      *ValidationError
		notFoundErr *NotFoundError
		escapeErr   *PathEscapeError
		conflictErr *ConflictError
		limitErr    *RateLimitedError
		remoteErr   *RemoteFailureError
		internalErr *InternalError
	)
	switch {
	case errors.As(err, &internalErr):
		return 500
	case errors.As(err, &valErr):
		return 400
	case errors.As(err, &notFoundErr):
		return 404
	case errors.As(err, &escapeErr):
		return 403
	case errors.As(err, &conflictErr):
		return 409
	case errors.As(err, &limitErr):
		return 429
	case errors.As(err, &remoteErr):
		if remoteErr.Code == CodeConnectionTimeout {
			return 504
		}
		return 502
	default:
		return 500
	}
}
