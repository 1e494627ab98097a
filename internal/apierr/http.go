package apierr

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Skydoge-zjm/runicorn/internal/server/httputil"
)

// body is the JSON shape written for every error response:
//
//	{"detail": "...", "error": "validation_error", "context": {...}}
//
// "error" is a short machine-readable type tag, set for every error
// type (for remote failures it is the failure Code); "context" carries
// type-specific structured fields (a HostKeyProblem under "problem" for
// 409s, retry_after/suggestions for remote failures, the correlation id
// for 500s) and is omitted when the error type has nothing beyond its
// message.
type body struct {
	Detail  string `json:"detail"`
	Error   string `json:"error,omitempty"`
	Context any    `json:"context,omitempty"`
}

// WriteHTTP classifies err against the taxonomy in this package and
// writes the corresponding status code and JSON body to w. correlationID
// is echoed in 500 responses so operators can cross-reference server
// logs; pass "" if none is available.
func WriteHTTP(w http.ResponseWriter, err error, correlationID string) {
	var (
		valErr      *ValidationError
		notFoundErr *NotFoundError
		escapeErr   *PathEscapeError
		conflictErr *ConflictError
		limitErr    *RateLimitedError
		remoteErr   *RemoteFailureError
		internalErr *InternalError
	)

	// An InternalError is always a generic 500, whatever its cause is:
	// drop the chain so the cases below cannot classify the cause.
	if errors.As(err, &internalErr) {
		err = errors.New(internalErr.Error())
	}

	switch {
	case errors.As(err, &valErr):
		httputil.WriteJSON(w, 400, body{Detail: valErr.Error(), Error: "validation_error"})

	case errors.As(err, &notFoundErr):
		httputil.WriteJSON(w, 404, body{Detail: notFoundErr.Error(), Error: "not_found"})

	case errors.As(err, &escapeErr):
		httputil.WriteJSON(w, 403, body{Detail: escapeErr.Error(), Error: "path_escape"})

	case errors.As(err, &conflictErr):
		httputil.WriteJSON(w, 409, body{
			Detail:  conflictErr.Error(),
			Error:   "host_key_confirmation_required",
			Context: map[string]HostKeyProblem{"problem": conflictErr.Problem},
		})

	case errors.As(err, &limitErr):
		w.Header().Set("Retry-After", strconv.Itoa(limitErr.RetryAfter))
		httputil.WriteJSON(w, 429, body{
			Detail: limitErr.Error(),
			Error:  "rate_limited",
			Context: map[string]int{
				"limit":       limitErr.Limit,
				"remaining":   limitErr.Remaining,
				"retry_after": limitErr.RetryAfter,
			},
		})

	case errors.As(err, &remoteErr):
		status := 502
		if remoteErr.Code == CodeConnectionTimeout {
			status = 504
		}
		if remoteErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(remoteErr.RetryAfter))
		}
		httputil.WriteJSON(w, status, body{
			Detail: remoteErr.Error(),
			Error:  string(remoteErr.Code),
			Context: map[string]any{
				"retry_after": remoteErr.RetryAfter,
				"suggestions": remoteErr.Suggestions,
			},
		})

	default:
		slog.Error("unhandled error reached the API boundary",
			slog.String("correlation_id", correlationID),
			slog.Any("error", err),
		)
		httputil.WriteJSON(w, 500, body{
			Detail: "an internal error occurred",
			Error:  "internal_error",
			Context: map[string]string{
				"correlation_id": correlationID,
			},
		})
	}
}
