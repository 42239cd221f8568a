package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

// errorBody is the wire shape of a control-plane error response, matching
// the orchestrator's ErrorPayload (§4.1, §7: "{kind, message, retryable}").
type errorBody struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Path      string `json:"path,omitempty"`
}

// statusForKind maps a §7 error kind to the HTTP status the control plane
// reports it as.
func statusForKind(k errkind.Kind) int {
	switch k {
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.ConcurrencyConflict:
		return http.StatusConflict
	case errkind.InvalidState:
		return http.StatusConflict
	case errkind.ValidationError:
		return http.StatusBadRequest
	case errkind.Unauthorized:
		return http.StatusUnauthorized
	case errkind.Forbidden:
		return http.StatusForbidden
	case errkind.TokenExchangeFailed, errkind.UpstreamError:
		return http.StatusBadGateway
	case errkind.Timeout:
		return http.StatusGatewayTimeout
	case errkind.RateLimited:
		return http.StatusTooManyRequests
	case errkind.Cancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON error body with the matching HTTP
// status. Store-level optimistic conflicts map to CONCURRENCY_CONFLICT so
// the client sees 409 rather than 500 (§7: "the caller retries with
// refreshed state").
func writeError(w http.ResponseWriter, err error) {
	kind := errkind.KindOf(err)
	if errors.Is(err, eventstore.ErrConcurrencyConflictSentinel) {
		kind = errkind.ConcurrencyConflict
	}
	body := errorBody{Kind: string(kind), Message: err.Error(), Retryable: errkind.IsRetryable(err) || kind == errkind.ConcurrencyConflict}
	var e *errkind.Error
	if ee, ok := err.(*errkind.Error); ok {
		e = ee
		body.Path = e.Path
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(kind))
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
