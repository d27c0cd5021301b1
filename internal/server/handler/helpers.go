package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response. Code is a stable
// machine-readable string; Reason is set for validation failures.
type errorBody struct {
	Error   string                `json:"error"`
	Code    string                `json:"code"`
	Reason  domain.DisabledReason `json:"reason,omitempty"`
	Details []string              `json:"details,omitempty"`
	Order   *domain.OrderResult   `json:"order,omitempty"`
}

// writeJSON marshals v and writes it with status. Marshal failures fall back
// to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// decodeBody reads a JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, domain.ErrPreflightRejected):
		return http.StatusUnprocessableEntity, "preflight_rejected"
	case errors.Is(err, domain.ErrLocked):
		return http.StatusLocked, "locked"
	case errors.Is(err, domain.ErrMarketClosed):
		return http.StatusConflict, "market_closed"
	case errors.Is(err, domain.ErrAlreadyExecuting):
		return http.StatusConflict, "already_executing"
	case errors.Is(err, domain.ErrSessionStale):
		return http.StatusConflict, "session_stale"
	case errors.Is(err, domain.ErrNoPosition):
		return http.StatusConflict, "no_position"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrBroker):
		return http.StatusBadGateway, "broker"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeServiceError renders a service error. Unexpected errors are logged
// and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	body := errorBody{Error: err.Error(), Code: code}

	var (
		verr *domain.ValidationError
		rej  *domain.RejectedError
	)
	switch {
	case errors.As(err, &verr):
		body.Reason = verr.Reason
		body.Details = verr.Errors
	case errors.As(err, &rej):
		body.Details = rej.Missing
	}

	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		body.Error = "internal server error"
	}
	writeJSON(w, status, body)
}

// parseListOpts reads limit/offset/since/until. Defaults: limit=50 (max 500).
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	opts := domain.ListOpts{Limit: 50}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("limit must be a positive integer")
		}
		opts.Limit = n
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, fmt.Errorf("offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return opts, fmt.Errorf("%s must be RFC3339", name)
			}
			*dst = &t
		}
	}
	return opts, nil
}

// requestTrader returns the authenticated trader, or "" when auth is off.
func requestTrader(r *http.Request) string {
	id, _ := middleware.TraderFrom(r.Context())
	return id
}
