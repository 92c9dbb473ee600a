package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidTicker = "invalid_ticker"
	CodeInvalidDate   = "invalid_date"
	CodeRateLimited   = "rate_limited"
	CodeNotFound      = "endpoint_not_found"
	CodeMethod        = "method_not_allowed"
	CodeInternal      = "internal_error"
)

// StatusClientClosedRequest is recorded when the caller disconnects before a
// response is produced. Nothing reaches the client; it only shows in logs and
// metrics.
const StatusClientClosedRequest = 499

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

type requestIDKey struct{}

// WithRequestID stores id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "unknown".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are gone; nothing useful left to send.
		return
	}
}

// WriteError writes a standardized error response.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
