package proxyerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Envelope is the stable JSON error body returned to clients.
type Envelope struct {
	Error         string                 `json:"error"`
	Message       string                 `json:"message"`
	Code          int                    `json:"code"`
	Details       map[string]interface{} `json:"details,omitempty"`
	RequestID     string                 `json:"requestId"`
	Timestamp     string                 `json:"timestamp"`
	RetryAfter    int                    `json:"retryAfter,omitempty"`
	Documentation string                 `json:"documentation,omitempty"`
}

const docsURL = "https://docs.als.ai/errors"

// WriteError is the sole boundary that converts pipeline errors into the
// client-visible envelope. Unrecognized errors are shaped as UpstreamError
// without leaking internal detail.
func WriteError(w http.ResponseWriter, logger *zap.Logger, requestID string, err error) {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = Wrap(KindUpstreamError, "unexpected internal error", err)
	}

	status := pe.Kind.Status()

	env := Envelope{
		Error:         string(pe.Kind),
		Message:       pe.Message,
		Code:          status,
		Details:       pe.Details,
		RequestID:     requestID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Documentation: fmt.Sprintf("%s#%s", docsURL, pe.Kind),
	}
	if env.Message == "" {
		env.Message = string(pe.Kind)
	}
	if pe.Kind.Retryable() && pe.RetryAfter > 0 {
		env.RetryAfter = pe.RetryAfter
		w.Header().Set("Retry-After", strconv.Itoa(pe.RetryAfter))
	}

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="als-gateway", error="invalid_token"`)
	}
	w.WriteHeader(status)

	if encodeErr := json.NewEncoder(w).Encode(env); encodeErr != nil {
		logger.Error("Failed to write error envelope",
			zap.String("request_id", requestID),
			zap.Error(encodeErr))
	}
}
