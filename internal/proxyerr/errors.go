package proxyerr

import (
	"fmt"
	"net/http"
)

// Kind is the stable external error vocabulary. Values appear verbatim in
// response envelopes and telemetry; do not rename existing kinds.
type Kind string

const (
	KindMissingCredential    Kind = "MissingCredential"
	KindMalformedCredential  Kind = "MalformedCredential"
	KindInvalidRequest       Kind = "InvalidRequest"
	KindCredentialNotFound   Kind = "CredentialNotFound"
	KindCredentialExpired    Kind = "CredentialExpired"
	KindCredentialRevoked    Kind = "CredentialRevoked"
	KindTenantSuspended      Kind = "TenantSuspended"
	KindIPNotAllowed         Kind = "IPNotAllowed"
	KindEndpointNotAllowed   Kind = "EndpointNotAllowed"
	KindProviderNotAllowed   Kind = "ProviderNotAllowed"
	KindTenantNotFound       Kind = "TenantNotFound"
	KindRateLimitExceeded    Kind = "RateLimitExceeded"
	KindQuotaExceeded        Kind = "QuotaExceeded"
	KindUpstreamError        Kind = "UpstreamError"
	KindTimeout              Kind = "Timeout"
	KindBackendError         Kind = "BackendError"
	KindDistributedTierError Kind = "DistributedTierError"
	KindNoProviderCredential Kind = "NoProviderCredential"
)

// Error is the internal error carried through the pipeline until the response
// shaper converts it to the wire envelope.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]interface{}
	RetryAfter int // seconds; only meaningful for retryable kinds
	cause      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind that wraps a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured detail fields for the response envelope.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRetryAfter sets the advisory retry hint in seconds.
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// Status maps an error kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindMissingCredential, KindMalformedCredential, KindInvalidRequest:
		return http.StatusBadRequest
	case KindCredentialNotFound, KindCredentialExpired, KindCredentialRevoked:
		return http.StatusUnauthorized
	case KindTenantSuspended, KindIPNotAllowed, KindEndpointNotAllowed, KindProviderNotAllowed:
		return http.StatusForbidden
	case KindTenantNotFound:
		return http.StatusNotFound
	case KindRateLimitExceeded, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamError, KindBackendError, KindDistributedTierError:
		return http.StatusBadGateway
	case KindNoProviderCredential:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the caller may usefully retry the request.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimitExceeded, KindQuotaExceeded, KindUpstreamError, KindTimeout, KindBackendError:
		return true
	}
	return false
}
