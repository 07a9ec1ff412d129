// Package core provides shared types, errors, and collaborator interfaces
// for the content backend.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorType categorizes failures so callers can pick the right fallback.
type ErrorType string

const (
	// ErrorTypeTransient indicates a retryable upstream failure (timeout, 5xx, connection reset)
	ErrorTypeTransient ErrorType = "transient_error"
	// ErrorTypeRateLimit indicates the caller exceeded a request rate window (429)
	ErrorTypeRateLimit ErrorType = "rate_limit_error"
	// ErrorTypeQuota indicates a usage ceiling was reached (daily/monthly requests, tokens, or cost)
	ErrorTypeQuota ErrorType = "quota_exceeded_error"
	// ErrorTypeUnavailable indicates a dependency is down and no fallback was supplied (503)
	ErrorTypeUnavailable ErrorType = "service_unavailable_error"
	// ErrorTypeInvalidRequest indicates a client error (4xx)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeSignature indicates an inbound webhook failed signature verification
	ErrorTypeSignature ErrorType = "invalid_signature_error"
)

// ServiceError is the base error type carried across the governance layer.
// Service names the originating external dependency, if any.
type ServiceError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Service    string    `json:"service,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Service, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *ServiceError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeRateLimit, ErrorTypeQuota:
		return http.StatusTooManyRequests
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication, ErrorTypeSignature:
		return http.StatusUnauthorized
	case ErrorTypeTransient, ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map for HTTP responses
func (e *ServiceError) ToJSON() map[string]interface{} {
	body := map[string]interface{}{
		"type":    e.Type,
		"message": e.Message,
	}
	if e.Service != "" {
		body["service"] = e.Service
	}
	return map[string]interface{}{"error": body}
}

// NewTransientError creates a retryable upstream failure
func NewTransientError(service, message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeTransient,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Service:    service,
		Err:        err,
	}
}

// NewUnavailableError creates a service-unavailable error (dependency down, no fallback)
func NewUnavailableError(service, message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeUnavailable,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Service:    service,
		Err:        err,
	}
}

// NewRateLimitError creates a rate limit denial (429)
func NewRateLimitError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeRateLimit,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewQuotaError creates a quota denial carrying the exceeded ceiling names
func NewQuotaError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeQuota,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

// NewInvalidRequestError creates a client error (400)
func NewInvalidRequestError(message string, err error) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates an authentication error (401)
func NewAuthenticationError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewSignatureError creates an inbound webhook signature rejection
func NewSignatureError(message string) *ServiceError {
	return &ServiceError{
		Type:       ErrorTypeSignature,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// ParseUpstreamError normalizes an HTTP error response from an external
// service into a ServiceError with the right category for retry accounting.
func ParseUpstreamError(service string, statusCode int, body []byte, originalErr error) *ServiceError {
	message := string(body)
	if len(message) > 512 {
		message = message[:512]
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e := NewAuthenticationError(message)
		e.Service = service
		return e
	case statusCode == http.StatusTooManyRequests:
		// Upstream throttling is transient from our side: back off and retry
		return NewTransientError(service, message, originalErr)
	case statusCode >= 500:
		return NewTransientError(service, message, originalErr)
	case statusCode >= 400:
		e := NewInvalidRequestError(message, originalErr)
		e.Service = service
		return e
	default:
		return NewTransientError(service, message, originalErr)
	}
}

// IsTransient reports whether err is eligible for retry: network/timeout
// failures and upstream errors already classified transient. Timeouts count
// as transient; explicit cancellation does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Type == ErrorTypeTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
