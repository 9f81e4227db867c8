package outpost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorClass is the closed classification consumed by the Executor to decide
// retry eligibility. Classification never inspects error message text.
type ErrorClass string

const (
	// ClassTransient covers connection failures, timeouts, DNS errors and
	// HTTP 5xx responses. Eligible for retry.
	ClassTransient ErrorClass = "transient"
	// ClassAuth covers HTTP 401/403 and expired tokens. Never retried blindly;
	// the Client performs at most one transparent re-authentication.
	ClassAuth ErrorClass = "auth"
	// ClassValidation covers malformed requests and bad envelope shapes (4xx).
	ClassValidation ErrorClass = "validation"
	// ClassNotFound covers HTTP 404.
	ClassNotFound ErrorClass = "not_found"
	// ClassConflict covers per-item import failures at the target.
	ClassConflict ErrorClass = "conflict"
	// ClassFatal covers unrecoverable local state such as an envelope that
	// cannot be parsed at all.
	ClassFatal ErrorClass = "fatal"
)

// APIError is the tagged failure variant surfaced by the Executor and Client.
type APIError struct {
	Class    ErrorClass
	Status   int
	Message  string
	Attempts int
	Err      error
}

func (e *APIError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s: %s (status=%d, attempts=%d)", e.Class, e.Message, e.Status, e.Attempts)
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status=%d)", e.Class, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the Executor may attempt the request again.
func (e *APIError) Retryable() bool {
	return e.Class == ClassTransient
}

// ClassOf extracts the error class, defaulting to fatal for unclassified errors.
func ClassOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassFatal
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return ClassOf(err) == ClassAuth
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return ClassOf(err) == ClassNotFound
}

// IsTransient reports whether err is a transient failure.
func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusNotFound:
		return ClassNotFound
	case status == http.StatusConflict:
		return ClassConflict
	case status >= 500:
		return ClassTransient
	case status >= 400:
		return ClassValidation
	default:
		return ClassFatal
	}
}

// classifyTransport maps a transport-level error to an error class.
// Connection refused/reset, timeouts and DNS failures are transient.
func classifyTransport(err error) ErrorClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassTransient
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassTransient
	}
	return ClassFatal
}

func statusError(status int, message string) *APIError {
	return &APIError{
		Class:   classifyStatus(status),
		Status:  status,
		Message: message,
	}
}

func transportError(err error) *APIError {
	return &APIError{
		Class:   classifyTransport(err),
		Message: err.Error(),
		Err:     err,
	}
}
