package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

type ErrorKind string

const (
	ErrAuth      ErrorKind = "auth"
	ErrQuota     ErrorKind = "quota"
	ErrRateLimit ErrorKind = "rate_limit"
	ErrTimeout   ErrorKind = "timeout"
	ErrServer    ErrorKind = "server"
	ErrNetwork   ErrorKind = "network"
)

// ProviderError is the one typed failure every vendor adapter reports,
// derived from HTTP status, transport error or in-stream error envelope.
type ProviderError struct {
	Vendor     string
	Kind       ErrorKind
	Status     int
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Vendor, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Vendor, e.Kind, e.Message)
}

// errFromStatus maps a non-2xx vendor response to a typed error.
// retryAfter is the raw Retry-After header value, seconds, may be empty.
func errFromStatus(vendor string, status int, body, retryAfter string) *ProviderError {
	e := &ProviderError{Vendor: vendor, Status: status, Message: body}
	switch {
	case status == 401 || status == 403:
		e.Kind = ErrAuth
	case status == 402:
		e.Kind = ErrQuota
	case status == 429:
		e.Kind = ErrRateLimit
		e.Retryable = true
	case status == 408 || status == 504:
		e.Kind = ErrTimeout
		e.Retryable = true
	case status >= 500:
		e.Kind = ErrServer
		e.Retryable = true
	default:
		e.Kind = ErrServer
	}
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// errFromTransport classifies a failed round trip or body read. Context
// cancellation passes through untouched so callers can tell a stop apart
// from a provider failure.
func errFromTransport(vendor string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	e := &ProviderError{Vendor: vendor, Message: err.Error()}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		e.Kind = ErrTimeout
		e.Retryable = true
		return e
	}
	e.Kind = ErrNetwork
	e.Retryable = true
	return e
}

// streamError wraps a vendor's in-stream error envelope.
func streamError(vendor, message string) *ProviderError {
	return &ProviderError{Vendor: vendor, Kind: ErrServer, Message: message}
}

func IsTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == ErrTimeout
}
