package xpost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/blacktop/xpostd/internal/retry"
)

// ErrNoAction is reported when a request selects no publish target.
var ErrNoAction = errors.New("no publish targets selected")

// MissingEnvError is returned when required configuration is missing.
type MissingEnvError struct {
	Provider  string
	Variables []string
}

func (e MissingEnvError) Error() string {
	if len(e.Variables) == 0 {
		return fmt.Sprintf("%s credentials not configured", e.Provider)
	}
	return fmt.Sprintf("%s credentials not configured (missing %s)", e.Provider, strings.Join(e.Variables, ", "))
}

// ValidationError captures provider-specific validation issues.
type ValidationError struct {
	Provider string
	Reason   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Provider, e.Reason)
}

// RateLimitedError is returned when the upstream asks the caller to back off.
// A zero After means the upstream did not say for how long.
type RateLimitedError struct {
	Provider string
	After    time.Duration
	Raw      any
}

func (e RateLimitedError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s rate limited (retry after %s)", e.Provider, e.After)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// TransientError is a server-side or transport failure worth retrying.
type TransientError struct {
	Provider string
	Status   int
	Err      error
	Raw      any
}

func (e TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s transient error (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
}

func (e TransientError) Unwrap() error { return e.Err }

// PermanentError is an upstream rejection that retrying will not fix.
type PermanentError struct {
	Provider string
	Code     string
	Err      error
	Raw      any
}

func (e PermanentError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error %s: %v", e.Provider, e.Code, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Provider, e.Err)
}

func (e PermanentError) Unwrap() error { return e.Err }

// UnsupportedError is returned by platforms lacking an operation.
type UnsupportedError struct {
	Provider string
	Op       string
}

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Provider, e.Op)
}

// Classify is the default retry classifier for platform errors.
func Classify(err error) retry.Decision {
	var rl RateLimitedError
	if errors.As(err, &rl) {
		return retry.Decision{Class: retry.RateLimited, After: rl.After}
	}
	var te TransientError
	if errors.As(err, &te) {
		return retry.Decision{Class: retry.Transient}
	}
	var pe PermanentError
	var ue UnsupportedError
	var ve ValidationError
	var me MissingEnvError
	switch {
	case errors.As(err, &pe), errors.As(err, &ue), errors.As(err, &ve), errors.As(err, &me):
		return retry.Decision{Class: retry.Permanent}
	case errors.Is(err, context.Canceled):
		return retry.Decision{Class: retry.Permanent}
	}
	if IsTransportError(err) {
		return retry.Decision{Class: retry.Transient}
	}
	return retry.Decision{Class: retry.Permanent}
}

// IsTransportError reports failures where no upstream response was received.
func IsTransportError(err error) bool {
	var ne net.Error
	switch {
	case errors.As(err, &ne):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status to an error in the taxonomy.
// retryAfter is honoured for 429.
func ClassifyStatus(provider string, status int, retryAfter time.Duration, err error, raw any) error {
	switch {
	case status == 429:
		return RateLimitedError{Provider: provider, After: retryAfter, Raw: raw}
	case status >= 500:
		return TransientError{Provider: provider, Status: status, Err: err, Raw: raw}
	default:
		return PermanentError{Provider: provider, Code: fmt.Sprint(status), Err: err, Raw: raw}
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds.
func ParseRetryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
