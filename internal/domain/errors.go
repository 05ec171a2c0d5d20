package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across pipeline steps.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownProject = errors.New("unknown project")

	ErrDiscoveryUnavailable      = errors.New("discovery unavailable")
	ErrDiscoveryRateLimited      = errors.New("discovery rate limited")
	ErrDiscoveryMalformed        = errors.New("discovery response malformed")
	ErrContentAccountUnavailable = errors.New("content account unavailable")

	ErrInvalidRecord          = errors.New("invalid record")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	ErrRenderIO  = errors.New("render io error")
	ErrArchiveIO = errors.New("archive io error")

	ErrRecipientUnreachable = errors.New("recipient unreachable")
	ErrChannelUnavailable   = errors.New("channel unavailable")
)

// ValidationError describes why a single raw record was rejected.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Field, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// UpstreamError is returned by HTTP adapters. Kind is one of the sentinel
// errors above and is what errors.Is matches.
type UpstreamError struct {
	Kind       error
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// RetryAfterHint extracts an upstream Retry-After from err, if any.
func RetryAfterHint(err error) time.Duration {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.RetryAfter
	}
	return 0
}
