// Package llmerr defines the structured error taxonomy shared by every
// llmgw component.
//
// Every error handed to a caller is an *Error carrying a Kind, a message and
// the originating provider and session identifiers. Provider SDK errors are
// translated into this shape at the adapter boundary and never escape raw.
package llmerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

// Transport family. These are retryable by the resilience layer.
const (
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server_error"
	KindTimeout     Kind = "timeout"
	KindNetwork     Kind = "network"
)

// Request and provider errors. Never retried.
const (
	KindAuth               Kind = "auth"
	KindInvalidRequest     Kind = "invalid_request"
	KindProviderUnknown    Kind = "provider_unknown"
	KindMaxRetriesExceeded Kind = "max_retries_exceeded"
	KindAllProvidersFailed Kind = "all_providers_failed"
	KindCanceled           Kind = "canceled"
)

// Response errors.
const (
	KindTruncated            Kind = "truncated"
	KindIncomplete           Kind = "incomplete"
	KindStructural           Kind = "structural_validation"
	KindTruncationExceeded   Kind = "truncation_exceeded"
	KindTruncatedEnhancement Kind = "truncated_enhancement"
)

// Session and cache errors.
const (
	KindSessionClosed   Kind = "session_closed"
	KindSessionNotFound Kind = "session_not_found"
	KindSessionExpired  Kind = "session_expired"
	KindCacheCorruption Kind = "cache_corruption"
)

// Retryable reports whether the kind belongs to the transport family.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServer, KindTimeout, KindNetwork:
		return true
	}
	return false
}

// Transport reports whether the kind is a transport-level failure, including
// the terminal MaxRetriesExceeded wrapper.
func (k Kind) Transport() bool {
	return k.Retryable() || k == KindMaxRetriesExceeded
}

// Error is the structured error returned by llmgw components.
type Error struct {
	Kind      Kind
	Message   string
	Provider  string
	SessionID string
	// Field names the offending field of a structurally invalid response.
	Field string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	var attrs []string
	if e.Provider != "" {
		attrs = append(attrs, "provider="+e.Provider)
	}
	if e.SessionID != "" {
		attrs = append(attrs, "session_id="+e.SessionID)
	}
	if e.Field != "" {
		attrs = append(attrs, "field="+e.Field)
	}
	if len(attrs) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, so sentinel values such as
// ErrSessionClosed work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Provider == "" && t.SessionID == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrSessionClosed        = &Error{Kind: KindSessionClosed}
	ErrSessionNotFound      = &Error{Kind: KindSessionNotFound}
	ErrSessionExpired       = &Error{Kind: KindSessionExpired}
	ErrProviderUnknown      = &Error{Kind: KindProviderUnknown}
	ErrAllProvidersFailed   = &Error{Kind: KindAllProvidersFailed}
	ErrMaxRetriesExceeded   = &Error{Kind: KindMaxRetriesExceeded}
	ErrTruncationExceeded   = &Error{Kind: KindTruncationExceeded}
	ErrTruncatedEnhancement = &Error{Kind: KindTruncatedEnhancement}
	ErrStructural           = &Error{Kind: KindStructural}
)

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithProvider returns a copy of e attributed to provider.
func (e *Error) WithProvider(provider string) *Error {
	c := *e
	c.Provider = provider
	return &c
}

// WithSession returns a copy of e attributed to sessionID.
func (e *Error) WithSession(sessionID string) *Error {
	c := *e
	c.SessionID = sessionID
	return &c
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As returns err as an *Error. Context errors become timeout or canceled
// errors; anything else is wrapped as a network error, which keeps callers
// from ever seeing a bare provider error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindTimeout, err, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return Wrap(KindCanceled, err, "request canceled")
	}
	return Wrap(KindNetwork, err, "request failed")
}
