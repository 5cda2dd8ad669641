package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
)

// KindForStatus maps an HTTP status code returned by a provider API to an
// error kind.
func KindForStatus(status int) llmerr.Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return llmerr.KindAuth
	case status == http.StatusTooManyRequests:
		return llmerr.KindRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return llmerr.KindTimeout
	case status >= 500:
		// Includes Anthropic's 529 overloaded.
		return llmerr.KindServer
	default:
		return llmerr.KindInvalidRequest
	}
}

// statusError is the SDK-independent view of an API status failure.
type statusError struct {
	status  int
	message string
	cause   error
}

// apiMessage extracts the vendor's error text from a raw error body. Both
// wire shapes nest it under "error"; some compatible servers put it at the
// top level.
func apiMessage(raw string) string {
	if raw == "" || !gjson.Valid(raw) {
		return ""
	}
	for _, path := range []string{"error.message", "message"} {
		if msg := strings.TrimSpace(gjson.Get(raw, path).String()); msg != "" {
			return msg
		}
	}
	return ""
}

// classify translates a transport-level failure that carries no HTTP status
// into a structured error.
func classify(provider string, err error) *llmerr.Error {
	if err == nil {
		return nil
	}
	var le *llmerr.Error
	if errors.As(err, &le) {
		return le
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return llmerr.Wrap(llmerr.KindTimeout, err, "request deadline exceeded").WithProvider(provider)
	case errors.Is(err, context.Canceled):
		return llmerr.Wrap(llmerr.KindCanceled, err, "request canceled").WithProvider(provider)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return llmerr.Wrap(llmerr.KindTimeout, err, "network timeout").WithProvider(provider)
	}
	return llmerr.Wrap(llmerr.KindNetwork, err, "request failed").WithProvider(provider)
}

// fromStatus builds a structured error from an API status failure.
func fromStatus(provider string, se statusError) *llmerr.Error {
	kind := KindForStatus(se.status)
	msg := se.message
	if msg == "" {
		msg = http.StatusText(se.status)
	}
	return llmerr.Wrap(kind, se.cause, "status %d: %s", se.status, msg).WithProvider(provider)
}
