// Package provider defines the common adapter contract for language-model
// providers and the registry that holds them.
//
// Each adapter (anthropic.go, openai.go) translates the vendor SDK's request,
// response and error shapes into Request, Response and *llmerr.Error once, at
// the boundary, so nothing downstream branches on provider identity.
package provider

import (
	"context"
	"time"
	"unicode/utf8"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation message. Messages are values and are
// never mutated after being appended to a session.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// NewMessage builds a message with its token estimate filled in.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Tokens: EstimateTokens(content)}
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := n / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// FinishReason is the normalized transport completion signal.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolUse       FinishReason = "tool_use"
	FinishError         FinishReason = "error"
	FinishUnknown       FinishReason = "unknown"
)

// Complete reports whether the provider stopped generating normally.
func (f FinishReason) Complete() bool {
	return f == FinishStop
}

// Request is the provider-independent shape of a completion call.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// EstimatedInputTokens sums the token estimates of all messages.
func (r *Request) EstimatedInputTokens() int {
	total := 0
	for _, m := range r.Messages {
		if m.Tokens > 0 {
			total += m.Tokens
			continue
		}
		total += EstimateTokens(m.Content)
	}
	return total
}

// Usage records token consumption for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the provider-independent result of a completion call.
type Response struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Content      string        `json:"content"`
	Usage        Usage         `json:"usage"`
	FinishReason FinishReason  `json:"finish_reason"`
	Latency      time.Duration `json:"-"`
	RequestID    string        `json:"request_id"`
}

// Adapter is implemented once per provider.
//
// Send must return either a Response or an *llmerr.Error whose kind tells the
// resilience layer whether the failure is retryable.
type Adapter interface {
	// Name returns the registry name of the provider, e.g. "anthropic".
	Name() string
	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string
	// Send performs one completion call.
	Send(ctx context.Context, req *Request) (*Response, error)
}

// ModelParams are per-provider defaults applied to requests.
type ModelParams struct {
	MaxTokens   int
	Temperature *float64
}

// Float returns a pointer to v, for optional temperature values.
func Float(v float64) *float64 {
	return &v
}
