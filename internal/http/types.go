package http

import (
	"github.com/fyrsmithlabs/llmgw/internal/gateway"
	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/pipeline"
	"github.com/fyrsmithlabs/llmgw/internal/prefilter"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
	"github.com/fyrsmithlabs/llmgw/internal/session"
	"github.com/fyrsmithlabs/llmgw/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                  `json:"status"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// ProvidersResponse is the response body for GET /api/v1/providers.
type ProvidersResponse struct {
	Providers []gateway.ProviderInfo `json:"providers"`
}

// CreateSessionRequest is the request body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	SystemPrompt string `json:"system_prompt"`
}

// MessageDTO is one entry of a conversation.
type MessageDTO struct {
	Role    provider.Role `json:"role"`
	Content string        `json:"content"`
}

// SessionResponse is the response body for session endpoints.
type SessionResponse struct {
	session.Info
	Messages []MessageDTO `json:"messages"`
}

// SendRequest is the request body for POST /api/v1/sessions/:id/messages.
type SendRequest struct {
	Content string `json:"content"`
}

// ResponseDTO is a provider response.
type ResponseDTO struct {
	*provider.Response
	LatencyMS int64 `json:"latency_ms"`
}

// DispatchRequest is the request body for POST /api/v1/dispatch. Prompt is
// shorthand for a single user message and is appended after Messages.
type DispatchRequest struct {
	Providers []string     `json:"providers"`
	System    string       `json:"system"`
	Messages  []MessageDTO `json:"messages"`
	Prompt    string       `json:"prompt"`
}

// DispatchItem is the outcome for one provider.
type DispatchItem struct {
	Provider  string       `json:"provider"`
	Response  *ResponseDTO `json:"response,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

// DispatchResponse is the response body for POST /api/v1/dispatch.
type DispatchResponse struct {
	Results   map[string]DispatchItem `json:"results"`
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	// Error is set when every provider failed.
	Error *ErrorDetail `json:"error,omitempty"`
}

// EnhanceRequest is the request body for POST /api/v1/enhance. Sources
// replaces the server's source registry for this call.
type EnhanceRequest struct {
	SessionID    string             `json:"session_id"`
	Provider     string             `json:"provider"`
	Model        string             `json:"model"`
	Text         string             `json:"text"`
	Instructions string             `json:"instructions"`
	Sources      []prefilter.Source `json:"sources"`
}

// EnhanceResponse is the response body for POST /api/v1/enhance. Failure is
// set when the run failed.
type EnhanceResponse struct {
	*pipeline.Result
	Failure *ErrorDetail `json:"failure,omitempty"`
}

// ErrorDetail is the body of an error envelope.
type ErrorDetail struct {
	Kind      llmerr.Kind `json:"kind"`
	Message   string      `json:"message"`
	Provider  string      `json:"provider,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Field     string      `json:"field,omitempty"`
}

// ErrorResponse is the error envelope every endpoint returns on failure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

func newResponseDTO(r *provider.Response) *ResponseDTO {
	if r == nil {
		return nil
	}
	return &ResponseDTO{Response: r, LatencyMS: r.Latency.Milliseconds()}
}

func newSessionResponse(snap session.Snapshot) SessionResponse {
	out := SessionResponse{Info: snap.Info, Messages: []MessageDTO{}}
	for _, m := range snap.History {
		out.Messages = append(out.Messages, MessageDTO{Role: m.Role, Content: m.Content})
	}
	return out
}

func newDispatchItem(r gateway.DispatchResult) DispatchItem {
	item := DispatchItem{
		Provider:  r.Provider,
		Response:  newResponseDTO(r.Response),
		LatencyMS: r.Latency.Milliseconds(),
	}
	if r.Err != nil {
		d := errorDetail(r.Err)
		item.Error = &d
	}
	return item
}

func errorDetail(e *llmerr.Error) ErrorDetail {
	msg := e.Message
	if e.Cause != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Cause.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	return ErrorDetail{
		Kind:      e.Kind,
		Message:   msg,
		Provider:  e.Provider,
		SessionID: e.SessionID,
		Field:     e.Field,
	}
}
