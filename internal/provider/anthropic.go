package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// Options configures a concrete adapter.
type Options struct {
	// Name is the registry name; defaults to the vendor name.
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	// HTTPClient overrides the SDK transport, mainly for tests.
	HTTPClient *http.Client
}

// AnthropicAdapter implements Adapter on the Anthropic Messages API.
type AnthropicAdapter struct {
	client anthropic.Client
	name   string
	model  string
}

// NewAnthropicAdapter creates an adapter for the Anthropic API. SDK retries
// are disabled; retry policy belongs to the resilience layer.
func NewAnthropicAdapter(opts Options) (*AnthropicAdapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	name := opts.Name
	if name == "" {
		name = "anthropic"
	}
	model := opts.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}

	reqOpts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(opts.APIKey),
		anthropicoption.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, anthropicoption.WithHTTPClient(opts.HTTPClient))
	}

	return &AnthropicAdapter{
		client: anthropic.NewClient(reqOpts...),
		name:   name,
		model:  model,
	}, nil
}

func (a *AnthropicAdapter) Name() string         { return a.name }
func (a *AnthropicAdapter) DefaultModel() string { return a.model }

// Send performs a non-streaming Messages call.
func (a *AnthropicAdapter) Send(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, msgs := a.buildMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, a.translateError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &Response{
		Provider:     a.name,
		Model:        string(msg.Model),
		Content:      text.String(),
		FinishReason: anthropicFinishReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Latency:   latency,
		RequestID: msg.ID,
	}, nil
}

// buildMessages splits system messages out (Anthropic takes them as a
// top-level parameter) and converts the rest.
func (a *AnthropicAdapter) buildMessages(msgs []Message) (string, []anthropic.MessageParam) {
	var system []string
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), params
}

func (a *AnthropicAdapter) translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return fromStatus(a.name, statusError{
			status:  apiErr.StatusCode,
			message: apiMessage(apiErr.RawJSON()),
			cause:   err,
		})
	}
	return classify(a.name, err)
}

func anthropicFinishReason(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return FinishStop
	case "max_tokens":
		return FinishLength
	case "tool_use":
		return FinishToolUse
	case "refusal":
		return FinishContentFilter
	default:
		return FinishUnknown
	}
}

var _ Adapter = (*AnthropicAdapter)(nil)
