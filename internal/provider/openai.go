package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIAdapter implements Adapter for OpenAI and OpenAI-compatible chat
// completion APIs (DeepSeek, Groq, Qwen and similar, selected by BaseURL).
type OpenAIAdapter struct {
	client openai.Client
	name   string
	model  string
}

// NewOpenAIAdapter creates an adapter for an OpenAI-compatible endpoint. SDK
// retries are disabled; retry policy belongs to the resilience layer.
func NewOpenAIAdapter(opts Options) (*OpenAIAdapter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	name := opts.Name
	if name == "" {
		name = "openai"
	}
	model := opts.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		name:   name,
		model:  model,
	}, nil
}

func (o *OpenAIAdapter) Name() string         { return o.name }
func (o *OpenAIAdapter) DefaultModel() string { return o.model }

// Send performs a non-streaming chat completion call.
func (o *OpenAIAdapter) Send(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: o.buildMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	completion, err := o.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, o.translateError(err)
	}
	if len(completion.Choices) == 0 {
		return &Response{
			Provider:     o.name,
			Model:        completion.Model,
			FinishReason: FinishError,
			Latency:      latency,
			RequestID:    completion.ID,
		}, nil
	}

	choice := completion.Choices[0]
	return &Response{
		Provider:     o.name,
		Model:        completion.Model,
		Content:      choice.Message.Content,
		FinishReason: openAIFinishReason(string(choice.FinishReason)),
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
		Latency:   latency,
		RequestID: completion.ID,
	}, nil
}

func (o *OpenAIAdapter) buildMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(m.Content))
		default:
			params = append(params, openai.UserMessage(m.Content))
		}
	}
	return params
}

func (o *OpenAIAdapter) translateError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = apiMessage(apiErr.RawJSON())
		}
		return fromStatus(o.name, statusError{status: apiErr.StatusCode, message: msg, cause: err})
	}
	return classify(o.name, err)
}

func openAIFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishStop
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	case "tool_calls", "function_call":
		return FinishToolUse
	default:
		return FinishUnknown
	}
}

var _ Adapter = (*OpenAIAdapter)(nil)
