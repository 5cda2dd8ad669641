package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingServer serves a canned JSON body and remembers the last request.
type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	lastPath string
	lastBody map[string]any
}

func newRecordingServer(t *testing.T, status int, body string) *recordingServer {
	t.Helper()
	rs := &recordingServer{}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(raw, &decoded)
		rs.mu.Lock()
		rs.lastPath = r.URL.Path
		rs.lastBody = decoded
		rs.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) request() (string, map[string]any) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastPath, rs.lastBody
}

func TestAnthropicAdapter_Send(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 12, "output_tokens": 34}
	}`)

	a, err := NewAnthropicAdapter(Options{APIKey: "test-key", BaseURL: srv.URL, DefaultModel: "claude-test"})
	require.NoError(t, err)

	resp, err := a.Send(context.Background(), &Request{
		Messages: []Message{
			NewMessage(RoleSystem, "be terse"),
			NewMessage(RoleUser, "hi"),
			NewMessage(RoleAssistant, "hello"),
			NewMessage(RoleUser, "again"),
		},
		MaxTokens:   256,
		Temperature: Float(0.1),
	})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "claude-test", resp.Model)
	assert.Equal(t, "hello world", resp.Content)
	assert.Equal(t, FinishLength, resp.FinishReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 34}, resp.Usage)
	assert.Equal(t, "msg_01", resp.RequestID)

	path, body := srv.request()
	assert.True(t, strings.HasSuffix(path, "/v1/messages"), "path=%s", path)
	assert.Equal(t, "claude-test", body["model"])
	assert.EqualValues(t, 256, body["max_tokens"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 3, "system message is sent out of band")
	assert.NotNil(t, body["system"])
}

func TestAnthropicAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   llmerr.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, llmerr.KindRateLimited},
		{"auth", http.StatusUnauthorized, llmerr.KindAuth},
		{"server", http.StatusInternalServerError, llmerr.KindServer},
		{"bad request", http.StatusBadRequest, llmerr.KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRecordingServer(t, tt.status, `{"type":"error","error":{"type":"api_error","message":"nope"}}`)
			a, err := NewAnthropicAdapter(Options{APIKey: "test-key", BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = a.Send(context.Background(), &Request{Messages: []Message{NewMessage(RoleUser, "hi")}})
			require.Error(t, err)
			le := llmerr.As(err)
			assert.Equal(t, tt.want, le.Kind)
			assert.Equal(t, "anthropic", le.Provider)
			assert.Contains(t, le.Message, ": nope", "vendor error text is kept")
		})
	}
}

func TestOpenAIAdapter_Send(t *testing.T) {
	srv := newRecordingServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-test",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "done"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12}
	}`)

	o, err := NewOpenAIAdapter(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1/", Name: "compat"})
	require.NoError(t, err)

	resp, err := o.Send(context.Background(), &Request{
		Model:     "gpt-test",
		Messages:  []Message{NewMessage(RoleSystem, "sys"), NewMessage(RoleUser, "hi")},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	assert.Equal(t, "compat", resp.Provider)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, Usage{InputTokens: 5, OutputTokens: 7}, resp.Usage)
	assert.Equal(t, "chatcmpl-1", resp.RequestID)

	path, body := srv.request()
	assert.True(t, strings.HasSuffix(path, "/chat/completions"), "path=%s", path)
	assert.Equal(t, "gpt-test", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIAdapter_ErrorClassification(t *testing.T) {
	srv := newRecordingServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`)
	o, err := NewOpenAIAdapter(Options{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	_, err = o.Send(context.Background(), &Request{Messages: []Message{NewMessage(RoleUser, "hi")}})
	require.Error(t, err)
	assert.Equal(t, llmerr.KindServer, llmerr.KindOf(err))
	assert.True(t, llmerr.KindOf(err).Retryable())
	assert.Equal(t, "status 503: overloaded", llmerr.As(err).Message)
}

func TestFinishReasonMapping(t *testing.T) {
	assert.Equal(t, FinishStop, anthropicFinishReason("end_turn"))
	assert.Equal(t, FinishStop, anthropicFinishReason("stop_sequence"))
	assert.Equal(t, FinishLength, anthropicFinishReason("max_tokens"))
	assert.Equal(t, FinishUnknown, anthropicFinishReason(""))

	assert.Equal(t, FinishStop, openAIFinishReason("stop"))
	assert.Equal(t, FinishLength, openAIFinishReason("length"))
	assert.Equal(t, FinishContentFilter, openAIFinishReason("content_filter"))
	assert.Equal(t, FinishToolUse, openAIFinishReason("tool_calls"))
}
