package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/llmgw/internal/pipeline"
)

// chatServer replies to OpenAI chat completion calls with the given contents
// in order, repeating the last one.
func chatServer(t *testing.T, status int, contents ...string) *httptest.Server {
	t.Helper()
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		i := calls
		calls++
		mu.Unlock()
		if i >= len(contents) {
			i = len(contents) - 1
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error": {"message": "invalid api key", "type": "invalid_request_error"}}`)
			return
		}
		content, _ := json.Marshal(contents[i])
		_, _ = fmt.Fprintf(w, `{
			"id": "chatcmpl-%d",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": %s}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`, i, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	dir := filepath.Join(home, ".config", "llmgw")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:    dev")
}

func TestDispatchCommand(t *testing.T) {
	good := chatServer(t, http.StatusOK, "hello there")
	bad := chatServer(t, http.StatusUnauthorized)

	path := writeTestConfig(t, fmt.Sprintf(`
providers:
  good:
    type: openai
    api_key: key-good
    base_url: %s
  bad:
    type: openai
    api_key: key-bad
    base_url: %s
retry:
  max_attempts: 1
cache:
  driver: none
logging:
  level: error
`, good.URL, bad.URL))

	out, _, err := execute(t, "--config", path, "dispatch", "--providers", "good,bad", "--prompt", "hi")
	require.NoError(t, err)

	var results []dispatchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 2)

	assert.Equal(t, "bad", results[0].Provider)
	assert.Equal(t, "auth", results[0].Kind)
	assert.Nil(t, results[0].Response)

	assert.Equal(t, "good", results[1].Provider)
	require.NotNil(t, results[1].Response)
	assert.Equal(t, "hello there", results[1].Response.Content)
}

func TestDispatchCommand_AllFail(t *testing.T) {
	bad := chatServer(t, http.StatusUnauthorized)
	path := writeTestConfig(t, fmt.Sprintf(`
providers:
  bad:
    type: openai
    api_key: key-bad
    base_url: %s
retry:
  max_attempts: 1
cache:
  driver: none
logging:
  level: error
`, bad.URL))

	_, _, err := execute(t, "--config", path, "dispatch", "--prompt", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all_providers_failed")
}

func TestEnhanceCommand(t *testing.T) {
	llm := chatServer(t, http.StatusOK,
		`[{"id": "r1", "source_id": "cpi", "justification": "covers inflation"}]`,
		"Inflation rose 3% in March (CPI Bulletin).",
	)
	registry := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(registry, []byte(`
sources:
  - id: cpi
    title: CPI Bulletin
    tier: 1
    keywords: [inflation, consumer prices]
`), 0600))

	path := writeTestConfig(t, fmt.Sprintf(`
default_provider: llm
providers:
  llm:
    type: openai
    api_key: key
    base_url: %s
retry:
  max_attempts: 1
cache:
  driver: memory
logging:
  level: error
`, llm.URL))

	out, _, err := execute(t, "--config", path, "enhance", "--registry", registry, "--text", "Inflation rose in March.")
	require.NoError(t, err)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, pipeline.StatusDone, res.Status)
	assert.Equal(t, []string{"cpi"}, res.SelectedSourceIDs)
	assert.Equal(t, "Inflation rose 3% in March (CPI Bulletin).", res.EnhancedText)
}

func TestEnhanceCommand_RequiresRegistry(t *testing.T) {
	path := writeTestConfig(t, "cache:\n  driver: none\nlogging:\n  level: error\n")
	_, _, err := execute(t, "--config", path, "enhance", "--text", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source registry is required")
}

func TestReadText(t *testing.T) {
	got, err := readText("inline", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = readText("", "-", bytes.NewBufferString("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)

	_, err = readText("", "", nil)
	assert.Error(t, err)
}
