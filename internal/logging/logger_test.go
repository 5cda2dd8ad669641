package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/llmgw/internal/config"
)

func bufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Caller.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	logger, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)
	return logger, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)

	cfg = NewDefaultConfig()
	cfg.Output.Stdout = false
	_, err = NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_JSONOutput(t *testing.T) {
	logger, buf := bufferLogger(t, nil)

	ctx := WithSessionID(context.Background(), "3f1c9a2e-7b1d-4c55-9d6e-0a1b2c3d4e5f")
	ctx = WithProvider(ctx, "claude")
	logger.Named("gateway").Info(ctx, "send completed", zap.Int("tokens", 42))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "gateway", line["logger"])
	assert.Equal(t, "send completed", line["msg"])
	assert.Equal(t, "llmgw", line["service"])
	assert.Equal(t, "3f1c9a2e-7b1d-4c55-9d6e-0a1b2c3d4e5f", line["session.id"])
	assert.Equal(t, "claude", line["provider"])
	assert.EqualValues(t, 42, line["tokens"])
}

func TestLogger_Levels(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) { c.Level = zapcore.WarnLevel })
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "warn", lines[0]["msg"])
	assert.Equal(t, "error", lines[1]["msg"])
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
}

func TestLogger_TraceLevel(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) { c.Level = TraceLevel })
	logger.Trace(context.Background(), "prompt", zap.String("body", "hello"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "trace", lines[0]["level"])
}

func TestLogger_Redaction(t *testing.T) {
	logger, buf := bufferLogger(t, nil)
	ctx := context.Background()

	logger.With(zap.String("api_key", "sk-ant-REDACTED")).Info(ctx, "configured")
	logger.Info(ctx, "using key sk-abcdefghijklmnopqrstuvwx now",
		zap.String("Authorization", "Bearer abc.def"),
		zap.String("note", "header was Bearer xyz123"),
		zap.String("model", "gpt-4o"),
	)

	out := buf.String()
	assert.NotContains(t, out, "sk-ant-REDACTED")
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwx")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "xyz123")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "[REDACTED]", lines[0]["api_key"])
	assert.Equal(t, "using key [REDACTED] now", lines[1]["msg"])
	assert.Equal(t, "[REDACTED]", lines[1]["Authorization"])
	assert.Equal(t, "header was [REDACTED]", lines[1]["note"])
	assert.Equal(t, "gpt-4o", lines[1]["model"])
}

func TestLogger_RedactionDisabled(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })
	logger.Info(context.Background(), "plain", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	base := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	_, err := NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)

	_, err = NewRedactingEncoder(base, RedactionConfig{Enabled: true, Patterns: []string{strings.Repeat("a", maxPatternLen+1)}})
	assert.Error(t, err)
}

func TestSecretFields(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "loaded",
		Secret("api_key", config.Secret("sk-1234567890")),
		RedactedString("password", "hunter2"),
	)
	tl.AssertField(t, "loaded", "api_key", "[REDACTED:13]")
	tl.AssertField(t, "loaded", "password", "[REDACTED:7]")
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	logger, buf := bufferLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: config.Duration(1e12), Initial: 2, Thereafter: 0}
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		logger.Info(ctx, "repeated info")
		logger.Error(ctx, "repeated error")
	}

	var infos, errs int
	for _, line := range decodeLines(t, buf) {
		switch line["msg"] {
		case "repeated info":
			infos++
		case "repeated error":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 10, errs)
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithRequestID(ctx, "req-1")

	tl := NewTestLogger()
	tl.Info(ctx, "traced")
	tl.AssertTraceCorrelation(t, "traced")
	tl.AssertField(t, "traced", "request.id", "req-1")
	tl.AssertField(t, "traced", "trace_sampled", true)
}

func TestContextIDs_InvalidIgnored(t *testing.T) {
	ctx := context.Background()
	for _, bad := range []string{"", "has space", "new\nline", strings.Repeat("x", maxIDLen+1)} {
		assert.Empty(t, RequestIDFromContext(WithRequestID(ctx, bad)), "%q", bad)
		assert.Empty(t, SessionIDFromContext(WithSessionID(ctx, bad)), "%q", bad)
	}
	assert.Equal(t, "openai", ProviderFromContext(WithProvider(ctx, "openai")))
}

func TestFromContext(t *testing.T) {
	nop := FromContext(context.Background())
	require.NotNil(t, nop)
	nop.Info(context.Background(), "discarded")

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from context")
	tl.AssertLogged(t, zapcore.WarnLevel, "from context")
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromSettings(config.LoggingConfig{Level: "trace"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestTestLogger_Reset(t *testing.T) {
	tl := NewTestLogger()
	tl.Debug(context.Background(), "one")
	require.Len(t, tl.All(), 1)
	tl.Reset()
	assert.Empty(t, tl.All())
}
