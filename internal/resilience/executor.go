// Package resilience wraps provider calls with local rate limiting, bounded
// per-attempt timeouts and exponential backoff retries.
//
// Only transport failures (rate limit, 5xx, timeout, network) are retried.
// Authentication and invalid-request errors are returned on first sight.
// When every attempt fails with a retryable error the caller receives a
// max_retries_exceeded error wrapping the last failure.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/llmgw/internal/llmerr"
	"github.com/fyrsmithlabs/llmgw/internal/provider"
)

// RetryConfig configures retry behavior for provider calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	// Default: 10s
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts.
	// Default: 2
	Multiplier float64

	// Jitter is the randomization factor applied to each delay, in [0,1].
	// Nil uses the default of 0.5; zero disables jitter.
	Jitter *float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         Float(0.5),
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter == nil || *c.Jitter < 0 || *c.Jitter > 1 {
		c.Jitter = d.Jitter
	}
}

func (c RetryConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.Multiplier
	if c.Jitter != nil {
		b.RandomizationFactor = *c.Jitter
	}
	return b
}

// Limits are the per-provider call limits. Zero values mean unlimited.
type Limits struct {
	RequestsPerMinute int
	TokensPerMinute   int
	// MaxWait bounds how long a call may wait for limiter capacity.
	MaxWait time.Duration
	// RequestTimeout bounds a single adapter call.
	RequestTimeout time.Duration
}

type limiterPair struct {
	limits   Limits
	requests *rate.Limiter
	tokens   *rate.Limiter
}

func newLimiterPair(l Limits) *limiterPair {
	p := &limiterPair{limits: l}
	if l.RequestsPerMinute > 0 {
		p.requests = rate.NewLimiter(rate.Limit(float64(l.RequestsPerMinute)/60), l.RequestsPerMinute)
	}
	if l.TokensPerMinute > 0 {
		p.tokens = rate.NewLimiter(rate.Limit(float64(l.TokensPerMinute)/60), l.TokensPerMinute)
	}
	return p
}

// Executor runs adapter calls under the configured limits and retry policy.
// It is safe for concurrent use.
type Executor struct {
	retry  RetryConfig
	logger *zap.Logger

	mu       sync.Mutex
	defaults Limits
	limiters map[string]*limiterPair
}

// NewExecutor creates an executor. defaults apply to providers without
// explicit limits.
func NewExecutor(retry RetryConfig, defaults Limits, logger *zap.Logger) *Executor {
	retry.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		retry:    retry,
		logger:   logger,
		defaults: defaults,
		limiters: make(map[string]*limiterPair),
	}
}

// SetLimits installs limits for a provider, replacing any existing limiter
// state.
func (e *Executor) SetLimits(providerName string, l Limits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiters[providerName] = newLimiterPair(l)
}

func (e *Executor) limiterFor(providerName string) *limiterPair {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.limiters[providerName]
	if !ok {
		p = newLimiterPair(e.defaults)
		e.limiters[providerName] = p
	}
	return p
}

// Execute sends req through a, waiting for rate-limit capacity before each
// attempt and retrying retryable failures with backoff.
func (e *Executor) Execute(ctx context.Context, a provider.Adapter, req *provider.Request) (*provider.Response, error) {
	name := a.Name()
	lim := e.limiterFor(name)
	tokens := req.EstimatedInputTokens() + req.MaxTokens

	attempts := 0
	permanent := false
	op := func() (*provider.Response, error) {
		attempts++
		if err := e.acquire(ctx, name, lim, tokens); err != nil {
			permanent = true
			return nil, backoff.Permanent(err)
		}

		resp, err := e.attempt(ctx, a, lim.limits.RequestTimeout, req)
		if err == nil {
			return resp, nil
		}

		le := llmerr.As(err).WithProvider(name)
		if ctx.Err() != nil || !le.Kind.Retryable() {
			permanent = true
			return nil, backoff.Permanent(le)
		}
		return nil, le
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.retry.newBackOff()),
		backoff.WithMaxTries(uint(e.retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			kind := llmerr.KindOf(err)
			RetriesTotal.WithLabelValues(name, string(kind)).Inc()
			e.logger.Warn("retrying provider call",
				zap.String("provider", name),
				zap.Int("attempt", attempts),
				zap.Int("max_attempts", e.retry.MaxAttempts),
				zap.String("kind", string(kind)),
				zap.Duration("backoff", next),
			)
		}),
	)
	if err == nil {
		RequestsTotal.WithLabelValues(name, "success").Inc()
		TokensTotal.WithLabelValues(name, "input").Add(float64(resp.Usage.InputTokens))
		TokensTotal.WithLabelValues(name, "output").Add(float64(resp.Usage.OutputTokens))
		if attempts > 1 {
			e.logger.Info("provider call recovered after retries",
				zap.String("provider", name),
				zap.Int("attempts", attempts),
			)
		}
		return resp, nil
	}

	var le *llmerr.Error
	if !errors.As(err, &le) {
		le = llmerr.As(err)
	}
	le = le.WithProvider(name)

	if !permanent && le.Kind.Retryable() && ctx.Err() == nil {
		RequestsTotal.WithLabelValues(name, "retries_exhausted").Inc()
		e.logger.Warn("provider call failed after all retries exhausted",
			zap.String("provider", name),
			zap.Int("attempts", attempts),
			zap.Error(le),
		)
		out := llmerr.Wrap(llmerr.KindMaxRetriesExceeded, le, "gave up after %d attempts", attempts)
		return nil, out.WithProvider(name)
	}

	RequestsTotal.WithLabelValues(name, "error").Inc()
	return nil, le
}

func (e *Executor) attempt(ctx context.Context, a provider.Adapter, timeout time.Duration, req *provider.Request) (*provider.Response, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := a.Send(callCtx, req)
	elapsed := time.Since(start)
	RequestDuration.WithLabelValues(a.Name()).Observe(elapsed.Seconds())
	if err != nil {
		return nil, err
	}
	if resp.Latency == 0 {
		resp.Latency = elapsed
	}
	return resp, nil
}

// acquire waits for request and token capacity. Token demand is clamped to
// the bucket size so oversized requests wait for a full bucket instead of
// failing outright.
func (e *Executor) acquire(ctx context.Context, name string, lim *limiterPair, tokens int) error {
	if lim.requests == nil && lim.tokens == nil {
		return nil
	}

	waitCtx := ctx
	if lim.limits.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, lim.limits.MaxWait)
		defer cancel()
	}

	if lim.requests != nil {
		if err := e.wait(ctx, waitCtx, name, "requests", lim.requests, 1); err != nil {
			return err
		}
	}
	if lim.tokens != nil && tokens > 0 {
		if tokens > lim.tokens.Burst() {
			tokens = lim.tokens.Burst()
		}
		if err := e.wait(ctx, waitCtx, name, "tokens", lim.tokens, tokens); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) wait(ctx, waitCtx context.Context, name, kind string, l *rate.Limiter, n int) error {
	start := time.Now()
	err := l.WaitN(waitCtx, n)
	RateLimitWait.WithLabelValues(name, kind).Observe(time.Since(start).Seconds())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return llmerr.As(ctx.Err()).WithProvider(name)
	}
	RequestsTotal.WithLabelValues(name, "rate_limited").Inc()
	e.logger.Warn("local rate limit wait exceeded",
		zap.String("provider", name),
		zap.String("limiter", kind),
		zap.Int("n", n),
	)
	return llmerr.Wrap(llmerr.KindRateLimited, err, "local %s limit exceeded max wait", kind).WithProvider(name)
}
