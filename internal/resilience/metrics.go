package resilience

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts executed provider calls.
	// Labels: provider, outcome (success, error, retries_exhausted, rate_limited)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgw",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	// RetriesTotal counts retry attempts after a retryable failure.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgw",
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Total number of provider call retries",
		},
		[]string{"provider", "kind"},
	)

	// RequestDuration tracks the latency of single adapter calls.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmgw",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of individual provider calls in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// TokensTotal counts reported token usage.
	// Labels: provider, direction (input, output)
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmgw",
			Subsystem: "provider",
			Name:      "tokens_total",
			Help:      "Total number of tokens reported by providers",
		},
		[]string{"provider", "direction"},
	)

	// RateLimitWait tracks time spent waiting on local rate limiters.
	// Labels: provider, limiter (requests, tokens)
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "llmgw",
			Subsystem: "provider",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for local rate limit capacity",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"provider", "limiter"},
	)
)
