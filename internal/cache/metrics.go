package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Requests counts cache lookups.
// Labels: result (hit, miss, shared, corrupt, error)
var Requests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "llmgw",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Total number of cache lookups by result",
	},
	[]string{"result"},
)
