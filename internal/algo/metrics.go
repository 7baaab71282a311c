package algo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quanta_woq_nodes_total",
		Help: "Nodes visited by weight-only quantization, by algorithm and result",
	}, []string{"algorithm", "result"})

	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quanta_woq_node_duration_seconds",
		Help:    "Time to quantize and pack one weight",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"algorithm"})

	packedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quanta_woq_packed_bytes_total",
		Help: "Bytes of initializer data written by weight-only quantization",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quanta_woq_runs_total",
		Help: "Weight-only quantization runs, by algorithm and outcome",
	}, []string{"algorithm", "outcome"})
)

// Results recorded in nodesTotal.
const (
	resultPacked  = "packed"
	resultQDQ     = "qdq"
	resultSkipped = "skipped"
	resultFailed  = "failed"
)
