// Package metrics exposes the daemon's Prometheus instrumentation: the
// indexer's progress and revert count, and per-method RPC traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polyjuice"

var registry = prometheus.NewRegistry()

var (
	// IndexerHeight is the highest base-chain block height committed to
	// the index.
	IndexerHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "height",
		Help:      "Highest indexed base-chain block height.",
	})

	// IndexerReverts counts fork-triggered reverts.
	IndexerReverts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "indexer",
		Name:      "revert_total",
		Help:      "Number of blocks reverted due to base-chain forks.",
	})

	// RPCRequests counts served JSON-RPC requests by method name.
	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "JSON-RPC requests served, by method.",
	}, []string{"method"})

	// RPCErrors counts failed JSON-RPC requests by error kind.
	RPCErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpc",
		Name:      "errors_total",
		Help:      "JSON-RPC requests that returned an error, by error kind.",
	}, []string{"kind"})
)

func init() {
	registry.MustRegister(
		IndexerHeight,
		IndexerReverts,
		RPCRequests,
		RPCErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format. The
// daemon mounts it at /metrics on the metrics listen address.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
