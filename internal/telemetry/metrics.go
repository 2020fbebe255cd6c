package telemetry

import "github.com/prometheus/client_golang/prometheus"

var CommandsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datacollector",
		Subsystem: "commands",
		Name:      "total",
		Help:      "Total number of commands processed, by action and outcome code.",
	},
	[]string{"action", "code"},
)

var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datacollector",
		Subsystem: "requests",
		Name:      "total",
		Help:      "Total number of requests processed, by action and outcome code.",
	},
	[]string{"action", "code"},
)

var TransactionsAppliedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datacollector",
		Subsystem: "transactions",
		Name:      "applied_total",
		Help:      "Total number of transactions applied, by action and source (live or regeneration).",
	},
	[]string{"action", "source"},
)

var CrossDomainCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "datacollector",
		Subsystem: "cross_domain",
		Name:      "call_duration_seconds",
		Help:      "Duration of bounded RPC calls to sibling domains.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"domain", "action", "outcome"},
)

var RegenerationRejectedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "datacollector",
		Name:      "regeneration_rejected_total",
		Help:      "Total number of requests/commands/events rejected because the domain is in regeneration mode.",
	},
)

var TickerClaimBatchesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "datacollector",
		Subsystem: "ticker",
		Name:      "claim_batches_total",
		Help:      "Total number of file-claim batches sent to Topology by the ticker sweep.",
	},
)

// All returns every DataCollector metric for registration with a Prometheus registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		CommandsTotal,
		RequestsTotal,
		TransactionsAppliedTotal,
		CrossDomainCallDuration,
		RegenerationRejectedTotal,
		TickerClaimBatchesTotal,
	}
}
