package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayLatency tracks node round-trip latency per JSON-RPC method
	GatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reactor_gateway_latency_seconds",
			Help:    "Node call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// GatewayErrors tracks classified node errors
	GatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactor_gateway_errors_total",
			Help: "Total number of node call errors",
		},
		[]string{"method", "error_type"},
	)

	// GatewayReconnects counts dropped connections that forced a re-dial
	GatewayReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reactor_gateway_reconnects_total",
			Help: "Total number of node connections dropped after a transport failure",
		},
	)

	// GatewayResumes counts log subscription resume attempts
	GatewayResumes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reactor_gateway_subscription_resumes_total",
			Help: "Total number of log subscription resume attempts",
		},
	)

	// GatewayBackfilledLogs counts logs recovered through eth_getLogs
	GatewayBackfilledLogs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactor_gateway_backfilled_logs_total",
			Help: "Total number of logs delivered from historical queries",
		},
		[]string{"source"},
	)

	// RulesDiscovered counts rules accepted by the rule store
	RulesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactor_rules_discovered_total",
			Help: "Total number of rule registrations seen",
		},
		[]string{"source", "outcome"},
	)

	// RulesFinished counts watchers that reached a terminal state
	RulesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactor_rules_finished_total",
			Help: "Total number of rules whose watcher ended after executing or failing",
		},
		[]string{"state"},
	)

	// RulesRetired counts rules retired from chain execution history
	RulesRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reactor_rules_retired_total",
			Help: "Total number of rules retired because they already executed",
		},
	)

	// ActiveWatchers is the number of running condition watchers
	ActiveWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reactor_active_watchers",
			Help: "Number of running condition watchers",
		},
	)

	// ConditionChecks tracks condition evaluations by outcome
	ConditionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactor_condition_checks_total",
			Help: "Total number of condition checks",
		},
		[]string{"outcome"},
	)

	// Executions tracks execution attempts by outcome
	Executions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reactor_executions_total",
			Help: "Total number of execution attempts",
		},
		[]string{"outcome"},
	)

	// ExecutionLatency tracks time from satisfied condition to accepted transaction
	ExecutionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reactor_execution_latency_seconds",
			Help:    "Time spent building, signing and submitting an execution",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Resubscribes counts watcher level re-subscriptions
	Resubscribes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reactor_watcher_resubscribes_total",
			Help: "Total number of watcher re-subscriptions after a lost stream",
		},
	)

	// ChainHead tracks the latest head seen by discovery
	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reactor_chain_head_block",
			Help: "Latest block height seen by rule discovery",
		},
	)
)

// DBConnectionPoolUsage tracks journal database pool usage in percent
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "reactor_db_connection_pool_usage_percent",
		Help: "Execution journal database connection pool usage",
	},
)
