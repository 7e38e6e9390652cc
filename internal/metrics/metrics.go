package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsClassified tracks classified errors per resulting type
	ErrorsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_errors_classified_total",
			Help: "Total number of errors classified",
		},
		[]string{"type"},
	)

	// RetryAttempts tracks operation attempts per operation and outcome
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_retry_attempts_total",
			Help: "Total number of operation attempts inside the retry loop",
		},
		[]string{"operation", "outcome"},
	)

	// RetryDelay tracks computed inter-attempt backoff delays
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rescue_retry_delay_seconds",
			Help:    "Computed inter-attempt backoff delay in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"error_type"},
	)

	// CircuitState tracks breaker state per operation
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rescue_circuit_state",
			Help: "Circuit breaker state per operation (0=closed, 1=half_open, 2=open)",
		},
		[]string{"operation"},
	)

	// CircuitTransitions tracks breaker state transitions
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_circuit_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"operation", "to"},
	)

	// CheckpointsCreated tracks created checkpoints
	CheckpointsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescue_checkpoints_created_total",
			Help: "Total number of checkpoints created",
		},
	)

	// CheckpointsRestored tracks successful checkpoint restores
	CheckpointsRestored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescue_checkpoints_restored_total",
			Help: "Total number of successful checkpoint restores",
		},
	)

	// CheckpointsExpired tracks checkpoints removed by retention cleanup
	CheckpointsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescue_checkpoints_expired_total",
			Help: "Total number of checkpoints deleted by retention cleanup",
		},
	)

	// ReportsTotal tracks persisted error reports per sink
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescue_reports_total",
			Help: "Total number of error reports written",
		},
		[]string{"sink"},
	)

	// UserActionsTracked tracks observed user actions
	UserActionsTracked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescue_user_actions_tracked_total",
			Help: "Total number of user actions recorded",
		},
	)

	// DBConnectionPoolUsage tracks the database pool utilization percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rescue_db_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
