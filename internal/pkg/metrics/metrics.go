// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "loyalty"

var (
	// LedgerOperations 按流水类型和结果统计账本写入。
	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_operations_total",
		Help:      "Ledger operations by transaction type and outcome.",
	}, []string{"type", "outcome"})

	// PointsMoved 按流向统计积分绝对量，flow 与统计接口的发放、兑换、过期、调整口径一致。
	PointsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "points_moved_total",
		Help:      "Absolute points moved through the ledger, by flow.",
	}, []string{"flow"})

	LockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "customer_lock_wait_seconds",
		Help:      "Time spent waiting for the per-customer lock.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"backend"})

	// ConflictRetries 统计乐观锁冲突后的重试次数。
	ConflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "concurrent_modification_retries_total",
		Help:      "Retries caused by version conflicts on the customer account.",
	}, []string{"operation"})

	RecomputeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "recompute_duration_seconds",
		Help:      "Duration of the tier, segment and health recomputation pipeline.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"trigger"})

	BatchRefreshCustomers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_refresh_customers_total",
		Help:      "Customers processed by batch refresh runs by outcome.",
	}, []string{"outcome"})

	LedgerInconsistencies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_inconsistencies_total",
		Help:      "Replays whose folded balance disagreed with the stored balance.",
	})

	RuleEvaluationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rule_evaluation_failures_total",
		Help:      "Contained rule evaluation failures by engine.",
	}, []string{"engine"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Loyalty events published by sink and outcome.",
	}, []string{"sink", "outcome"})

	ConsumedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumed_messages_total",
		Help:      "Kafka messages consumed by topic and outcome.",
	}, []string{"topic", "outcome"})

	FeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_clients",
		Help:      "Connected dashboard websocket clients.",
	})
)
