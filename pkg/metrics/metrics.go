package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/speedrun-hq/speedrun-resolver/pkg/swaperr"
)

// Metrics for monitoring
var (
	IntentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_intents_processed_total",
		Help: "Intents that left a batch, by resulting status",
	}, []string{"chain_id", "status"})

	IntentProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_intent_processing_seconds",
		Help:    "Time taken to process one intent",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	}, []string{"chain_id"})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_pending_intents",
		Help: "Pending intents fetched at the start of the last batch",
	})

	IntentRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_intent_retries_total",
		Help: "Failed passes that left an intent pending, by error kind",
	}, []string{"chain_id", "error_kind"})

	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_refunds_total",
		Help: "Refund attempts by reason and outcome",
	}, []string{"chain_id", "reason", "outcome"})

	ExecutorAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_executor_attempts_total",
		Help: "Transaction submission attempts by outcome",
	}, []string{"chain_id", "outcome"})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_gas_price_gwei",
		Help: "Last max fee per gas used for a submission, in gwei",
	}, []string{"chain_id"})

	AggregatorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_aggregator_requests_total",
		Help: "Aggregator API requests by path and result kind",
	}, []string{"path", "result"})

	AggregatorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_aggregator_request_seconds",
		Help:    "Aggregator API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolver_batch_seconds",
		Help:    "Wall-clock duration of a batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	BatchesInterrupted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_batches_interrupted_total",
		Help: "Batches that hit their deadline before every intent was visited",
	})

	IntentsDeferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_intents_deferred_total",
		Help: "Intents skipped because the chain circuit breaker was open",
	}, []string{"chain_id"})

	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_persist_failures_total",
		Help: "Intent updates that could not be saved, by the status they would have set",
	}, []string{"chain_id", "status"})
)

func chainLabel(chainID int) string {
	return strconv.Itoa(chainID)
}

// RecordIntent records one intent outcome and its processing time
func RecordIntent(chainID int, status string, took time.Duration) {
	IntentsProcessed.WithLabelValues(chainLabel(chainID), status).Inc()
	IntentProcessingTime.WithLabelValues(chainLabel(chainID)).Observe(took.Seconds())
}

// RecordRetry records a failed pass that leaves the intent pending
func RecordRetry(chainID int, kind string) {
	IntentRetries.WithLabelValues(chainLabel(chainID), kind).Inc()
}

// RecordRefund records a refund attempt
func RecordRefund(chainID int, reason string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	Refunds.WithLabelValues(chainLabel(chainID), reason, outcome).Inc()
}

// RecordExecutorAttempt records a submission attempt; err nil means confirmed
func RecordExecutorAttempt(chainID int, err error) {
	outcome := "confirmed"
	if err != nil {
		outcome = string(swaperr.KindOf(err))
	}
	ExecutorAttempts.WithLabelValues(chainLabel(chainID), outcome).Inc()
}

// RecordGasPrice stores the last fee cap used on a chain, given in wei
func RecordGasPrice(chainID int, wei float64) {
	GasPrice.WithLabelValues(chainLabel(chainID)).Set(wei / 1e9)
}

// RecordAggregatorRequest records one aggregator HTTP round trip
func RecordAggregatorRequest(path string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = string(swaperr.KindOf(err))
	}
	AggregatorRequests.WithLabelValues(path, result).Inc()
	AggregatorLatency.WithLabelValues(path).Observe(took.Seconds())
}

// RecordDeferred records an intent skipped due to an open breaker
func RecordDeferred(chainID int) {
	IntentsDeferred.WithLabelValues(chainLabel(chainID)).Inc()
}

// RecordPersistFailure records an intent update the store rejected or could not save
func RecordPersistFailure(chainID int, status string) {
	PersistFailures.WithLabelValues(chainLabel(chainID), status).Inc()
}
