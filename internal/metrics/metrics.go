package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	rateLimitWait      prometheus.Histogram
	batchSize          prometheus.Histogram
	verificationsTotal *prometheus.CounterVec
	reconciledTotal    *prometheus.CounterVec
	pendingBatchItems  prometheus.Gauge
)

func Init(serviceName string) {
	serviceName = sanitizeNamespace(serviceName)
	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "ledger_submissions_total",
			Help:      "Ledger submissions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	submissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "ledger_submission_duration_seconds",
			Help:      "Ledger submission round-trip duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	rateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "rate_limit_wait_seconds",
			Help:      "Wait imposed by the submission token bucket",
			Buckets:   []float64{0, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "merkle_batch_size",
			Help:      "Items per submitted Merkle batch",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)
	verificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "verifications_total",
			Help:      "Mirror verifications by outcome",
		},
		[]string{"outcome"},
	)
	reconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "reconciled_items_total",
			Help:      "Reconciliation job items by outcome",
		},
		[]string{"outcome"},
	)
	pendingBatchItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Name:      "pending_batch_items",
			Help:      "Items waiting in the batch aggregator window",
		},
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// sanitizeNamespace maps a service name onto the metric name charset.
func sanitizeNamespace(name string) string {
	out := []byte(name)
	for i, c := range out {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9' && i > 0, c == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

func ObserveSubmission(mode, outcome string, duration, wait time.Duration) {
	if submissionsTotal == nil {
		return
	}
	submissionsTotal.WithLabelValues(mode, outcome).Inc()
	submissionDuration.WithLabelValues(mode).Observe(duration.Seconds())
	rateLimitWait.Observe(wait.Seconds())
}

func ObserveBatch(items int) {
	if batchSize == nil {
		return
	}
	batchSize.Observe(float64(items))
}

func ObserveVerification(outcome string) {
	if verificationsTotal == nil {
		return
	}
	verificationsTotal.WithLabelValues(outcome).Inc()
}

func IncReconciled(outcome string) {
	if reconciledTotal == nil {
		return
	}
	reconciledTotal.WithLabelValues(outcome).Inc()
}

func SetPendingBatchItems(n int) {
	if pendingBatchItems == nil {
		return
	}
	pendingBatchItems.Set(float64(n))
}
