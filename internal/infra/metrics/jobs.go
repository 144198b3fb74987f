package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(jobsProcessedTotal, jobsAdmissionRejected, jobsStalledReclaimed, deliveryLatencyMs)
}

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_jobs_processed_total",
		Help: "Delivery jobs reaching a terminal attempt outcome, by status.",
	},
	[]string{"status"}, // 'completed', 'retried', 'failed'
)

var jobsAdmissionRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "delivery_admission_rejected_total",
		Help: "Enqueue requests rejected at admission, by reason.",
	},
	[]string{"reason"}, // 'rate_limit', 'duplicate'
)

var jobsStalledReclaimed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "delivery_jobs_stalled_reclaimed_total",
		Help: "Active jobs reclaimed by the stall sweeper.",
	},
)

var deliveryLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "delivery_latency_ms",
		Help:    "Per-attempt delivery latency in milliseconds.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	},
	[]string{"strategy", "success"}, // 'api' | 'automation'
)

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func IncAdmissionRejected(reason string) {
	jobsAdmissionRejected.WithLabelValues(norm(reason)).Inc()
}

func IncStalledReclaimed() { jobsStalledReclaimed.Inc() }

func ObserveDelivery(strategy string, latencyMs int, success bool) {
	deliveryLatencyMs.WithLabelValues(norm(strategy), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
