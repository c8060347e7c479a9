package server

import (
	"time"

	"light/shielded-pool/computation"
	"light/shielded-pool/ledger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shielded_transition_requests_total",
			Help: "Total number of transition requests by kind",
		},
		[]string{"kind"},
	)

	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shielded_transition_rejections_total",
			Help: "Transition requests refused at dispatch, by kind and error category",
		},
		[]string{"kind", "category"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shielded_dispatch_duration_seconds",
			Help:    "Duration of dispatch including proof verification",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind"},
	)

	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shielded_callbacks_total",
			Help: "Resolved computations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CallbackRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shielded_callback_rejections_total",
			Help: "Callbacks refused without resolving a computation, by error category",
		},
		[]string{"category"},
	)

	EngineExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shielded_engine_execution_duration_seconds",
			Help:    "Time the reference engine spent on a job",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"kind"},
	)

	QueueWaitTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shielded_queue_wait_time_seconds",
			Help:    "Time a job spent queued before the engine picked it up",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"kind"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shielded_jobs_processed_total",
			Help: "Total number of engine jobs processed",
		},
		[]string{"status"},
	)

	PendingComputations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shielded_pending_computations",
			Help: "Computations booked and awaiting their callback",
		},
	)
)

type MetricTimer struct {
	start time.Time
	kind  string
}

func StartDispatchTimer(kind ledger.ComputationKind) *MetricTimer {
	TransitionRequestsTotal.WithLabelValues(kind.String()).Inc()
	return &MetricTimer{start: time.Now(), kind: kind.String()}
}

func (t *MetricTimer) ObserveDuration() {
	DispatchDuration.WithLabelValues(t.kind).Observe(time.Since(t.start).Seconds())
}

func (t *MetricTimer) ObserveError(err error) {
	t.ObserveDuration()
	TransitionRejections.WithLabelValues(t.kind, string(computation.CategoryOf(err))).Inc()
}

func RecordOutcome(outcome *computation.Outcome) {
	label := "rejected"
	if outcome.Applied {
		label = "applied"
	}
	CallbacksTotal.WithLabelValues(outcome.Kind.String(), label).Inc()
	PendingComputations.Dec()
}

func RecordCallbackError(err error) {
	CallbackRejections.WithLabelValues(string(computation.CategoryOf(err))).Inc()
}

func RecordJobComplete(success bool) {
	if success {
		JobsProcessed.WithLabelValues("completed").Inc()
	} else {
		JobsProcessed.WithLabelValues("failed").Inc()
	}
}
