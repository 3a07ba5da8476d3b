// Package metrics provides Prometheus metrics for courier.
// It tracks the publish and consume pipelines, the retry scheduler, and
// the cleanup collector, to make delivery lag and failure buildup visible.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "courier"
)

// Delivery metrics track the publish and consume paths.
var (
	// PublishedTotal counts publish attempts by result.
	PublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Total number of publish attempts by result",
		},
		[]string{"result"},
	)

	// ConsumedTotal counts subscriber invocations by result.
	ConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumed_total",
			Help:      "Total number of subscriber invocations by result",
		},
		[]string{"result"},
	)

	// CallbacksTotal counts compensating messages produced after a
	// successful consume.
	CallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Total number of compensating messages produced",
		},
	)

	// SendLatency measures the transport send time for one message.
	SendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_latency_seconds",
			Help:      "Transport send time for a single message in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// InvokeLatency measures a single subscriber invocation.
	InvokeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invoke_latency_seconds",
			Help:      "Subscriber invocation time in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// Scheduler metrics track the retry machinery.
var (
	// RetriesTotal counts retry attempts driven by the scheduler.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retry attempts driven by the scheduler",
		},
		[]string{"kind"},
	)

	// RetriesExhaustedTotal counts messages that reached the retry ceiling.
	RetriesExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Total number of messages that exhausted their retries",
		},
		[]string{"kind"},
	)

	// LockSkipsTotal counts messages skipped because another instance
	// held the lease.
	LockSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_skips_total",
			Help:      "Total number of retry candidates skipped due to lock contention",
		},
		[]string{"kind"},
	)

	// SchedulerPassDuration measures one scheduler poll pass.
	SchedulerPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_pass_duration_seconds",
			Help:      "Duration of one retry scheduler pass in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		},
	)
)

// Collector metrics track storage reclamation.
var (
	// CleanupDeletedTotal counts messages removed by the cleanup collector.
	CleanupDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_total",
			Help:      "Total number of expired messages deleted",
		},
		[]string{"kind"},
	)

	// CleanupPassDuration measures one cleanup sweep.
	CleanupPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cleanup_pass_duration_seconds",
			Help:      "Duration of one cleanup sweep in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
	)
)
