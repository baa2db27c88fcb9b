// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records coordination and checkpoint metrics for one rank.
type Collector struct {
	interruptsTotal   prometheus.Counter
	reduceTotal       *prometheus.CounterVec
	reduceDuration    prometheus.Histogram
	barrierTotal      *prometheus.CounterVec
	stateTransitions  *prometheus.CounterVec
	checkpointsTotal  *prometheus.CounterVec
	checkpointLatency prometheus.Histogram
	degradedMode      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a metrics collector registered under the given
// namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.interruptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of termination requests latched locally",
		},
	)

	c.reduceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reduce_calls_total",
			Help:      "Total number of group max-reduce calls",
		},
		[]string{"status"},
	)

	c.reduceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reduce_duration_seconds",
			Help:      "Group max-reduce latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)

	c.barrierTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrier_calls_total",
			Help:      "Total number of group barrier calls",
		},
		[]string{"status"},
	)

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of coordinator state transitions",
		},
		[]string{"from", "to"},
	)

	c.checkpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of triggered checkpoint writes",
		},
		[]string{"status"},
	)

	c.checkpointLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_duration_seconds",
			Help:      "Triggered checkpoint write latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	c.degradedMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_mode",
			Help:      "1 when the coordinator honors only the local interrupt flag",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordInterrupt records a locally latched termination request.
func (c *Collector) RecordInterrupt() {
	c.interruptsTotal.Inc()
}

// RecordReduce records one group max-reduce call.
func (c *Collector) RecordReduce(status string, duration time.Duration) {
	c.reduceTotal.WithLabelValues(status).Inc()
	c.reduceDuration.Observe(duration.Seconds())
}

// RecordBarrier records one group barrier call.
func (c *Collector) RecordBarrier(status string) {
	c.barrierTotal.WithLabelValues(status).Inc()
}

// RecordStateTransition records a coordinator state transition.
func (c *Collector) RecordStateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordCheckpointWrite records a triggered checkpoint write.
func (c *Collector) RecordCheckpointWrite(status string, duration time.Duration) {
	c.checkpointsTotal.WithLabelValues(status).Inc()
	c.checkpointLatency.Observe(duration.Seconds())
}

// SetDegraded flags whether this rank runs in local-only mode.
func (c *Collector) SetDegraded(degraded bool) {
	if degraded {
		c.degradedMode.Set(1)
		return
	}
	c.degradedMode.Set(0)
}
