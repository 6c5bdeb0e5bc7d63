// Package metrics exposes engine measurements as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

const namespace = "nodeflow"

// Collector implements engine.Recorder on top of Prometheus vectors.
type Collector struct {
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
}

var _ engine.Recorder = (*Collector)(nil)

// New creates a Collector and registers its vectors with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"status"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Executed nodes by type and outcome.",
		}, []string{"node_type", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time of individual node steps.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"node_type"}),
	}

	for _, col := range []prometheus.Collector{c.runs, c.runDuration, c.nodes, c.nodeDuration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RunFinished records one finished run.
func (c *Collector) RunFinished(status schema.ExecutionStatus, d time.Duration) {
	c.runs.WithLabelValues(string(status)).Inc()
	c.runDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// NodeFinished records one node step.
func (c *Collector) NodeFinished(nodeType schema.NodeType, ok bool, d time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.nodes.WithLabelValues(string(nodeType), outcome).Inc()
	c.nodeDuration.WithLabelValues(string(nodeType)).Observe(d.Seconds())
}

// RegisterPool exposes the worker pool counters, read from snapshot at
// scrape time.
func RegisterPool(reg prometheus.Registerer, snapshot func() engine.PoolMetrics) error {
	cols := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "active",
			Help: "Capability invocations currently running.",
		}, func() float64 { return float64(snapshot().Active) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "completed_total",
			Help: "Capability invocations that returned without error.",
		}, func() float64 { return float64(snapshot().Completed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "failed_total",
			Help: "Capability invocations that returned an error.",
		}, func() float64 { return float64(snapshot().Failed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "panics_total",
			Help: "Capability invocations that panicked.",
		}, func() float64 { return float64(snapshot().Panics) }),
	}
	for _, col := range cols {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// EventSource reports the state of a run event hub; streaming.MemoryHub
// satisfies it.
type EventSource interface {
	Subscribers() int
	Dropped() int64
}

// RegisterEvents exposes the live subscriber count and dropped events of src.
func RegisterEvents(reg prometheus.Registerer, src EventSource) error {
	cols := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "events", Name: "subscribers",
			Help: "Live run event subscriptions.",
		}, func() float64 { return float64(src.Subscribers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "dropped_total",
			Help: "Run events skipped because a subscriber was not keeping up.",
		}, func() float64 { return float64(src.Dropped()) }),
	}
	for _, col := range cols {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
