// Package metrics provides Prometheus metrics for livedash.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/transport"
)

const namespace = "livedash"

// Collector instruments the engine. It implements engine.Observer.
type Collector struct {
	registry *prometheus.Registry

	// Gauges
	entities prometheus.Gauge

	// Counters
	fetches    *prometheus.CounterVec
	snapshots  *prometheus.CounterVec
	recoveries *prometheus.CounterVec
	renders    *prometheus.CounterVec

	// Histograms
	fetchDuration   prometheus.Histogram
	serviceDuration *prometheus.HistogramVec
}

var _ engine.Observer = (*Collector)(nil)

// NewCollector creates a collector on its own registry, with the Go runtime
// and process collectors included.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	c := &Collector{registry: reg}

	c.entities = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "entities",
		Help:      "Render entities created this session",
	})

	c.fetches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetches_total",
		Help:      "Snapshot fetches by result",
	}, []string{"result"})

	c.snapshots = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshots_total",
		Help:      "Snapshots seen by source and whether they changed",
	}, []string{"source", "result"})

	c.recoveries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovered_errors_total",
		Help:      "Errors logged and recovered without stopping the loop",
	}, []string{"kind"})

	c.renders = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "renders_total",
		Help:      "Sink invocations by entity kind and result",
	}, []string{"kind", "result"})

	c.fetchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Snapshot fetch latency",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	c.serviceDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "class_service_duration_seconds",
		Help:      "Time to derive and render one update class",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"class"})

	return c
}

// Registry exposes the registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WatchPush exports the push client's counters.
func (c *Collector) WatchPush(stats func() transport.PushStats) {
	auto := promauto.With(c.registry)
	counter := func(name, help string, get func(transport.PushStats) uint64) {
		auto.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}

	counter("connects_total", "Websocket connections established", func(s transport.PushStats) uint64 { return s.Connects })
	counter("frames_total", "Websocket frames received", func(s transport.PushStats) uint64 { return s.Frames })
	counter("malformed_frames_total", "Frames skipped as malformed", func(s transport.PushStats) uint64 { return s.Malformed })
	counter("failures_total", "Connection failures followed by a reconnect", func(s transport.PushStats) uint64 { return s.Failures })
}

// FetchDone records a completed fetch.
func (c *Collector) FetchDone(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.fetches.WithLabelValues(result).Inc()
	c.fetchDuration.Observe(d.Seconds())
}

// SnapshotSeen records a fetched or pushed snapshot.
func (c *Collector) SnapshotSeen(src engine.Source, accepted bool) {
	result := "unchanged"
	if accepted {
		result = "accepted"
	}
	c.snapshots.WithLabelValues(string(src), result).Inc()
}

// ClassServiced records one service of an update class.
func (c *Collector) ClassServiced(class render.Class, d time.Duration) {
	c.serviceDuration.WithLabelValues(string(class)).Observe(d.Seconds())
}

// Recovered counts a logged and recovered error.
func (c *Collector) Recovered(f engine.Failure) {
	c.recoveries.WithLabelValues(string(f)).Inc()
}

// Rendered counts a sink invocation.
func (c *Collector) Rendered(kind render.Kind, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.renders.WithLabelValues(kind.String(), result).Inc()
}

// Entities sets the entity count.
func (c *Collector) Entities(n int) {
	c.entities.Set(float64(n))
}
