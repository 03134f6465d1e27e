// Package otlpexport forwards derived dashboard values to an OpenTelemetry
// collector as OTLP metrics over gRPC.
//
// The exporter is a render.Sink. Render only records the newest value of each
// frame; a background loop ships whatever has accumulated on a fixed
// interval, so the engine loop never waits on the network.
package otlpexport

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/tobert/livedash/internal/render"
)

// Metric names.
const (
	MetricStageDifference = "livedash.stage.difference"
	MetricBarHistogram    = "livedash.histogram"
	AttrLabel             = "livedash.label"
	AttrKey               = "livedash.key"
	scopeName             = "github.com/tobert/livedash"
)

// Config holds exporter settings.
type Config struct {
	Endpoint    string        // collector host:port
	Interval    time.Duration // flush interval; 0 means 5s
	Timeout     time.Duration // per-export timeout; 0 means 10s
	ServiceName string
	Verbose     bool
}

type gaugePoint struct {
	label string
	ts    time.Time
	value float64
}

type histPoint struct {
	label  string
	ts     time.Time
	bounds []float64
	counts []uint64
}

// Exporter is a render.Sink that exports to an OTLP collector.
type Exporter struct {
	cfg    Config
	conn   *grpc.ClientConn
	client collectormetrics.MetricsServiceClient
	now    func() time.Time

	mu      sync.Mutex
	gauges  map[string]gaugePoint
	hists   map[string]histPoint
	exports uint64
	errors  uint64
	start   time.Time
}

// New dials the collector. The connection is established lazily by gRPC.
func New(cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("OTLP endpoint cannot be empty")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "livedash"
	}

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", cfg.Endpoint, err)
	}

	return &Exporter{
		cfg:    cfg,
		conn:   conn,
		client: collectormetrics.NewMetricsServiceClient(conn),
		now:    time.Now,
		gauges: make(map[string]gaugePoint),
		hists:  make(map[string]histPoint),
		start:  time.Now(),
	}, nil
}

// Render records the newest value of time series and bar histogram frames.
// Other kinds are accepted and ignored.
func (e *Exporter) Render(f render.Frame) error {
	switch f.Kind {
	case render.KindTimeSeries:
		if len(f.Points) == 0 {
			return nil
		}
		last := f.Points[len(f.Points)-1]
		sec, frac := math.Modf(last.X)
		e.mu.Lock()
		e.gauges[f.Key] = gaugePoint{
			label: f.Title,
			ts:    time.Unix(int64(sec), int64(frac*1e9)),
			value: last.Y,
		}
		e.mu.Unlock()

	case render.KindBarHistogram:
		bounds, counts := histogramBuckets(f.Points)
		e.mu.Lock()
		e.hists[f.Key] = histPoint{label: f.Title, ts: e.now(), bounds: bounds, counts: counts}
		e.mu.Unlock()
	}
	return nil
}

// histogramBuckets converts bars at lower edges into OTLP explicit bounds.
// Bar i covers [edge_i, edge_i+1); the first bucket is the (empty) underflow.
func histogramBuckets(pts []render.Point) ([]float64, []uint64) {
	if len(pts) == 0 {
		return nil, nil
	}
	bounds := make([]float64, len(pts))
	counts := make([]uint64, len(pts)+1)
	for i, p := range pts {
		bounds[i] = p.X
		if p.Y > 0 {
			counts[i+1] = uint64(math.Round(p.Y))
		}
	}
	return bounds, counts
}

// Run flushes on the configured interval until ctx is cancelled, then
// flushes once more and closes the connection.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Timeout)
			if err := e.Flush(flushCtx); err != nil {
				log.Printf("⚠️  Final OTLP export failed: %v", err)
			}
			cancel()
			return e.conn.Close()
		case <-ticker.C:
			if err := e.Flush(ctx); err != nil {
				log.Printf("⚠️  OTLP export to %s failed: %v", e.cfg.Endpoint, err)
			}
		}
	}
}

// Flush exports everything recorded since the last flush. Nothing is sent
// when nothing was recorded. On failure the values are kept for the next
// attempt unless newer ones replace them.
func (e *Exporter) Flush(ctx context.Context) error {
	e.mu.Lock()
	gauges, hists := e.gauges, e.hists
	e.gauges = make(map[string]gaugePoint)
	e.hists = make(map[string]histPoint)
	e.mu.Unlock()

	if len(gauges) == 0 && len(hists) == 0 {
		return nil
	}

	req := e.buildRequest(gauges, hists)
	if e.cfg.Verbose {
		log.Printf("📡 OTLP export: %s", protojson.Format(req))
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	_, err := e.client.Export(ctx, req)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.errors++
		for k, v := range gauges {
			if _, newer := e.gauges[k]; !newer {
				e.gauges[k] = v
			}
		}
		for k, v := range hists {
			if _, newer := e.hists[k]; !newer {
				e.hists[k] = v
			}
		}
		return fmt.Errorf("export: %w", err)
	}
	e.exports++
	return nil
}

// Stats returns successful and failed export counts.
func (e *Exporter) Stats() (exports, failures uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exports, e.errors
}

// Close releases the connection without flushing.
func (e *Exporter) Close() error {
	return e.conn.Close()
}

func (e *Exporter) buildRequest(gauges map[string]gaugePoint, hists map[string]histPoint) *collectormetrics.ExportMetricsServiceRequest {
	var metrics []*metricspb.Metric

	if len(gauges) > 0 {
		dps := make([]*metricspb.NumberDataPoint, 0, len(gauges))
		for _, key := range sortedKeys(gauges) {
			g := gauges[key]
			dps = append(dps, &metricspb.NumberDataPoint{
				Attributes:   attributes(key, g.label),
				TimeUnixNano: uint64(g.ts.UnixNano()),
				Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: g.value},
			})
		}
		metrics = append(metrics, &metricspb.Metric{
			Name:        MetricStageDifference,
			Description: "Latest difference between two pipeline stage timestamps",
			Unit:        "us",
			Data:        &metricspb.Metric_Gauge{Gauge: &metricspb.Gauge{DataPoints: dps}},
		})
	}

	if len(hists) > 0 {
		dps := make([]*metricspb.HistogramDataPoint, 0, len(hists))
		for _, key := range sortedKeys(hists) {
			h := hists[key]
			var count uint64
			for _, c := range h.counts {
				count += c
			}
			dps = append(dps, &metricspb.HistogramDataPoint{
				Attributes:        attributes(key, h.label),
				StartTimeUnixNano: uint64(e.start.UnixNano()),
				TimeUnixNano:      uint64(h.ts.UnixNano()),
				Count:             count,
				BucketCounts:      h.counts,
				ExplicitBounds:    h.bounds,
			})
		}
		metrics = append(metrics, &metricspb.Metric{
			Name:        MetricBarHistogram,
			Description: "Publisher-aggregated histogram contents",
			Data: &metricspb.Metric_Histogram{Histogram: &metricspb.Histogram{
				DataPoints:             dps,
				AggregationTemporality: metricspb.AggregationTemporality_AGGREGATION_TEMPORALITY_CUMULATIVE,
			}},
		})
	}

	return &collectormetrics.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{stringAttr("service.name", e.cfg.ServiceName)},
			},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: scopeName},
				Metrics: metrics,
			}},
		}},
	}
}

func attributes(key, label string) []*commonpb.KeyValue {
	return []*commonpb.KeyValue{stringAttr(AttrKey, key), stringAttr(AttrLabel, label)}
}

func stringAttr(k, v string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   k,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v}},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
