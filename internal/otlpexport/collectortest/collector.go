// Package collectortest runs an in-process OTLP metrics collector that keeps
// every request it receives.
package collectortest

import (
	"context"
	"fmt"
	"net"
	"sync"

	collectormetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collector is an OTLP gRPC metrics server bound to an ephemeral port.
type Collector struct {
	listener   net.Listener
	grpcServer *grpc.Server
	stopOnce   sync.Once

	mu       sync.Mutex
	requests []*collectormetrics.ExportMetricsServiceRequest
	failNext int
}

// Start listens on 127.0.0.1 and serves until Stop.
func Start() (*Collector, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	c := &Collector{
		listener:   listener,
		grpcServer: grpc.NewServer(),
	}
	collectormetrics.RegisterMetricsServiceServer(c.grpcServer, &metricsService{c: c})

	go c.grpcServer.Serve(listener)
	return c, nil
}

// Endpoint returns the listening address as host:port.
func (c *Collector) Endpoint() string {
	return c.listener.Addr().String()
}

// Stop shuts the server down. Safe to call multiple times.
func (c *Collector) Stop() {
	c.stopOnce.Do(c.grpcServer.Stop)
}

// FailNext makes the next n exports fail with Unavailable.
func (c *Collector) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Requests returns the accepted requests in arrival order.
func (c *Collector) Requests() []*collectormetrics.ExportMetricsServiceRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*collectormetrics.ExportMetricsServiceRequest(nil), c.requests...)
}

// Metrics flattens every accepted request into its metrics.
func (c *Collector) Metrics() []*metricspb.Metric {
	var out []*metricspb.Metric
	for _, req := range c.Requests() {
		for _, rm := range req.GetResourceMetrics() {
			for _, sm := range rm.GetScopeMetrics() {
				out = append(out, sm.GetMetrics()...)
			}
		}
	}
	return out
}

type metricsService struct {
	collectormetrics.UnimplementedMetricsServiceServer
	c *Collector
}

func (m *metricsService) Export(
	ctx context.Context,
	req *collectormetrics.ExportMetricsServiceRequest,
) (*collectormetrics.ExportMetricsServiceResponse, error) {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()

	if m.c.failNext > 0 {
		m.c.failNext--
		return nil, status.Error(codes.Unavailable, "collector unavailable")
	}
	m.c.requests = append(m.c.requests, req)
	return &collectormetrics.ExportMetricsServiceResponse{}, nil
}
