package http

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return metrics, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	found := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = m.Data
		}
	}
	return found
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsRecordRequest(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	metrics.RecordRequest(ctx, "POST", "/v1/orders/", 201, 0.02)
	metrics.RecordRequest(ctx, "GET", "/v1/orders/{orderID}", 200, 0.01)
	metrics.RecordRequest(ctx, "GET", "/v1/orders/{orderID}", 404, 0.01)

	found := collectMetrics(t, reader)

	requests, ok := found["http_requests_total"].(metricdata.Sum[int64])
	if !ok {
		t.Fatal("http_requests_total not recorded")
	}
	if len(requests.DataPoints) != 3 {
		t.Errorf("expected one point per route and status, got %d", len(requests.DataPoints))
	}

	durations, ok := found["http_request_duration_seconds"].(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http_request_duration_seconds not recorded")
	}
	if len(durations.DataPoints) != 2 {
		t.Errorf("expected one duration point per route, got %d", len(durations.DataPoints))
	}
}

func TestMetricsInFlightAndReplays(t *testing.T) {
	metrics, reader := newTestMetrics(t)
	ctx := context.Background()

	doneFirst := metrics.TrackInFlight(ctx, "POST")
	doneSecond := metrics.TrackInFlight(ctx, "POST")
	doneFirst()

	if got := sumOf(t, collectMetrics(t, reader)["http_requests_in_flight"]); got != 1 {
		t.Errorf("expected 1 request in flight, got %d", got)
	}

	doneSecond()
	metrics.RecordReplay(ctx, "/v1/orders/")

	found := collectMetrics(t, reader)
	if got := sumOf(t, found["http_requests_in_flight"]); got != 0 {
		t.Errorf("expected no request in flight, got %d", got)
	}
	if got := sumOf(t, found["http_idempotent_replays_total"]); got != 1 {
		t.Errorf("expected 1 replay, got %d", got)
	}
}
