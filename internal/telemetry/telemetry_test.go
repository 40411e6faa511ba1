package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func testConfig() Config {
	return Config{
		ServiceName:    "orderflow-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		SampleRate:     1.0,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: ErrMissingServiceName},
		{name: "negative sample rate", mutate: func(c *Config) { c.SampleRate = -0.1 }, wantErr: ErrInvalidSampleRate},
		{name: "sample rate above one", mutate: func(c *Config) { c.SampleRate = 1.5 }, wantErr: ErrInvalidSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSetupTracing(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(tracenoop.NewTracerProvider()) })
	ctx := context.Background()
	exporter := tracetest.NewInMemoryExporter()

	cfg := testConfig()
	cfg.EnableTracing = true
	provider, err := Setup(ctx, cfg, WithSpanExporter(exporter))
	require.NoError(t, err)

	_, span := StartSpan(ctx, "OrderRepository.Save")
	_ = RecordResult(span, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "OrderRepository.Save", spans[0].Name)
	assert.Equal(t, "boom", spans[0].Status.Description)

	require.NoError(t, provider.Shutdown(ctx))
}

func TestSetupMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	cfg := testConfig()
	cfg.EnableMetrics = true
	provider, err := Setup(ctx, cfg, WithMetricReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	counter, err := provider.Meter("test").Int64Counter("orders_created_total")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestMeterWithoutMetrics(t *testing.T) {
	provider, err := Setup(context.Background(), testConfig())
	require.NoError(t, err)

	counter, err := provider.Meter("test").Int64Counter("noop_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
