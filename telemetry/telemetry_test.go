package telemetry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointFromEnv_Precedence(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "custom-trace:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4317")
	assert.Equal(t, "custom-trace:4317", endpointFromEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "localhost:4317"),
		"the specific env var wins over the generic one")

	os.Unsetenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	assert.Equal(t, "generic-endpoint:4317", endpointFromEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "localhost:4317"),
		"falls back to the generic env var when the specific one is unset")

	os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	assert.Equal(t, "localhost:4317", endpointFromEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "localhost:4317"),
		"falls back to the hardcoded default when neither env var is set")
}

func TestDefaultTelemetryOptions_MetricsEndpointPrecedence(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "custom-metric:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4318")

	opts := defaultTelemetryOptions()
	assert.Equal(t, "custom-metric:4318", opts.metricsEndpoint)
}

func TestDialCollector_InvalidEndpoint(t *testing.T) {
	// gRPC dials lazily, so even a malformed target does not error
	// until something tries to actually use the connection.
	conn, err := dialCollector("invalid:endpoint")
	require.NoError(t, err)
	require.NotNil(t, conn)
	_ = conn.Close()
}

func TestStart_HappyPathReturnsWorkingCleanup(t *testing.T) {
	clean, err := Start(context.Background(),
		WithTracesEndpoint("localhost:4317"),
		WithMetricsEndpoint("localhost:4318"),
	)
	require.NoError(t, err)
	require.NotNil(t, clean)
	_ = clean() // no collector is actually listening in this test
}
