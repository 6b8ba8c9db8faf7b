package clientflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")
	before := otel.GetTracerProvider()

	shutdown, err := SetupTracing(context.Background())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Same(t, before, otel.GetTracerProvider())
}

func TestSetupTracing_SDKDisabledWins(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
	before := otel.GetTracerProvider()

	_, err := SetupTracing(context.Background())
	require.NoError(t, err)
	assert.Same(t, before, otel.GetTracerProvider())
}

func TestSetupTracing_InstallsSDKProvider(t *testing.T) {
	t.Setenv("OTEL_SDK_DISABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
	t.Setenv("OTEL_SERVICE_NAME", "clientflow-test")

	shutdown, err := SetupTracing(context.Background())
	require.NoError(t, err)
	defer shutdown(context.Background())

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "global provider is %T", otel.GetTracerProvider())
}
