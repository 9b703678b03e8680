package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), Options{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupInstallsProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Setup(context.Background(), Options{
		Endpoint:       "127.0.0.1:4317",
		Insecure:       true,
		ServiceVersion: "test",
	})
	require.NoError(t, err)

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	_, span := otel.Tracer("test").Start(context.Background(), "probe")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Nothing listens on the endpoint; shutdown must still return.
	_ = shutdown(ctx)
}
