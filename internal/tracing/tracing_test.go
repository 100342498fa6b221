package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestSetup_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := Setup(Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, prev, otel.GetTracerProvider(), "disabled tracing leaves the global provider alone")
}

func TestStart_Attributes(t *testing.T) {
	rec := useRecorder(t)

	_, span := Start(context.Background(), "notify.Run", attribute.String("date", "2025-06-01"))
	Finish(span, nil)

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "notify.Run", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("date", "2025-06-01"))
	assert.Equal(t, codes.Unset, ended[0].Status().Code)
}

func TestFinish_RecordsError(t *testing.T) {
	rec := useRecorder(t)

	_, span := Start(context.Background(), "notify.Run")
	Finish(span, errors.New("datastore unreachable"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "datastore unreachable", ended[0].Status().Description)
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 0.25, clampRatio(0.25))
	assert.Equal(t, 1.0, clampRatio(7))
}
