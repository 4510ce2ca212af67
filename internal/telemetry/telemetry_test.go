// ABOUTME: Tests for tracer setup and the trace-aware log handler

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupDisabled(t *testing.T) {
	tel, err := Setup(t.Context(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(t.Context()))
}

func TestSetupStdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	tel, err := Setup(t.Context(), Config{Enabled: true, ServiceName: "parley-test", Writer: &buf}, nil)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(t.Context(), "provider.generate")
	span.End()

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "provider.generate")
	assert.Contains(t, buf.String(), "parley-test")
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("authorization=Bearer abc, x-team = parley ,broken,=empty")
	assert.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "parley",
	}, got)
	assert.Empty(t, parseHeaders(""))
}

func TestTraceHandlerAddsSpanIDs(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx, span := tp.Tracer("test").Start(t.Context(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
	assert.Equal(t, "test", rec["component"])
}

func TestTraceHandlerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("plain")

	assert.NotContains(t, buf.String(), "trace_id")
}
