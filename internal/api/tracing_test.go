package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zombar/veracity/internal/tracing"
)

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func spanAttr(span *tracetest.SpanStub, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// TestPredictTracing checks that a classification is traced under the
// request span
func TestPredictTracing(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	// the analyzer resolves its tracer on construction
	env := setupTestHandler(t, &stubModel{p: 0.9})
	handler := tracing.HTTPMiddleware("veracity-test")(env.handler)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"text":"`+realText+`"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	spans := exporter.GetSpans()
	requestSpan := findSpan(spans, "POST /api/predict")
	require.NotNil(t, requestSpan, "request span not recorded")
	predictSpan := findSpan(spans, "analyzer.predict")
	require.NotNil(t, predictSpan, "analyzer.predict span not recorded")

	assert.Equal(t, requestSpan.SpanContext.TraceID(), predictSpan.SpanContext.TraceID())
	assert.Equal(t, requestSpan.SpanContext.SpanID(), predictSpan.Parent.SpanID())

	lang, ok := spanAttr(predictSpan, "language")
	require.True(t, ok)
	assert.Equal(t, "en", lang.AsString())

	length, ok := spanAttr(requestSpan, "text.length")
	require.True(t, ok)
	assert.Equal(t, int64(len(realText)), length.AsInt64())
}

// TestPredictTracing_ModelFallbackEvent checks that a failed model call is
// visible on the trace
func TestPredictTracing_ModelFallbackEvent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(noop.NewTracerProvider())

	env := setupTestHandler(t, &stubModel{err: assert.AnError})
	handler := tracing.HTTPMiddleware("veracity-test")(env.handler)

	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"text":"`+realText+`"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	predictSpan := findSpan(exporter.GetSpans(), "analyzer.predict")
	require.NotNil(t, predictSpan)

	var reasons []string
	for _, ev := range predictSpan.Events {
		if ev.Name != "model_fallback" {
			continue
		}
		for _, kv := range ev.Attributes {
			if kv.Key == "reason" {
				reasons = append(reasons, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"error"}, reasons)
}
