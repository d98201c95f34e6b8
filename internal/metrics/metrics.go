// Package metrics holds the Prometheus collectors of the classification service.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	PredictionsTotal  *prometheus.CounterVec
	ModelFallbacks    *prometheus.CounterVec
	PredictionLatency *prometheus.HistogramVec
	Confidence        *prometheus.HistogramVec
	ModelReady        prometheus.Gauge
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	JobsTotal         *prometheus.CounterVec
	Verifications     *prometheus.CounterVec
}

// New creates and registers the collectors under namespace on reg.
// A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Total number of classifications by outcome",
			},
			[]string{"prediction", "language", "method"},
		),
		ModelFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_fallbacks_total",
				Help:      "Classifications that requested the model but fell back to rules",
			},
			[]string{"reason"},
		),
		PredictionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prediction_duration_seconds",
				Help:      "Duration of a single classification",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16), // 0.5ms to ~16s
			},
			[]string{"method"},
		),
		Confidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prediction_confidence",
				Help:      "Reported confidence of classifications",
				Buckets:   prometheus.LinearBuckets(0.1, 0.05, 18),
			},
			[]string{"prediction"},
		),
		ModelReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_ready",
				Help:      "1 when the model adapter is initialized",
			},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Asynchronous classification jobs by outcome",
			},
			[]string{"status"},
		),
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Logical verification reports by verdict",
			},
			[]string{"verdict"},
		),
	}
}

// ObservePrediction records one classification outcome
func (m *Metrics) ObservePrediction(ctx context.Context, prediction, language, method, fallbackReason string, confidence float64, took time.Duration) {
	if m == nil {
		return
	}
	m.PredictionsTotal.WithLabelValues(prediction, language, method).Inc()
	m.Confidence.WithLabelValues(prediction).Observe(confidence)
	if fallbackReason != "" {
		m.ModelFallbacks.WithLabelValues(fallbackReason).Inc()
	}
	observeWithExemplar(ctx, m.PredictionLatency.WithLabelValues(method), took.Seconds())
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())
}

// ObserveJob records the outcome of an asynchronous job
func (m *Metrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(status).Inc()
}

// ObserveVerification records the verdict of a verification report
func (m *Metrics) ObserveVerification(verdict string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(verdict).Inc()
}

// SetModelReady exports the model readiness flag
func (m *Metrics) SetModelReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.ModelReady.Set(1)
	} else {
		m.ModelReady.Set(0)
	}
}

// observeWithExemplar attaches the active trace id as an exemplar when present
func observeWithExemplar(ctx context.Context, obs prometheus.Observer, v float64) {
	sc := trace.SpanContextFromContext(ctx)
	if eo, ok := obs.(prometheus.ExemplarObserver); ok && sc.HasTraceID() {
		eo.ObserveWithExemplar(v, prometheus.Labels{"trace_id": sc.TraceID().String()})
		return
	}
	obs.Observe(v)
}
