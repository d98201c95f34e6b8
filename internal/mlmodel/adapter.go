// Package mlmodel provides the pluggable secondary classifier consulted by the
// analyzer. A Backend does the actual work; an Adapter owns one backend and
// guarantees single-flight initialization, readiness gating and timeouts.
package mlmodel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultInitTimeout    = 2 * time.Minute
	DefaultPredictTimeout = 30 * time.Second
)

var (
	// ErrNotReady is returned by Predict before initialization has completed
	ErrNotReady = errors.New("model not ready")

	// ErrInvalidProbability is returned when a backend yields a value outside [0,1]
	ErrInvalidProbability = errors.New("model returned invalid probability")
)

// Backend is a classifier producing the probability that a text is real news
type Backend interface {
	Name() string
	Initialize(ctx context.Context) error
	Predict(ctx context.Context, text string) (float64, error)
}

// Describer is implemented by backends that expose static metadata
type Describer interface {
	Describe() map[string]any
}

// Model is the capability the analyzer depends on
type Model interface {
	Name() string
	Ready() bool
	Predict(ctx context.Context, text string) (float64, error)
}

// Config bounds the blocking paths of an Adapter
type Config struct {
	InitTimeout    time.Duration
	PredictTimeout time.Duration
}

// Info is the readiness snapshot reported by the stats endpoints
type Info struct {
	Name         string         `json:"name"`
	Ready        bool           `json:"ready"`
	InitAttempts int64          `json:"init_attempts"`
	LastError    string         `json:"last_error,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Adapter wraps a Backend with single-flight initialization
type Adapter struct {
	backend Backend
	cfg     Config
	group   singleflight.Group
	ready   atomic.Bool
	inits   atomic.Int64
	lastErr atomic.Pointer[string]
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAdapter creates an adapter around backend. Zero timeouts use the defaults.
func NewAdapter(backend Backend, cfg Config) *Adapter {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.PredictTimeout <= 0 {
		cfg.PredictTimeout = DefaultPredictTimeout
	}
	return &Adapter{
		backend: backend,
		cfg:     cfg,
		logger:  slog.Default().With("component", "mlmodel", "backend", backend.Name()),
		tracer:  otel.Tracer("veracity/mlmodel"),
	}
}

// Name returns the backend name
func (a *Adapter) Name() string {
	return a.backend.Name()
}

// Ready reports whether initialization has completed successfully
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// Initialize runs the backend initialization at most once at a time.
// Concurrent callers share the in-flight attempt; once it succeeds every later
// call returns immediately. A failed attempt may be retried by a later call.
// The shared attempt runs under its own timeout, so a caller whose ctx ends
// early stops waiting without aborting the attempt for the others.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.ready.Load() {
		return nil
	}

	ch := a.group.DoChan("init", func() (any, error) {
		if a.ready.Load() {
			return nil, nil
		}
		return nil, a.initialize()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.InitTimeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "model.initialize",
		trace.WithAttributes(attribute.String("model.name", a.backend.Name())))
	defer span.End()

	attempt := a.inits.Add(1)
	start := time.Now()
	a.logger.Info("initializing model", "attempt", attempt, "timeout", a.cfg.InitTimeout)

	if err := a.backend.Initialize(ctx); err != nil {
		msg := err.Error()
		a.lastErr.Store(&msg)
		span.RecordError(err)
		span.SetStatus(codes.Error, "initialization failed")
		a.logger.Error("model initialization failed", "attempt", attempt, "error", err)
		return fmt.Errorf("initialize %s: %w", a.backend.Name(), err)
	}

	a.lastErr.Store(nil)
	a.ready.Store(true)
	a.logger.Info("model ready", "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Predict returns the probability that text is real news
func (a *Adapter) Predict(ctx context.Context, text string) (float64, error) {
	if !a.ready.Load() {
		return 0, ErrNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.PredictTimeout)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "model.predict",
		trace.WithAttributes(
			attribute.String("model.name", a.backend.Name()),
			attribute.Int("text.length", len(text)),
		))
	defer span.End()

	p, err := a.backend.Predict(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prediction failed")
		return 0, fmt.Errorf("%s prediction: %w", a.backend.Name(), err)
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		span.SetStatus(codes.Error, "invalid probability")
		return 0, fmt.Errorf("%w: %v", ErrInvalidProbability, p)
	}

	span.SetAttributes(attribute.Float64("model.real_probability", p))
	return p, nil
}

// Info returns a readiness snapshot
func (a *Adapter) Info() Info {
	info := Info{
		Name:         a.backend.Name(),
		Ready:        a.ready.Load(),
		InitAttempts: a.inits.Load(),
	}
	if msg := a.lastErr.Load(); msg != nil {
		info.LastError = *msg
	}
	if d, ok := a.backend.(Describer); ok {
		info.Details = d.Describe()
	}
	return info
}
