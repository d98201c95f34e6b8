package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/veracity/internal/metrics"
	"github.com/zombar/veracity/internal/models"
	"github.com/zombar/veracity/internal/tracing"
)

// Predictor classifies a single text
type Predictor interface {
	Predict(ctx context.Context, text string, opts models.Options) models.Prediction
}

// Worker wraps the Asynq server for processing classification jobs
type Worker struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	predictor   Predictor
	metrics     *metrics.Metrics
	concurrency int
	logger      *slog.Logger
}

// WorkerConfig contains configuration for the queue worker
type WorkerConfig struct {
	RedisAddr   string
	Concurrency int
}

// NewWorker creates a new queue worker
func NewWorker(cfg WorkerConfig, predictor Predictor, m *metrics.Metrics) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{QueueClassification: 1},
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Error("task processing error",
				"task_type", task.Type(),
				"error", err,
			)
		}),
	})

	w := &Worker{
		server:      server,
		mux:         asynq.NewServeMux(),
		predictor:   predictor,
		metrics:     m,
		concurrency: cfg.Concurrency,
		logger:      slog.Default().With("component", "worker"),
	}
	w.mux.HandleFunc(TypeClassifyText, w.handleClassify)
	return w
}

// Start runs the worker until Shutdown is called
func (w *Worker) Start() error {
	w.logger.Info("starting asynq worker",
		"concurrency", w.concurrency,
		"queue", QueueClassification,
	)
	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("asynq server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the worker
func (w *Worker) Shutdown() {
	w.logger.Info("shutting down asynq worker")
	w.server.Shutdown()
}

// handleClassify runs one classification job and stores the prediction as
// the task result
func (w *Worker) handleClassify(ctx context.Context, t *asynq.Task) error {
	var payload ClassifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		w.logger.Error("failed to unmarshal task payload", "error", err)
		w.metrics.ObserveJob("invalid")
		return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
	}

	wait := payload.queueWait()
	ctx = tracing.ContextWithRemoteParent(ctx, payload.TraceID, payload.SpanID)
	ctx, span := otel.Tracer("veracity").Start(ctx, "asynq.task.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("task.type", TypeClassifyText),
			attribute.String("job.id", payload.JobID),
			attribute.Int("text.length", len(payload.Text)),
			attribute.Float64("queue.wait_time_seconds", wait.Seconds()),
		),
	)
	defer span.End()

	w.logger.Info("classifying text",
		"job_id", payload.JobID,
		"text_length", len(payload.Text),
		"queue_wait_seconds", wait.Seconds(),
	)

	start := time.Now()
	pred := w.predictor.Predict(ctx, payload.Text, models.Options{
		UseFusion: payload.UseFusion,
		UseML:     payload.UseML,
	})
	pred.Text = payload.Text
	w.metrics.ObservePrediction(ctx, string(pred.Prediction), pred.Language, pred.Method, pred.FallbackReason, pred.Confidence, time.Since(start))

	result, err := json.Marshal(pred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal result")
		w.metrics.ObserveJob("failed")
		return fmt.Errorf("failed to marshal prediction: %v: %w", err, asynq.SkipRetry)
	}

	if rw := t.ResultWriter(); rw != nil {
		if _, err := rw.Write(result); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "write result")
			w.metrics.ObserveJob("failed")
			return fmt.Errorf("failed to write job result: %w", err)
		}
	}

	span.SetAttributes(
		attribute.String("prediction", string(pred.Prediction)),
		attribute.Float64("confidence", pred.Confidence),
	)
	w.metrics.ObserveJob("completed")
	w.logger.Info("classification completed",
		"job_id", payload.JobID,
		"prediction", pred.Prediction,
		"confidence", pred.Confidence,
		"method", pred.Method,
	)
	return nil
}
