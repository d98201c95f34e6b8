package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

// Task type and queue names
const (
	TypeClassifyText    = "veracity:classify_text"
	QueueClassification = "classification"
)

// ClassifyPayload is the task body of an asynchronous classification
type ClassifyPayload struct {
	JobID     string `json:"job_id"`
	Text      string `json:"text"`
	UseFusion bool   `json:"use_fusion"`
	UseML     bool   `json:"use_ml"`
	// Tracing and timing fields
	TraceID    string `json:"trace_id,omitempty"`
	SpanID     string `json:"span_id,omitempty"`
	EnqueuedAt int64  `json:"enqueued_at"` // Unix timestamp in nanoseconds
}

// NewClassifyTask builds the task for payload, stamping the enqueue time and
// the active span of ctx so the worker can continue the trace
func NewClassifyTask(ctx context.Context, payload ClassifyPayload) (*asynq.Task, error) {
	payload.EnqueuedAt = time.Now().UnixNano()
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		payload.TraceID = sc.TraceID().String()
		payload.SpanID = sc.SpanID().String()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(TypeClassifyText, data, asynq.TaskID(payload.JobID)), nil
}

// queueWait is how long the task sat in the queue
func (p ClassifyPayload) queueWait() time.Duration {
	if p.EnqueuedAt <= 0 {
		return 0
	}
	return time.Since(time.Unix(0, p.EnqueuedAt))
}
