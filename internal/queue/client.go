package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zombar/veracity/internal/models"
)

const (
	DefaultTaskTimeout = 2 * time.Minute
	DefaultRetention   = time.Hour
)

// ErrJobNotFound is returned for unknown or expired job ids
var ErrJobNotFound = errors.New("job not found")

// Client wraps the Asynq client and inspector for enqueueing and polling jobs
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	cfg       ClientConfig
}

// ClientConfig contains configuration for the queue client
type ClientConfig struct {
	RedisAddr   string
	TaskTimeout time.Duration
	Retention   time.Duration
}

// NewClient creates a new queue client
func NewClient(cfg ClientConfig) *Client {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		cfg:       cfg,
	}
}

// taskOptions are applied to every classification task. Jobs never retry.
func (c *Client) taskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(c.cfg.TaskTimeout),
		asynq.Queue(QueueClassification),
		asynq.Retention(c.cfg.Retention),
	}
}

// EnqueueClassify enqueues a classification job and returns its id
func (c *Client) EnqueueClassify(ctx context.Context, text string, opts models.Options) (string, error) {
	jobID := uuid.NewString()

	task, err := NewClassifyTask(ctx, ClassifyPayload{
		JobID:     jobID,
		Text:      text,
		UseFusion: opts.UseFusion,
		UseML:     opts.UseML,
	})
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task, c.taskOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue classify task: %w", err)
	}

	trace.SpanFromContext(ctx).AddEvent("task_enqueued", trace.WithAttributes(
		attribute.String("task.type", TypeClassifyText),
		attribute.String("job.id", info.ID),
		attribute.String("queue", info.Queue),
	))
	return info.ID, nil
}

// JobStatus looks up a job by id
func (c *Client) JobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	info, err := c.inspector.GetTaskInfo(QueueClassification, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to inspect job %s: %w", jobID, err)
	}
	return toJobStatus(info)
}

// Close releases the redis connections
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// toJobStatus converts task info, decoding the stored prediction of completed jobs
func toJobStatus(info *asynq.TaskInfo) (*models.JobStatus, error) {
	status := &models.JobStatus{
		JobID:     info.ID,
		State:     info.State.String(),
		LastError: info.LastErr,
	}

	if info.State == asynq.TaskStateCompleted {
		if !info.CompletedAt.IsZero() {
			completed := info.CompletedAt
			status.CompletedAt = &completed
		}
		if len(info.Result) > 0 {
			var pred models.Prediction
			if err := json.Unmarshal(info.Result, &pred); err != nil {
				return nil, fmt.Errorf("failed to decode result of job %s: %w", info.ID, err)
			}
			status.Result = &pred
		}
	}
	return status, nil
}
