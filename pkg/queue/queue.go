// Package queue wraps asynq for background pipeline work. Task status
// snapshots are mirrored into Redis so the API can answer status polls
// after a task has left the queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Task types handled by the worker.
const (
	TaskTypePipelineRun     = "pipeline:run"
	TaskTypeMemoryPropagate = "memory:propagate"
	TaskTypeMemoryRetrain   = "memory:retrain"
	TaskTypeRetentionSweep  = "retention:sweep"
)

// Queue names by priority.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// PipelineRunPayload asks the worker to run the processing pipeline for
// one document. Force reruns extraction on an already-processed document.
type PipelineRunPayload struct {
	DocumentID string `json:"documentId"`
	Force      bool   `json:"force,omitempty"`
}

// MemoryPropagatePayload carries one correction into correction memory.
// Delivery is at most once.
type MemoryPropagatePayload struct {
	DocumentID   string `json:"documentId"`
	CorrectionID string `json:"correctionId"`
	DocumentType string `json:"documentType"`
}

// MemoryRetrainPayload signals that a field crossed the correction
// threshold.
type MemoryRetrainPayload struct {
	DocumentType string `json:"documentType"`
	FieldPath    string `json:"fieldPath"`
	Count        int    `json:"count"`
}

// TaskStatus is the snapshot shape stored in Redis.
type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Queue is the producer-side interface.
type Queue interface {
	EnqueuePipelineRun(ctx context.Context, p PipelineRunPayload) (string, error)
	EnqueueMemoryPropagate(ctx context.Context, p MemoryPropagatePayload) (string, error)
	EnqueueMemoryRetrain(ctx context.Context, p MemoryRetrainPayload) (string, error)
	TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	SaveStatus(ctx context.Context, status *TaskStatus) error
	Close() error
}

type Config struct {
	RedisAddr      string        `yaml:"redisAddr"`
	RedisDB        int           `yaml:"redisDB"`
	MaxRetries     int           `yaml:"maxRetries"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	ProcessTimeout time.Duration `yaml:"processTimeout"`
}

type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	cfg       Config
}

func NewAsynqQueue(cfg Config) (*AsynqQueue, error) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ProcessTimeout == 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}

	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis: redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}),
		cfg: cfg,
	}, nil
}

func (q *AsynqQueue) EnqueuePipelineRun(ctx context.Context, p PipelineRunPayload) (string, error) {
	return q.enqueue(ctx, TaskTypePipelineRun, p,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(q.cfg.ProcessTimeout),
	)
}

// EnqueueMemoryPropagate uses MaxRetry(0): a failed propagation is
// dropped, never replayed, so a correction reaches memory at most once.
func (q *AsynqQueue) EnqueueMemoryPropagate(ctx context.Context, p MemoryPropagatePayload) (string, error) {
	return q.enqueue(ctx, TaskTypeMemoryPropagate, p,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(time.Minute),
	)
}

func (q *AsynqQueue) EnqueueMemoryRetrain(ctx context.Context, p MemoryRetrainPayload) (string, error) {
	return q.enqueue(ctx, TaskTypeMemoryRetrain, p,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(time.Minute),
	)
}

func (q *AsynqQueue) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task payload: %w", err)
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType, data), opts...)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}

func (q *AsynqQueue) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	key := statusKey(taskID)
	data, err := q.redis.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	if err == nil {
		var status TaskStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status: %w", err)
		}
		return &status, nil
	}

	var info *asynq.TaskInfo
	var lastErr error
	for _, queueName := range []string{QueueCritical, QueueDefault, QueueLow} {
		info, lastErr = q.inspector.GetTaskInfo(queueName, taskID)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("task not found in any queue: %w", lastErr)
	}

	return convertTaskInfo(info), nil
}

func (q *AsynqQueue) SaveStatus(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := q.redis.Set(ctx, statusKey(status.TaskID), data, 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (q *AsynqQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return err
	}
	return q.redis.Close()
}

func statusKey(taskID string) string {
	return fmt.Sprintf("task_status:%s", taskID)
}

func convertTaskInfo(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending:
		status.Status = "pending"
	case asynq.TaskStateActive:
		status.Status = "running"
		status.Progress = 0.5
	case asynq.TaskStateCompleted:
		status.Status = "completed"
		status.Progress = 1.0
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry:
		status.Status = "retrying"
		status.Error = info.LastErr
	case asynq.TaskStateArchived:
		status.Status = "failed"
		status.Error = info.LastErr
	default:
		status.Status = "unknown"
	}

	return status
}
