package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ufindi/docintel/internal/pipeline"
	"github.com/ufindi/docintel/internal/service/document"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/queue"
)

// PipelineWorker consumes pipeline and memory tasks.
type PipelineWorker struct {
	BaseWorker
	pipeline  *pipeline.Pipeline
	docs      *document.Service
	queue     queue.Queue
	scheduler *asynq.Scheduler
}

func NewPipelineWorker(cfg Config, p *pipeline.Pipeline, docs *document.Service, q queue.Queue, log logger.Logger) (*PipelineWorker, error) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 5
	}
	if cfg.Queues == nil {
		cfg.Queues = map[string]int{
			queue.QueueCritical: 6,
			queue.QueueDefault:  3,
			queue.QueueLow:      1,
		}
	}

	redisOpt := asynq.RedisClientOpt{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
	})

	w := &PipelineWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		pipeline: p,
		docs:     docs,
		queue:    q,
	}

	if cfg.RetentionSpec != "" {
		w.scheduler = asynq.NewScheduler(redisOpt, nil)
		_, err := w.scheduler.Register(cfg.RetentionSpec,
			asynq.NewTask(queue.TaskTypeRetentionSweep, nil),
			asynq.Queue(queue.QueueLow),
		)
		if err != nil {
			return nil, fmt.Errorf("register retention schedule: %w", err)
		}
	}

	w.registerHandlers()
	return w, nil
}

func (w *PipelineWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypePipelineRun, w.handlePipelineRun)
	w.mux.HandleFunc(queue.TaskTypeMemoryPropagate, w.handleMemoryPropagate)
	w.mux.HandleFunc(queue.TaskTypeMemoryRetrain, w.handleMemoryRetrain)
	w.mux.HandleFunc(queue.TaskTypeRetentionSweep, w.handleRetentionSweep)
}

func (w *PipelineWorker) handlePipelineRun(ctx context.Context, t *asynq.Task) error {
	var payload queue.PipelineRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal pipeline payload: %w", err)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("pipeline payload missing document id")
	}

	taskID, _ := asynq.GetTaskID(ctx)
	started := time.Now().UTC()
	w.saveStatus(ctx, &queue.TaskStatus{
		TaskID: taskID, Status: "running", Progress: 0.1, StartedAt: started,
	})

	err := w.pipeline.Run(ctx, payload.DocumentID, payload.Force)
	if err != nil {
		w.saveStatus(ctx, &queue.TaskStatus{
			TaskID: taskID, Status: "failed", Error: err.Error(),
			StartedAt: started, FinishedAt: time.Now().UTC(),
		})
		return err
	}

	w.saveStatus(ctx, &queue.TaskStatus{
		TaskID: taskID, Status: "completed", Progress: 1.0,
		StartedAt: started, FinishedAt: time.Now().UTC(),
	})
	return nil
}

func (w *PipelineWorker) handleMemoryPropagate(ctx context.Context, t *asynq.Task) error {
	var payload queue.MemoryPropagatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal propagation payload: %w", err)
	}

	err := w.docs.PropagateCorrection(ctx, payload.DocumentID, payload.CorrectionID)
	if err != nil {
		// At most once: the task is not retried, so the correction stays
		// unpropagated rather than risking a double count.
		w.logger.Error("Correction propagation failed",
			logger.String("correctionID", payload.CorrectionID),
			logger.Error(err),
		)
		return nil
	}
	return nil
}

func (w *PipelineWorker) handleMemoryRetrain(ctx context.Context, t *asynq.Task) error {
	var payload queue.MemoryRetrainPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal retrain payload: %w", err)
	}

	// Model retraining runs out of band; the signal is surfaced for the
	// operators and the dashboard.
	w.logger.Info("Field flagged for retraining",
		logger.String("type", payload.DocumentType),
		logger.String("fieldPath", payload.FieldPath),
	)
	return nil
}

func (w *PipelineWorker) handleRetentionSweep(ctx context.Context, _ *asynq.Task) error {
	removed, err := w.docs.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}
	w.logger.Info("Retention sweep finished", logger.Int("removed", removed))
	return nil
}

func (w *PipelineWorker) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if status.TaskID == "" {
		return
	}
	if err := w.queue.SaveStatus(ctx, status); err != nil {
		w.logger.Warn("Failed to save task status", logger.Error(err))
	}
}

func (w *PipelineWorker) Stop() error {
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	return w.BaseWorker.Stop()
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("Worker server stopped", logger.Error(err))
		}
	}()

	if w.scheduler != nil {
		go func() {
			if err := w.scheduler.Run(); err != nil {
				w.logger.Error("Scheduler stopped", logger.Error(err))
			}
		}()
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
