package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pagewise/reader/internal/convert"
	"github.com/pagewise/reader/internal/ingest"
	"github.com/pagewise/reader/pkg/logger"
	"github.com/pagewise/reader/pkg/queue"
)

// PipelineWorker consumes ingestion and conversion tasks. Ingestion runs on
// the critical queue so fresh uploads are never starved by a conversion
// backlog.
type PipelineWorker struct {
	BaseWorker
	orchestrator *ingest.Orchestrator
	conversions  *convert.Service
	tasks        queue.Queue
}

func NewPipelineWorker(cfg *Config, orchestrator *ingest.Orchestrator, conversions *convert.Service, tasks queue.Queue, log logger.Logger) (*PipelineWorker, error) {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
		},
	)

	w := &PipelineWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log.Named("worker"),
			stopChan: make(chan struct{}),
		},
		orchestrator: orchestrator,
		conversions:  conversions,
		tasks:        tasks,
	}

	w.registerHandlers()
	return w, nil
}

func (w *PipelineWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeIngest, w.handleIngest)
	w.mux.HandleFunc(queue.TaskTypeConvert, w.handleConvert)
}

func (w *PipelineWorker) handleIngest(ctx context.Context, t *asynq.Task) error {
	task, err := w.decodeTask(t)
	if err != nil {
		return err
	}

	w.logger.Info("processing ingest task",
		logger.String("taskId", task.ID),
		logger.String("documentId", task.DocumentID),
	)
	w.markRunning(ctx, task)

	if err := w.orchestrator.Process(ctx, task.DocumentID); err != nil {
		w.markFinished(ctx, task, err)
		return fmt.Errorf("ingest %s: %w", task.DocumentID, err)
	}

	w.markFinished(ctx, task, nil)
	return nil
}

func (w *PipelineWorker) handleConvert(ctx context.Context, t *asynq.Task) error {
	task, err := w.decodeTask(t)
	if err != nil {
		return err
	}

	w.logger.Info("processing convert task",
		logger.String("taskId", task.ID),
		logger.String("documentId", task.DocumentID),
	)
	w.markRunning(ctx, task)

	if err := w.conversions.Process(ctx, task.DocumentID); err != nil {
		w.markFinished(ctx, task, err)
		return fmt.Errorf("convert %s: %w", task.DocumentID, err)
	}

	w.markFinished(ctx, task, nil)
	return nil
}

func (w *PipelineWorker) decodeTask(t *asynq.Task) (*queue.Task, error) {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return nil, fmt.Errorf("unmarshaling task: %w", err)
	}
	if task.DocumentID == "" {
		return nil, fmt.Errorf("task %s has no document id", task.ID)
	}
	return &task, nil
}

// markRunning and markFinished mirror queue-level progress into the status
// store. Document-level outcomes live on the document itself; this is only
// for task inspection.
func (w *PipelineWorker) markRunning(ctx context.Context, task *queue.Task) {
	status := &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := w.tasks.SaveStatus(ctx, status); err != nil {
		w.logger.Warn("failed to save task status", logger.Error(err))
	}
}

func (w *PipelineWorker) markFinished(ctx context.Context, task *queue.Task, taskErr error) {
	status := &queue.TaskStatus{
		TaskID:     task.ID,
		Status:     "completed",
		FinishedAt: time.Now().UTC(),
	}
	if taskErr != nil {
		status.Status = "failed"
		status.Error = taskErr.Error()
	}
	if err := w.tasks.SaveStatus(ctx, status); err != nil {
		w.logger.Warn("failed to save task status", logger.Error(err))
	}
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Run(w.mux); err != nil {
			w.logger.Error("worker server stopped", logger.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}
