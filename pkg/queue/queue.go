package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	cfg "github.com/pagewise/reader/config"
)

// Task types handled by the pipeline worker.
const (
	TaskTypeIngest  = "document:ingest"
	TaskTypeConvert = "document:convert"
)

// Queue is the task queue interface.
type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	SaveStatus(ctx context.Context, status *TaskStatus) error
}

// Task is one unit of background work. DocumentID is the subject document;
// Payload carries any extra per-task data.
type Task struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	DocumentID string            `json:"documentId"`
	Payload    map[string]string `json:"payload,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// TaskStatus is the queue-level view of a task. Document-level outcomes are
// observed through the document's own status fields, not here.
type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// AsynqQueue implements Queue on asynq with task status mirrored in Redis.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	ttl       time.Duration
}

type QueueConfig struct {
	RedisAddr string
	RedisDB   int
	StatusTTL time.Duration
}

// GetQueue builds a queue from the application configuration.
func GetQueue() (*AsynqQueue, error) {
	app := cfg.GetAppConfig()
	return NewAsynqQueue(&QueueConfig{
		RedisAddr: app.RedisAddr,
		RedisDB:   app.RedisDB,
		StatusTTL: 24 * time.Hour,
	})
}

func NewAsynqQueue(c *QueueConfig) (*AsynqQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr: c.RedisAddr,
		DB:   c.RedisDB,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: c.RedisAddr,
		DB:   c.RedisDB,
	})

	ttl := c.StatusTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
		ttl:       ttl,
	}, nil
}

// Enqueue adds the task to the default queue. Ingestion tasks get a higher
// priority queue than conversions so a backlog of conversions cannot starve
// fresh uploads.
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(3),
		asynq.Timeout(30 * time.Minute),
		asynq.TaskID(task.ID),
	}
	if task.Type == TaskTypeIngest {
		opts = append(opts, asynq.Queue("critical"))
	} else {
		opts = append(opts, asynq.Queue("default"))
	}

	t := asynq.NewTask(task.Type, payload, opts...)
	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID

	return nil
}

// GetTaskStatus reads the task status, preferring the Redis mirror.
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	key := fmt.Sprintf("task_status:%s", taskID)
	data, err := q.redis.Get(ctx, key).Bytes()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	if err == nil {
		var status TaskStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal status: %w", err)
		}
		return &status, nil
	}

	queues := []string{"critical", "default"}
	var info *asynq.TaskInfo
	var lastErr error
	for _, queueName := range queues {
		info, err = q.inspector.GetTaskInfo(queueName, taskID)
		if err == nil {
			break
		}
		lastErr = err
	}
	if info == nil {
		return nil, fmt.Errorf("task not found in any queue: %w", lastErr)
	}

	return convertAsynqStatus(info), nil
}

// SaveStatus mirrors a task status into Redis with a TTL.
func (q *AsynqQueue) SaveStatus(ctx context.Context, status *TaskStatus) error {
	key := fmt.Sprintf("task_status:%s", status.TaskID)
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := q.redis.Set(ctx, key, data, q.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}

	return nil
}

func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending:
		status.Status = "pending"
	case asynq.TaskStateActive:
		status.Status = "running"
	case asynq.TaskStateCompleted:
		status.Status = "completed"
		status.FinishedAt = info.CompletedAt
	case asynq.TaskStateRetry:
		status.Status = "failed"
		status.Error = info.LastErr
	}

	return status
}
