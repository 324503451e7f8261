package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskAppend is the asynq task type carrying one audit record.
	TaskAppend = "audit:append"
	// QueueAudit is the queue audit writes are drained from.
	QueueAudit = "audit"
)

// Enqueuer is the subset of asynq.Client used by QueueStore.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueStore hands records to a background worker instead of writing them
// inline. The worker persists them with HandleAppendTask.
type QueueStore struct {
	client   Enqueuer
	maxRetry int
}

// NewQueueStore constructs a QueueStore.
func NewQueueStore(client Enqueuer, maxRetry int) *QueueStore {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &QueueStore{client: client, maxRetry: maxRetry}
}

// NewAppendTask wraps rec into an asynq task. The record id doubles as the
// task id so a record is enqueued at most once.
func NewAppendTask(rec Record) (*asynq.Task, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAppend, data), nil
}

// Append enqueues the record.
func (s *QueueStore) Append(ctx context.Context, rec Record) error {
	if s == nil || s.client == nil {
		return errors.New("audit queue not initialised")
	}
	task, err := NewAppendTask(rec)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueAudit),
		asynq.TaskID(rec.ID),
		asynq.MaxRetry(s.maxRetry))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// HandleAppendTask returns the worker handler persisting queued records.
func HandleAppendTask(store Store) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var rec Record
		if err := json.Unmarshal(t.Payload(), &rec); err != nil {
			return fmt.Errorf("audit: decode task: %v: %w", err, asynq.SkipRetry)
		}
		return store.Append(ctx, rec)
	}
}
