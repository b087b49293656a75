package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"settlement-gateway/internal/models"
)

// AsynqPublisher enqueues outbox events as asynq tasks. The event id is the
// task id, so a republished event is deduplicated by the queue.
type AsynqPublisher struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewAsynqPublisher(redisAddr, queue string, maxRetry int) *AsynqPublisher {
	return &AsynqPublisher{
		client:   asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		queue:    queue,
		maxRetry: maxRetry,
	}
}

func (p *AsynqPublisher) Publish(ctx context.Context, evt *models.OutboxEvent) error {
	task := asynq.NewTask(string(evt.Type), evt.Payload)
	_, err := p.client.EnqueueContext(ctx, task,
		asynq.TaskID(evt.ID),
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", evt.Type, err)
	}
	return nil
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}

// InlinePublisher runs each event through the task handlers in-process. It
// serves single-node runs without a Redis queue; a handler error leaves the
// event unpublished for the next poll.
type InlinePublisher struct {
	Mux *asynq.ServeMux
}

func (p *InlinePublisher) Publish(ctx context.Context, evt *models.OutboxEvent) error {
	err := p.Mux.ProcessTask(ctx, asynq.NewTask(string(evt.Type), evt.Payload))
	if errors.Is(err, asynq.SkipRetry) {
		return nil
	}
	return err
}
