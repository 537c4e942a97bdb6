package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Kicker is satisfied by *scheduler.Loop.
type Kicker interface {
	Kick()
}

type Queue struct {
	client Enqueuer
	kicker Kicker
	logger *slog.Logger
}

// NewQueue wires the producer and consumer sides of the wake-up queue.
// client may be nil on processes that only consume.
func NewQueue(client Enqueuer, kicker Kicker, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		client: client,
		kicker: kicker,
		logger: logger,
	}
}

const TaskTypeWakeup = "scheduler:wakeup"

type WakeupPayload struct {
	At int64 `json:"at"`
}
