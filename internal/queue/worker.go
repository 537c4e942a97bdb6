package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// HandleWakeupTask asks the scheduler for an immediate tick. The tick reads
// due posts from storage, so the payload is only logged.
func (q *Queue) HandleWakeupTask(ctx context.Context, task *asynq.Task) error {
	var payload WakeupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding wakeup payload: %v: %w", err, asynq.SkipRetry)
	}

	q.logger.Debug("wakeup received", slog.Time("at", time.Unix(payload.At, 0).UTC()))
	q.kicker.Kick()
	return nil
}

// NewServeMux routes queue tasks to q.
func NewServeMux(q *Queue) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeWakeup, q.HandleWakeupTask)
	return mux
}
