package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// WakeAt schedules a scheduler tick at the given instant. Wake-ups for the
// same second share a task id, so enqueueing one twice is a no-op.
func (q *Queue) WakeAt(ctx context.Context, at time.Time) error {
	if q.client == nil {
		return nil
	}

	at = at.UTC().Truncate(time.Second)
	payload, err := json.Marshal(WakeupPayload{At: at.Unix()})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeWakeup, payload)
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.TaskID(fmt.Sprintf("wakeup:%d", at.Unix())),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	q.logger.Debug("wakeup scheduled", slog.Time("at", at))
	return nil
}
