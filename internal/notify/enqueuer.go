package notify

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"agenda/backend/internal/domain"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Enqueuer struct {
	client    taskEnqueuer
	log       *zap.Logger
	retention time.Duration
}

// NewEnqueuer wraps an asynq client. reminderRetention must cover the sweep
// look-ahead so reminders are not enqueued twice.
func NewEnqueuer(client taskEnqueuer, reminderRetention time.Duration, log *zap.Logger) *Enqueuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Enqueuer{client: client, log: log, retention: reminderRetention}
}

func (e *Enqueuer) BookingConfirmed(ctx context.Context, b domain.Booking, p domain.Provider, recipient string) error {
	task, opts, err := NewBookingConfirmedTask(payloadFor(b, p, recipient))
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, opts)
}

// BookingReminder needs b.Provider loaded.
func (e *Enqueuer) BookingReminder(ctx context.Context, b domain.Booking, recipient string, fireAt time.Time) error {
	if b.Provider == nil {
		return errors.New("booking reminder: provider not loaded")
	}
	task, opts, err := NewBookingReminderTask(payloadFor(b, *b.Provider, recipient), fireAt, e.retention)
	if err != nil {
		return err
	}
	return e.enqueue(ctx, task, opts)
}

func (e *Enqueuer) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) error {
	info, err := e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		e.log.Debug("task already enqueued", zap.String("type", task.Type()))
		return nil
	}
	if err != nil {
		return err
	}
	e.log.Debug("task enqueued",
		zap.String("type", task.Type()),
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return nil
}
