package notify

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agenda/backend/internal/domain"
)

type upcomingBookings interface {
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Booking, error)
}

type reminderEnqueuer interface {
	BookingReminder(ctx context.Context, b domain.Booking, recipient string, fireAt time.Time) error
}

// ReminderSweeper periodically enqueues a reminder for every booking that
// starts within the lead time.
type ReminderSweeper struct {
	bookings upcomingBookings
	enqueuer reminderEnqueuer
	lead     time.Duration
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger

	cron *cron.Cron
}

func NewReminderSweeper(bookings upcomingBookings, enqueuer reminderEnqueuer, lead time.Duration, log *zap.Logger) *ReminderSweeper {
	if lead <= 0 {
		lead = 24 * time.Hour
	}
	return &ReminderSweeper{
		bookings: bookings,
		enqueuer: enqueuer,
		lead:     lead,
		timeout:  time.Minute,
		now:      time.Now,
		log:      log,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start schedules Sweep with a cron spec such as "@every 15m".
func (s *ReminderSweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error("reminder sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("reminder sweeper started", zap.String("schedule", spec), zap.Duration("lead", s.lead))
	return nil
}

func (s *ReminderSweeper) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("reminder sweeper stopped")
}

// Sweep enqueues reminders for bookings starting in [now, now+lead) and
// returns how many were handed to the queue.
func (s *ReminderSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	bookings, err := s.bookings.ListStartingBetween(ctx, now, now.Add(s.lead))
	if err != nil {
		return 0, err
	}

	var errs []error
	enqueued := 0
	for _, b := range bookings {
		fireAt := b.StartAt.Add(-s.lead)
		if fireAt.Before(now) {
			fireAt = now
		}
		for _, recipient := range reminderRecipients(b) {
			if err := s.enqueuer.BookingReminder(ctx, b, recipient, fireAt); err != nil {
				s.log.Warn("enqueue reminder failed",
					zap.String("booking_id", b.ID.String()),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}
			enqueued++
		}
	}

	s.log.Debug("reminder sweep done", zap.Int("bookings", len(bookings)), zap.Int("enqueued", enqueued))
	return enqueued, errors.Join(errs...)
}

func reminderRecipients(b domain.Booking) []string {
	var out []string
	if b.Client != nil && b.Client.Email != "" {
		out = append(out, b.Client.Email)
	}
	if b.Provider != nil && b.Provider.Email != "" {
		out = append(out, b.Provider.Email)
	}
	return out
}
