package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.log.Info("mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

type Handlers struct {
	mailer Mailer
	log    *zap.Logger
}

func NewHandlers(mailer Mailer, log *zap.Logger) *Handlers {
	return &Handlers{mailer: mailer, log: log}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeBookingConfirmed, h.HandleBookingConfirmed)
	mux.HandleFunc(TypeBookingReminder, h.HandleBookingReminder)
}

func (h *Handlers) HandleBookingConfirmed(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}
	return h.send(ctx, t.Type(), Message{
		To:      p.Recipient,
		Subject: fmt.Sprintf("Booking confirmed: %s with %s", p.AppointmentType, p.ProviderName),
		Body:    fmt.Sprintf("%s is booked for %s (%s).", p.AppointmentType, localTime(p.Start, p.Timezone), p.ClientName),
	})
}

func (h *Handlers) HandleBookingReminder(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t)
	if err != nil {
		return err
	}
	return h.send(ctx, t.Type(), Message{
		To:      p.Recipient,
		Subject: fmt.Sprintf("Reminder: %s with %s", p.AppointmentType, p.ProviderName),
		Body:    fmt.Sprintf("Your %s starts at %s.", p.AppointmentType, localTime(p.Start, p.Timezone)),
	})
}

func (h *Handlers) send(ctx context.Context, taskType string, msg Message) error {
	if err := h.mailer.Send(ctx, msg); err != nil {
		h.log.Error("send failed", zap.String("type", taskType), zap.String("to", msg.To), zap.Error(err))
		return err
	}
	return nil
}

// decodePayload rejects malformed payloads without retrying them.
func decodePayload(t *asynq.Task) (BookingPayload, error) {
	var p BookingPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return BookingPayload{}, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if p.Recipient == "" || p.BookingID == "" {
		return BookingPayload{}, fmt.Errorf("%s payload missing recipient or booking: %w", t.Type(), asynq.SkipRetry)
	}
	return p, nil
}

func localTime(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return t.In(loc).Format("Mon 2 Jan 2006 15:04 MST")
}
