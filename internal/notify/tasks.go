// Package notify turns committed bookings into background email work.
//
// The API process enqueues tasks through Enqueuer; the worker process
// consumes them with Handlers and runs the ReminderSweeper on a schedule.
package notify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"agenda/backend/internal/domain"
)

const (
	TypeBookingConfirmed = "booking:confirmed"
	TypeBookingReminder  = "booking:reminder"

	Queue = "notifications"

	maxRetry = 5
)

type BookingPayload struct {
	BookingID       string    `json:"bookingId"`
	ProviderID      string    `json:"providerId"`
	ProviderName    string    `json:"providerName"`
	Recipient       string    `json:"recipient"`
	ClientName      string    `json:"clientName"`
	AppointmentType string    `json:"appointmentType"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Timezone        string    `json:"timezone"`
}

func payloadFor(b domain.Booking, p domain.Provider, recipient string) BookingPayload {
	out := BookingPayload{
		BookingID:       b.ID.String(),
		ProviderID:      p.ID.String(),
		ProviderName:    p.DisplayName,
		Recipient:       strings.ToLower(strings.TrimSpace(recipient)),
		AppointmentType: b.AppointmentType,
		Start:           b.StartAt.UTC(),
		End:             b.EndAt.UTC(),
		Timezone:        p.Timezone,
	}
	if b.Client != nil {
		out.ClientName = strings.TrimSpace(b.Client.FirstName + " " + b.Client.LastName)
	}
	return out
}

// NewBookingConfirmedTask is deduplicated per booking and recipient.
func NewBookingConfirmedTask(p BookingPayload) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeBookingConfirmed, b)
	opts := []asynq.Option{
		asynq.Queue(Queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID("confirmed:" + p.BookingID + ":" + p.Recipient),
		asynq.Retention(48 * time.Hour),
	}
	return task, opts, nil
}

// NewBookingReminderTask fires at fireAt and is retained long enough that a
// later sweep over the same booking collides on the task ID.
func NewBookingReminderTask(p BookingPayload, fireAt time.Time, retention time.Duration) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeBookingReminder, b)
	opts := []asynq.Option{
		asynq.Queue(Queue),
		asynq.MaxRetry(maxRetry),
		asynq.TaskID("reminder:" + p.BookingID + ":" + p.Recipient),
		asynq.ProcessAt(fireAt),
		asynq.Retention(retention),
	}
	return task, opts, nil
}
