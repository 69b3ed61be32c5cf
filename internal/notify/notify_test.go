package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"agenda/backend/internal/domain"
)

type fakeClient struct {
	enqueueFn func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func (f *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.enqueueFn == nil {
		panic("EnqueueContext not configured")
	}
	return f.enqueueFn(ctx, task, opts...)
}

type fakeMailer struct {
	sendFn func(ctx context.Context, msg Message) error
}

func (f *fakeMailer) Send(ctx context.Context, msg Message) error {
	if f.sendFn == nil {
		panic("Send not configured")
	}
	return f.sendFn(ctx, msg)
}

type fakeUpcoming struct {
	listFn func(ctx context.Context, from, to time.Time) ([]domain.Booking, error)
}

func (f *fakeUpcoming) ListStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Booking, error) {
	if f.listFn == nil {
		panic("ListStartingBetween not configured")
	}
	return f.listFn(ctx, from, to)
}

type fakeReminders struct {
	reminderFn func(ctx context.Context, b domain.Booking, recipient string, fireAt time.Time) error
}

func (f *fakeReminders) BookingReminder(ctx context.Context, b domain.Booking, recipient string, fireAt time.Time) error {
	if f.reminderFn == nil {
		panic("BookingReminder not configured")
	}
	return f.reminderFn(ctx, b, recipient, fireAt)
}

func testBooking() (domain.Booking, domain.Provider) {
	p := domain.Provider{
		ID:          uuid.MustParse("6f0b1c3e-8a4d-4c55-9b1e-2f7d3a9c0e11"),
		DisplayName: "Dr. House",
		Email:       "house@example.com",
		Timezone:    "Europe/Paris",
	}
	b := domain.Booking{
		ID:              uuid.MustParse("0d4c9f1a-2b3e-4f50-8a61-7c8d9e0f1a2b"),
		ProviderID:      p.ID,
		StartAt:         time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		EndAt:           time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC),
		Status:          domain.BookingStatusScheduled,
		AppointmentType: "Consultation",
		Client:          &domain.Client{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
	}
	return b, p
}

func optionValue(opts []asynq.Option, typ asynq.OptionType) (interface{}, bool) {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value(), true
		}
	}
	return nil, false
}

func TestEnqueuerBookingConfirmed(t *testing.T) {
	b, p := testBooking()
	var gotTask *asynq.Task
	var gotOpts []asynq.Option
	e := NewEnqueuer(&fakeClient{
		enqueueFn: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			gotTask, gotOpts = task, opts
			return &asynq.TaskInfo{ID: "x", Queue: Queue}, nil
		},
	}, time.Hour, zap.NewNop())

	if err := e.BookingConfirmed(context.Background(), b, p, " House@Example.com "); err != nil {
		t.Fatalf("BookingConfirmed error: %v", err)
	}
	if gotTask.Type() != TypeBookingConfirmed {
		t.Fatalf("type = %q, want %q", gotTask.Type(), TypeBookingConfirmed)
	}
	var payload BookingPayload
	if err := json.Unmarshal(gotTask.Payload(), &payload); err != nil {
		t.Fatalf("payload error: %v", err)
	}
	if payload.Recipient != "house@example.com" || payload.ClientName != "Ada Lovelace" || payload.ProviderName != "Dr. House" {
		t.Fatalf("payload = %+v", payload)
	}
	id, ok := optionValue(gotOpts, asynq.TaskIDOpt)
	if !ok || id != "confirmed:"+b.ID.String()+":house@example.com" {
		t.Fatalf("task id = %v", id)
	}
	if q, _ := optionValue(gotOpts, asynq.QueueOpt); q != Queue {
		t.Fatalf("queue = %v, want %q", q, Queue)
	}
}

func TestEnqueuerIgnoresDuplicateTask(t *testing.T) {
	b, p := testBooking()
	e := NewEnqueuer(&fakeClient{
		enqueueFn: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, asynq.ErrTaskIDConflict
		},
	}, time.Hour, nil)

	if err := e.BookingConfirmed(context.Background(), b, p, p.Email); err != nil {
		t.Fatalf("BookingConfirmed error: %v", err)
	}
}

func TestEnqueuerPropagatesQueueErrors(t *testing.T) {
	b, p := testBooking()
	boom := errors.New("redis down")
	e := NewEnqueuer(&fakeClient{
		enqueueFn: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, boom
		},
	}, time.Hour, nil)

	if err := e.BookingConfirmed(context.Background(), b, p, p.Email); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestEnqueuerBookingReminderNeedsProvider(t *testing.T) {
	b, _ := testBooking()
	e := NewEnqueuer(&fakeClient{}, time.Hour, nil)

	if err := e.BookingReminder(context.Background(), b, "ada@example.com", time.Now()); err == nil {
		t.Fatalf("expected error without provider relation")
	}
}

func TestHandleBookingConfirmedSendsMail(t *testing.T) {
	b, p := testBooking()
	task, _, err := NewBookingConfirmedTask(payloadFor(b, p, "ada@example.com"))
	if err != nil {
		t.Fatalf("NewBookingConfirmedTask error: %v", err)
	}

	var sent Message
	h := NewHandlers(&fakeMailer{
		sendFn: func(ctx context.Context, msg Message) error {
			sent = msg
			return nil
		},
	}, zap.NewNop())

	if err := h.HandleBookingConfirmed(context.Background(), task); err != nil {
		t.Fatalf("HandleBookingConfirmed error: %v", err)
	}
	if sent.To != "ada@example.com" {
		t.Fatalf("to = %q", sent.To)
	}
	if !strings.Contains(sent.Subject, "Dr. House") {
		t.Fatalf("subject = %q", sent.Subject)
	}
	// 09:00 UTC is 10:00 in Paris in January.
	if !strings.Contains(sent.Body, "10:00") {
		t.Fatalf("body = %q, want provider local time", sent.Body)
	}
}

func TestHandleMalformedPayloadSkipsRetry(t *testing.T) {
	h := NewHandlers(&fakeMailer{}, zap.NewNop())

	for _, payload := range []string{"not json", `{"bookingId":"x"}`} {
		err := h.HandleBookingReminder(context.Background(), asynq.NewTask(TypeBookingReminder, []byte(payload)))
		if !errors.Is(err, asynq.SkipRetry) {
			t.Fatalf("payload %q: error = %v, want SkipRetry", payload, err)
		}
	}
}

func TestHandleMailerFailureRetries(t *testing.T) {
	b, p := testBooking()
	task, _, err := NewBookingReminderTask(payloadFor(b, p, "ada@example.com"), time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("NewBookingReminderTask error: %v", err)
	}
	boom := errors.New("smtp timeout")
	h := NewHandlers(&fakeMailer{
		sendFn: func(ctx context.Context, msg Message) error { return boom },
	}, zap.NewNop())

	err = h.HandleBookingReminder(context.Background(), task)
	if !errors.Is(err, boom) || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("error = %v, want retryable %v", err, boom)
	}
}

func TestReminderSweep(t *testing.T) {
	b, p := testBooking()
	b.Provider = &p
	now := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)

	var from, to time.Time
	type call struct {
		recipient string
		fireAt    time.Time
	}
	var calls []call
	s := NewReminderSweeper(&fakeUpcoming{
		listFn: func(ctx context.Context, f, tt time.Time) ([]domain.Booking, error) {
			from, to = f, tt
			return []domain.Booking{b}, nil
		},
	}, &fakeReminders{
		reminderFn: func(ctx context.Context, got domain.Booking, recipient string, fireAt time.Time) error {
			calls = append(calls, call{recipient: recipient, fireAt: fireAt})
			return nil
		},
	}, 24*time.Hour, zap.NewNop())
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if !from.Equal(now) || !to.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("window = [%v, %v)", from, to)
	}
	if n != 2 || len(calls) != 2 {
		t.Fatalf("enqueued = %d, calls = %d, want 2", n, len(calls))
	}
	if calls[0].recipient != "ada@example.com" || calls[1].recipient != "house@example.com" {
		t.Fatalf("recipients = %+v", calls)
	}
	if !calls[0].fireAt.Equal(now) {
		t.Fatalf("fireAt = %v, want %v", calls[0].fireAt, now)
	}
}

func TestReminderSweepReportsPartialFailure(t *testing.T) {
	b, p := testBooking()
	b.Provider = &p
	s := NewReminderSweeper(&fakeUpcoming{
		listFn: func(ctx context.Context, from, to time.Time) ([]domain.Booking, error) {
			return []domain.Booking{b}, nil
		},
	}, &fakeReminders{
		reminderFn: func(ctx context.Context, got domain.Booking, recipient string, fireAt time.Time) error {
			if recipient == "house@example.com" {
				return errors.New("queue full")
			}
			return nil
		},
	}, time.Hour, zap.NewNop())

	n, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if n != 1 {
		t.Fatalf("enqueued = %d, want 1", n)
	}
}
