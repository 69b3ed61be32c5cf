package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type bookingTx struct {
	tx bun.Tx
}

func (r *BookingRepo) ListOccupying(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	return listOverlapping(ctx, r.db, providerID, windowStart, windowEnd)
}

func (r *BookingRepo) Book(ctx context.Context, req store.BookRequest) (domain.Booking, error) {
	var out domain.Booking
	err := r.InProviderTransaction(ctx, req.Booking.ProviderID, func(ctx context.Context, tx store.BookingTx) error {
		b, err := bookInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) Cancel(ctx context.Context, providerID, bookingID uuid.UUID) (domain.Booking, error) {
	var out domain.Booking
	err := r.InProviderTransaction(ctx, providerID, func(ctx context.Context, tx store.BookingTx) error {
		b, err := tx.FindBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.ProviderID != providerID {
			return store.ErrNotFound
		}
		if b.Status != domain.BookingStatusCancelled {
			if err := tx.SetBookingStatus(ctx, bookingID, domain.BookingStatusCancelled); err != nil {
				return err
			}
			b.Status = domain.BookingStatusCancelled
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}

func (r *BookingRepo) ListStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := r.db.NewSelect().
		Model(&rows).
		Relation("Client").
		Relation("Provider").
		Where("b.status IN (?)", bun.In([]domain.BookingStatus{domain.BookingStatusScheduled, domain.BookingStatusConfirmed})).
		Where("b.start_at >= ?", from).
		Where("b.start_at < ?", to).
		OrderExpr("b.start_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// InProviderTransaction serializes every ledger write of one provider behind a
// transaction-scoped advisory lock.
func (r *BookingRepo) InProviderTransaction(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderLedger(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, bookingTx{tx: tx})
	})
}

func lockProviderLedger(ctx context.Context, tx bun.Tx, providerID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", providerID.String()).Exec(ctx)
	return err
}

// bookInTx replays an idempotent request, re-checks the interval against the
// ledger, resolves the client and inserts the booking.
func bookInTx(ctx context.Context, tx store.BookingTx, req store.BookRequest) (domain.Booking, error) {
	b := req.Booking

	if b.ID != uuid.Nil {
		existing, err := tx.FindBooking(ctx, b.ID)
		switch {
		case err == nil:
			return replayBooking(ctx, tx, existing, req)
		case !errors.Is(err, store.ErrNotFound):
			return domain.Booking{}, err
		}
	}

	overlapping, err := tx.ListOverlapping(ctx, b.ProviderID, b.StartAt, b.EndAt)
	if err != nil {
		return domain.Booking{}, err
	}
	if len(overlapping) > 0 {
		return domain.Booking{}, store.ErrSlotTaken
	}

	client, err := resolveClient(ctx, tx, req)
	if err != nil {
		return domain.Booking{}, err
	}

	b.ClientID = client.ID
	b.Status = domain.BookingStatusScheduled
	created, err := tx.CreateBooking(ctx, b)
	if err != nil {
		return domain.Booking{}, err
	}
	created.Client = &client
	return created, nil
}

// replayBooking returns the stored booking when the request carries the same
// key for the same booking and client; anything else is a key conflict.
func replayBooking(ctx context.Context, tx store.BookingTx, existing domain.Booking, req store.BookRequest) (domain.Booking, error) {
	if !sameBooking(existing, req.Booking) {
		return domain.Booking{}, store.ErrIdempotencyConflict
	}
	client, err := resolveClient(ctx, tx, req)
	if err != nil {
		return domain.Booking{}, err
	}
	if client.ID != existing.ClientID {
		return domain.Booking{}, store.ErrIdempotencyConflict
	}
	existing.Client = &client
	return existing, nil
}

func resolveClient(ctx context.Context, tx store.BookingTx, req store.BookRequest) (domain.Client, error) {
	client := req.Client
	client.ProviderID = req.Booking.ProviderID
	return tx.ResolveClient(ctx, client)
}

func sameBooking(existing, requested domain.Booking) bool {
	return existing.ProviderID == requested.ProviderID &&
		existing.StartAt.Equal(requested.StartAt) &&
		existing.EndAt.Equal(requested.EndAt) &&
		existing.AppointmentType == requested.AppointmentType &&
		existing.DurationMinutes == requested.DurationMinutes &&
		existing.Price.Equal(requested.Price) &&
		existing.Description == requested.Description
}

func (r bookingTx) FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := r.tx.NewSelect().
		Model(&b).
		Where("b.id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func (r bookingTx) ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	return listOverlapping(ctx, r.tx, providerID, start, end)
}

func (r bookingTx) ResolveClient(ctx context.Context, client domain.Client) (domain.Client, error) {
	client.Email = strings.ToLower(strings.TrimSpace(client.Email))

	var existing domain.Client
	err := r.tx.NewSelect().
		Model(&existing).
		Where("provider_id = ?", client.ProviderID).
		Where("email = ?", client.Email).
		Limit(1).
		Scan(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Client{}, err
	}

	if _, err := r.tx.NewInsert().Model(&client).Exec(ctx); err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

func (r bookingTx) CreateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error) {
	m := domain.Booking{
		ID:              booking.ID,
		ProviderID:      booking.ProviderID,
		ClientID:        booking.ClientID,
		StartAt:         booking.StartAt,
		EndAt:           booking.EndAt,
		Status:          booking.Status,
		AppointmentType: booking.AppointmentType,
		DurationMinutes: booking.DurationMinutes,
		Price:           booking.Price,
		Description:     booking.Description,
	}

	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == "bookings_no_overlap" {
				return domain.Booking{}, store.ErrSlotTaken
			}
			if pgErr.Code == pgUniqueViolation {
				return domain.Booking{}, store.ErrIdempotencyConflict
			}
		}
		return domain.Booking{}, err
	}
	return m, nil
}

func (r bookingTx) SetBookingStatus(ctx context.Context, bookingID uuid.UUID, status domain.BookingStatus) error {
	res, err := r.tx.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", bookingID).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func listOverlapping(ctx context.Context, db bun.IDB, providerID uuid.UUID, start, end time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("status <> ?", domain.BookingStatusCancelled).
		Where("start_at < ?", end).
		Where("end_at > ?", start).
		OrderExpr("start_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
