package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"agenda/backend/internal/domain"
)

// BookRequest carries the booking to insert and the contact details used to
// resolve the provider-scoped client it belongs to.
type BookRequest struct {
	Booking domain.Booking
	Client  domain.Client
}

type BookingRepository interface {
	// ListOccupying returns non-cancelled bookings intersecting the window.
	ListOccupying(ctx context.Context, providerID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	Book(ctx context.Context, req BookRequest) (domain.Booking, error)
	Cancel(ctx context.Context, providerID, bookingID uuid.UUID) (domain.Booking, error)
	// ListStartingBetween loads client and provider relations.
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]domain.Booking, error)
}

// BookingTx is the set of ledger operations available while a provider's
// ledger is locked.
type BookingTx interface {
	FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]domain.Booking, error)
	ResolveClient(ctx context.Context, client domain.Client) (domain.Client, error)
	CreateBooking(ctx context.Context, booking domain.Booking) (domain.Booking, error)
	SetBookingStatus(ctx context.Context, bookingID uuid.UUID, status domain.BookingStatus) error
}
