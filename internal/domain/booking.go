package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusScheduled BookingStatus = "scheduled"
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings,alias:b"`

	ID              uuid.UUID       `bun:"id,pk,type:uuid"`
	ProviderID      uuid.UUID       `bun:"provider_id,notnull,type:uuid"`
	ClientID        uuid.UUID       `bun:"client_id,notnull,type:uuid"`
	StartAt         time.Time       `bun:"start_at,notnull"`
	EndAt           time.Time       `bun:"end_at,notnull"`
	Status          BookingStatus   `bun:"status,notnull"`
	AppointmentType string          `bun:"appointment_type,notnull"`
	DurationMinutes int             `bun:"duration_minutes,notnull"`
	Price           decimal.Decimal `bun:"price,type:numeric(12,2),notnull"`
	Description     string          `bun:"description"`
	CreatedAt       time.Time       `bun:"created_at,notnull"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull"`

	Client   *Client   `bun:"rel:belongs-to,join:client_id=id"`
	Provider *Provider `bun:"rel:belongs-to,join:provider_id=id"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// Occupies reports whether the booking blocks its interval. Cancelled
// bookings give their time back.
func (b Booking) Occupies() bool {
	return b.Status != BookingStatusCancelled
}

type Client struct {
	bun.BaseModel `bun:"table:clients"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	ProviderID uuid.UUID `bun:"provider_id,notnull,type:uuid"`
	FirstName  string    `bun:"first_name,notnull"`
	LastName   string    `bun:"last_name,notnull"`
	Email      string    `bun:"email,notnull"`
	Phone      string    `bun:"phone"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (c *Client) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if c.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			c.ID = id
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		c.UpdatedAt = now
	}
	return nil
}
