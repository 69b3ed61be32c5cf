package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Provider struct {
	bun.BaseModel `bun:"table:providers"`

	ID               uuid.UUID          `bun:"id,pk,type:uuid"`
	Slug             string             `bun:"slug,notnull,unique"`
	DisplayName      string             `bun:"display_name,notnull"`
	Email            string             `bun:"email,notnull"`
	Verified         bool               `bun:"verified,notnull"`
	Timezone         string             `bun:"timezone,notnull"`
	BufferMinutes    int                `bun:"buffer_minutes,notnull"`
	Weekly           WeeklyAvailability `bun:"weekly_availability,type:jsonb,notnull"`
	AppointmentTypes []AppointmentType  `bun:"appointment_types,type:jsonb,notnull"`
	CreatedAt        time.Time          `bun:"created_at,notnull"`
	UpdatedAt        time.Time          `bun:"updated_at,notnull"`
}

func (p *Provider) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if p.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			p.ID = id
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = now
		}
		if p.Timezone == "" {
			p.Timezone = "UTC"
		}
	case *bun.UpdateQuery:
		p.UpdatedAt = now
	}
	return nil
}

// Location falls back to UTC when the stored zone cannot be loaded.
func (p Provider) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FindType looks a catalog entry up by label, ignoring case.
func (p Provider) FindType(label string) (AppointmentType, bool) {
	label = strings.TrimSpace(label)
	for _, t := range p.AppointmentTypes {
		if strings.EqualFold(t.Label, label) {
			return t, true
		}
	}
	return AppointmentType{}, false
}
