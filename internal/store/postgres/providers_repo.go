package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

type ProviderRepo struct {
	db *bun.DB
}

func NewProviderRepo(db *bun.DB) *ProviderRepo {
	return &ProviderRepo{db: db}
}

func (r *ProviderRepo) GetBySlug(ctx context.Context, slug string) (domain.Provider, error) {
	var p domain.Provider
	err := r.db.NewSelect().
		Model(&p).
		Where("slug = ?", slug).
		Where("verified").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Provider{}, store.ErrNotFound
		}
		return domain.Provider{}, err
	}
	return p, nil
}

func (r *ProviderRepo) UpdateSettings(ctx context.Context, providerID uuid.UUID, patch store.SettingsPatch) (domain.Provider, error) {
	p := domain.Provider{ID: providerID}
	columns := settingsColumns(&p, patch)

	err := r.db.NewUpdate().
		Model(&p).
		Column(columns...).
		WherePK().
		Returning("*").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Provider{}, store.ErrNotFound
		}
		return domain.Provider{}, err
	}
	return p, nil
}

// settingsColumns copies the patched fields onto p and names the columns to write.
func settingsColumns(p *domain.Provider, patch store.SettingsPatch) []string {
	columns := []string{"updated_at"}
	if patch.Timezone != nil {
		p.Timezone = *patch.Timezone
		columns = append(columns, "timezone")
	}
	if patch.BufferMinutes != nil {
		p.BufferMinutes = *patch.BufferMinutes
		columns = append(columns, "buffer_minutes")
	}
	if patch.Weekly != nil {
		p.Weekly = *patch.Weekly
		columns = append(columns, "weekly_availability")
	}
	if patch.AppointmentTypes != nil {
		p.AppointmentTypes = *patch.AppointmentTypes
		columns = append(columns, "appointment_types")
	}
	return columns
}
