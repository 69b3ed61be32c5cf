package store

import (
	"context"

	"github.com/google/uuid"

	"agenda/backend/internal/domain"
)

// SettingsPatch lists the provider settings to overwrite. Nil fields keep
// their stored value, so concurrent patches of different fields both land.
type SettingsPatch struct {
	Timezone         *string
	BufferMinutes    *int
	Weekly           *domain.WeeklyAvailability
	AppointmentTypes *[]domain.AppointmentType
}

type ProviderRepository interface {
	// GetBySlug only resolves verified providers.
	GetBySlug(ctx context.Context, slug string) (domain.Provider, error)
	// UpdateSettings writes only the patched columns and returns the stored row.
	UpdateSettings(ctx context.Context, providerID uuid.UUID, patch SettingsPatch) (domain.Provider, error)
}
