package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"agenda/backend/internal/domain"
)

type slotResponse struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	ConsultationType string    `json:"consultationType"`
	Duration         int       `json:"duration"`
	Price            float64   `json:"price"`
}

type availabilityResponse struct {
	Slots   []slotResponse `json:"slots"`
	Message string         `json:"message,omitempty"`
}

type bookRequest struct {
	Start            time.Time        `json:"start"`
	ConsultationType string           `json:"consultationType"`
	Duration         int              `json:"duration"`
	Price            *decimal.Decimal `json:"price"`
	FirstName        string           `json:"firstName"`
	LastName         string           `json:"lastName"`
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	Description      string           `json:"description"`
}

type appointmentResponse struct {
	ID               string    `json:"id"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	ConsultationType string    `json:"consultationType"`
	PractitionerName string    `json:"practitionerName"`
	Status           string    `json:"status"`
}

type settingsRequest struct {
	Timezone         *string                    `json:"timezone"`
	BufferMinutes    *int                       `json:"bufferMinutes"`
	Weekly           *domain.WeeklyAvailability `json:"weeklyAvailability"`
	AppointmentTypes *[]domain.AppointmentType  `json:"appointmentTypes"`
}

type settingsResponse struct {
	Slug             string                    `json:"slug"`
	Timezone         string                    `json:"timezone"`
	BufferMinutes    int                       `json:"bufferMinutes"`
	Weekly           domain.WeeklyAvailability `json:"weeklyAvailability"`
	AppointmentTypes []domain.AppointmentType  `json:"appointmentTypes"`
}

func toSlotResponses(slots []domain.CandidateSlot) []slotResponse {
	out := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, slotResponse{
			Start:            s.Start.UTC(),
			End:              s.End.UTC(),
			ConsultationType: s.AppointmentType,
			Duration:         s.DurationMinutes,
			Price:            s.Price.InexactFloat64(),
		})
	}
	return out
}

func toAppointmentResponse(b domain.Booking) appointmentResponse {
	out := appointmentResponse{
		ID:               b.ID.String(),
		Start:            b.StartAt.UTC(),
		End:              b.EndAt.UTC(),
		ConsultationType: b.AppointmentType,
		Status:           string(b.Status),
	}
	if b.Provider != nil {
		out.PractitionerName = b.Provider.DisplayName
	}
	return out
}

func toSettingsResponse(p domain.Provider) settingsResponse {
	return settingsResponse{
		Slug:             p.Slug,
		Timezone:         p.Timezone,
		BufferMinutes:    p.BufferMinutes,
		Weekly:           p.Weekly,
		AppointmentTypes: p.AppointmentTypes,
	}
}
