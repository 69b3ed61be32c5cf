package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agenda/backend/internal/service/booking"
	"agenda/backend/internal/store"
)

const msgSlotTaken = "slot no longer available"

type Handler struct {
	svc bookingService
	log *zap.Logger
}

func (h *Handler) ListAvailabilities(c *gin.Context) {
	res, err := h.svc.ListSlots(c.Request.Context(), booking.ListSlotsInput{
		Slug:      c.Param("slug"),
		StartDate: c.Query("startDate"),
		EndDate:   c.Query("endDate"),
	})
	if err != nil {
		h.writeError(c, "list availabilities", err)
		return
	}
	c.JSON(http.StatusOK, availabilityResponse{
		Slots:   toSlotResponses(res.Slots),
		Message: res.Message,
	})
}

func (h *Handler) Book(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	b, err := h.svc.Book(c.Request.Context(), booking.BookInput{
		Slug:             c.Param("slug"),
		Start:            req.Start,
		ConsultationType: req.ConsultationType,
		DurationMinutes:  req.Duration,
		Price:            req.Price,
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		Email:            req.Email,
		Phone:            req.Phone,
		Description:      req.Description,
		IdempotencyKey:   strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		SessionEmail:     c.GetString(sessionEmailKey),
	})
	if err != nil {
		h.writeError(c, "book", err)
		return
	}

	h.log.Info("booking created",
		zap.String("booking_id", b.ID.String()),
		zap.String("provider_id", b.ProviderID.String()),
		zap.Time("start", b.StartAt),
		zap.Time("end", b.EndAt),
	)
	c.JSON(http.StatusCreated, gin.H{"appointment": toAppointmentResponse(b)})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	p, err := h.svc.UpdateSettings(c.Request.Context(), c.Param("slug"), booking.SettingsUpdate{
		Timezone:         req.Timezone,
		BufferMinutes:    req.BufferMinutes,
		Weekly:           req.Weekly,
		AppointmentTypes: req.AppointmentTypes,
	})
	if err != nil {
		h.writeError(c, "update settings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": toSettingsResponse(p)})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid booking id"})
		return
	}

	b, err := h.svc.Cancel(c.Request.Context(), c.Param("slug"), id)
	if err != nil {
		h.writeError(c, "cancel booking", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": toAppointmentResponse(b)})
}

func (h *Handler) writeError(c *gin.Context, op string, err error) {
	log := h.log.With(zap.String("op", op), zap.String("slug", c.Param("slug")), zap.String("request_id", c.GetString(requestIDKey)))

	var vErr *booking.ValidationError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrSlotTaken):
		log.Info("slot taken")
		c.JSON(http.StatusConflict, gin.H{"error": msgSlotTaken})
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict")
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency key already used for a different booking"})
	default:
		log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
