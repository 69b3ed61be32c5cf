// Package httpapi exposes the booking service over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/service/booking"
)

type bookingService interface {
	ListSlots(ctx context.Context, in booking.ListSlotsInput) (booking.ListSlotsResult, error)
	Book(ctx context.Context, in booking.BookInput) (domain.Booking, error)
	UpdateSettings(ctx context.Context, slug string, in booking.SettingsUpdate) (domain.Provider, error)
	Cancel(ctx context.Context, slug string, bookingID uuid.UUID) (domain.Booking, error)
}

type RouterConfig struct {
	RequestTimeout   time.Duration
	CORSAllowOrigins []string
	// RateLimit is requests per second per client IP on public routes.
	RateLimit        float64
	RateBurst        int
	AdminToken       string
	SessionJWTSecret string
}

func NewRouter(svc bookingService, cfg RouterConfig, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "http"))

	r := gin.New()
	r.Use(RequestID(), Logger(log), gin.Recovery())
	if len(cfg.CORSAllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSAllowOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
			ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	r.Use(Timeout(cfg.RequestTimeout))

	h := &Handler{svc: svc, log: log}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/api/public/providers/:slug")
	public.Use(RateLimit(cfg.RateLimit, cfg.RateBurst, log), Session(cfg.SessionJWTSecret))
	{
		public.GET("/availabilities", h.ListAvailabilities)
		public.POST("/book", h.Book)
	}

	admin := r.Group("/api/admin/providers/:slug")
	admin.Use(AdminToken(cfg.AdminToken))
	{
		admin.PATCH("/settings", h.UpdateSettings)
		admin.POST("/bookings/:id/cancel", h.CancelBooking)
	}

	return r
}
