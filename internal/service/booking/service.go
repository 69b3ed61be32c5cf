package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

const (
	dateLayout          = "2006-01-02"
	defaultRangeDays    = 7
	defaultMaxRangeDays = 62
	maxIdempotencyKey   = 256
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// SlotCache stores generated slot lists per provider and date range.
type SlotCache interface {
	// Get reports the cache version it looked under; Set must be given that
	// version so lists built before an Invalidate are written to a dead key.
	Get(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.CandidateSlot, int64, bool, error)
	Set(ctx context.Context, providerID uuid.UUID, version int64, from, to time.Time, slots []domain.CandidateSlot) error
	Invalidate(ctx context.Context, providerID uuid.UUID) error
}

// Notifier emits booking notifications. recipient is an email address.
type Notifier interface {
	BookingConfirmed(ctx context.Context, booking domain.Booking, provider domain.Provider, recipient string) error
}

type Service struct {
	providers    store.ProviderRepository
	bookings     store.BookingRepository
	cache        SlotCache
	notifier     Notifier
	log          *zap.Logger
	now          func() time.Time
	maxRangeDays int
}

type Option func(*Service)

func WithCache(c SlotCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxRangeDays bounds the number of days a single availability query may span.
func WithMaxRangeDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.maxRangeDays = days
		}
	}
}

func NewService(providers store.ProviderRepository, bookings store.BookingRepository, opts ...Option) *Service {
	s := &Service{
		providers:    providers,
		bookings:     bookings,
		log:          zap.NewNop(),
		now:          time.Now,
		maxRangeDays: defaultMaxRangeDays,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

type ListSlotsInput struct {
	Slug      string
	StartDate string
	// EndDate defaults to StartDate plus seven days.
	EndDate string
}

type ListSlotsResult struct {
	Provider domain.Provider
	Slots    []domain.CandidateSlot
	// Message explains an empty result caused by missing configuration.
	Message string
}

func (s *Service) ListSlots(ctx context.Context, in ListSlotsInput) (ListSlotsResult, error) {
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		return ListSlotsResult{}, validationError("provider slug is required")
	}
	if strings.TrimSpace(in.StartDate) == "" {
		return ListSlotsResult{}, validationError("startDate is required")
	}

	provider, err := s.providers.GetBySlug(ctx, slug)
	if err != nil {
		return ListSlotsResult{}, err
	}
	loc := provider.Location()

	from, err := time.ParseInLocation(dateLayout, strings.TrimSpace(in.StartDate), loc)
	if err != nil {
		return ListSlotsResult{}, validationError("startDate must be YYYY-MM-DD")
	}
	to := from.AddDate(0, 0, defaultRangeDays)
	if strings.TrimSpace(in.EndDate) != "" {
		to, err = time.ParseInLocation(dateLayout, strings.TrimSpace(in.EndDate), loc)
		if err != nil {
			return ListSlotsResult{}, validationError("endDate must be YYYY-MM-DD")
		}
	}
	if to.Before(from) {
		return ListSlotsResult{}, validationError("endDate must not be before startDate")
	}
	// Both ends are inclusive calendar days.
	if to.After(from.AddDate(0, 0, s.maxRangeDays-1)) {
		return ListSlotsResult{}, validationError(fmt.Sprintf("date range exceeds %d days", s.maxRangeDays))
	}

	out := ListSlotsResult{Provider: provider}
	switch {
	case len(provider.AppointmentTypes) == 0:
		out.Slots = []domain.CandidateSlot{}
		out.Message = "provider has no appointment types configured"
		return out, nil
	case !provider.Weekly.AnyEnabled():
		out.Slots = []domain.CandidateSlot{}
		out.Message = "provider has no availability configured"
		return out, nil
	}

	now := s.now()
	cacheVersion, cacheUsable := int64(0), false
	if s.cache != nil {
		cached, version, ok, err := s.cache.Get(ctx, provider.ID, from, to)
		if err != nil {
			s.log.Warn("slot cache read failed", zap.String("provider_id", provider.ID.String()), zap.Error(err))
		} else {
			cacheVersion, cacheUsable = version, true
		}
		if ok {
			out.Slots = upcoming(cached, now)
			return out, nil
		}
	}

	bookings, err := s.bookings.ListOccupying(ctx, provider.ID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return ListSlotsResult{}, fmt.Errorf("list bookings: %w", err)
	}

	out.Slots = domain.GenerateSlots(domain.SlotQuery{
		RangeStart:    from,
		RangeEnd:      to,
		Location:      loc,
		Weekly:        provider.Weekly,
		Types:         provider.AppointmentTypes,
		BufferMinutes: provider.BufferMinutes,
		Bookings:      bookings,
		Now:           now,
	})

	if cacheUsable {
		if err := s.cache.Set(ctx, provider.ID, cacheVersion, from, to, out.Slots); err != nil {
			s.log.Warn("slot cache write failed", zap.String("provider_id", provider.ID.String()), zap.Error(err))
		}
	}
	return out, nil
}

// upcoming drops slots whose start is no longer in the future.
func upcoming(slots []domain.CandidateSlot, now time.Time) []domain.CandidateSlot {
	out := make([]domain.CandidateSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.Start.After(now) {
			out = append(out, slot)
		}
	}
	return out
}

type BookInput struct {
	Slug             string
	Start            time.Time
	ConsultationType string
	// DurationMinutes and Price fall back to the catalog entry for
	// ConsultationType when unset.
	DurationMinutes int
	Price           *decimal.Decimal
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Description     string
	IdempotencyKey  string
	// SessionEmail is the signed-in user's email, if any.
	SessionEmail string
}

func (s *Service) Book(ctx context.Context, in BookInput) (domain.Booking, error) {
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		return domain.Booking{}, validationError("provider slug is required")
	}
	if in.Start.IsZero() {
		return domain.Booking{}, validationError("start is required")
	}
	typeLabel := strings.TrimSpace(in.ConsultationType)
	if typeLabel == "" {
		return domain.Booking{}, validationError("consultationType is required")
	}
	firstName := strings.TrimSpace(in.FirstName)
	lastName := strings.TrimSpace(in.LastName)
	if firstName == "" || lastName == "" {
		return domain.Booking{}, validationError("firstName and lastName are required")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" {
		return domain.Booking{}, validationError("email is required")
	}
	if !strings.Contains(email, "@") {
		return domain.Booking{}, validationError("email is invalid")
	}
	start := in.Start.UTC()
	if !start.After(s.now()) {
		return domain.Booking{}, validationError("start must be in the future")
	}
	if in.DurationMinutes < 0 {
		return domain.Booking{}, validationError("duration must be positive")
	}
	if in.Price != nil && in.Price.IsNegative() {
		return domain.Booking{}, validationError("price must not be negative")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > maxIdempotencyKey {
		return domain.Booking{}, validationError("idempotency key too long")
	}

	provider, err := s.providers.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Booking{}, err
	}

	duration := in.DurationMinutes
	price := decimal.Zero
	if t, ok := provider.FindType(typeLabel); ok {
		typeLabel = t.Label
		if duration == 0 {
			duration = t.DurationMinutes
		}
		price = t.Price
	}
	if in.Price != nil {
		price = *in.Price
	}
	if duration <= 0 {
		return domain.Booking{}, validationError("unknown consultationType")
	}
	if duration > 24*60 {
		return domain.Booking{}, validationError("duration too long")
	}

	b := domain.Booking{
		ProviderID:      provider.ID,
		StartAt:         start,
		EndAt:           start.Add(time.Duration(duration) * time.Minute),
		AppointmentType: typeLabel,
		DurationMinutes: duration,
		Price:           price,
		Description:     strings.TrimSpace(in.Description),
	}
	if key != "" {
		b.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agenda:book:"+provider.ID.String()+":"+key))
	}

	client := domain.Client{
		FirstName: firstName,
		LastName:  lastName,
		Email:     email,
		Phone:     strings.TrimSpace(in.Phone),
	}

	created, err := s.bookings.Book(ctx, store.BookRequest{Booking: b, Client: client})
	if err != nil {
		return domain.Booking{}, err
	}
	if created.Client == nil {
		created.Client = &client
	}
	created.Provider = &provider

	s.afterBooking(ctx, created, provider, in.SessionEmail)
	return created, nil
}

// afterBooking runs once the booking is committed. Its failures are logged only.
func (s *Service) afterBooking(ctx context.Context, b domain.Booking, provider domain.Provider, sessionEmail string) {
	log := s.log.With(zap.String("booking_id", b.ID.String()), zap.String("provider_id", provider.ID.String()))

	s.invalidate(ctx, provider.ID)

	if s.notifier == nil {
		return
	}
	if provider.Email != "" {
		if err := s.notifier.BookingConfirmed(ctx, b, provider, provider.Email); err != nil {
			log.Error("notify provider failed", zap.Error(err))
		}
	}
	sessionEmail = strings.TrimSpace(sessionEmail)
	if sessionEmail != "" && b.Client != nil && strings.EqualFold(sessionEmail, b.Client.Email) {
		if err := s.notifier.BookingConfirmed(ctx, b, provider, b.Client.Email); err != nil {
			log.Error("notify client failed", zap.Error(err))
		}
	}
}

func (s *Service) invalidate(ctx context.Context, providerID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, providerID); err != nil {
		s.log.Warn("slot cache invalidation failed", zap.String("provider_id", providerID.String()), zap.Error(err))
	}
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	Timezone         *string
	BufferMinutes    *int
	Weekly           *domain.WeeklyAvailability
	AppointmentTypes *[]domain.AppointmentType
}

func (s *Service) UpdateSettings(ctx context.Context, slug string, in SettingsUpdate) (domain.Provider, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.Provider{}, validationError("provider slug is required")
	}

	var patch store.SettingsPatch
	if in.Timezone != nil {
		tz := strings.TrimSpace(*in.Timezone)
		if tz == "" {
			return domain.Provider{}, validationError("timezone is required")
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return domain.Provider{}, validationError("invalid timezone")
		}
		patch.Timezone = &tz
	}
	if in.BufferMinutes != nil {
		if *in.BufferMinutes < 0 {
			return domain.Provider{}, validationError("bufferMinutes must not be negative")
		}
		buffer := *in.BufferMinutes
		patch.BufferMinutes = &buffer
	}
	if in.Weekly != nil {
		if err := in.Weekly.Validate(); err != nil {
			return domain.Provider{}, validationError(err.Error())
		}
		weekly := *in.Weekly
		patch.Weekly = &weekly
	}
	if in.AppointmentTypes != nil {
		types, err := normalizeTypes(*in.AppointmentTypes)
		if err != nil {
			return domain.Provider{}, err
		}
		patch.AppointmentTypes = &types
	}

	provider, err := s.providers.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Provider{}, err
	}
	updated, err := s.providers.UpdateSettings(ctx, provider.ID, patch)
	if err != nil {
		return domain.Provider{}, err
	}
	s.invalidate(ctx, updated.ID)
	return updated, nil
}

func normalizeTypes(in []domain.AppointmentType) ([]domain.AppointmentType, error) {
	out := make([]domain.AppointmentType, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		t.Label = strings.TrimSpace(t.Label)
		if t.Label == "" {
			return nil, validationError("appointment type label is required")
		}
		k := strings.ToLower(t.Label)
		if _, dup := seen[k]; dup {
			return nil, validationError("duplicate appointment type " + t.Label)
		}
		seen[k] = struct{}{}
		if t.DurationMinutes <= 0 {
			return nil, validationError("appointment type " + t.Label + ": duration must be positive")
		}
		if t.Price.IsNegative() {
			return nil, validationError("appointment type " + t.Label + ": price must not be negative")
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, slug string, bookingID uuid.UUID) (domain.Booking, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return domain.Booking{}, validationError("provider slug is required")
	}
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking id is required")
	}

	provider, err := s.providers.GetBySlug(ctx, slug)
	if err != nil {
		return domain.Booking{}, err
	}

	b, err := s.bookings.Cancel(ctx, provider.ID, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	s.invalidate(ctx, provider.ID)
	return b, nil
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
