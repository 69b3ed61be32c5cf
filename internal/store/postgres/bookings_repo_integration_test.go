package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"agenda/backend/internal/domain"
	"agenda/backend/internal/store"
)

// openTestSchema creates a throwaway schema, applies the migrations into it and
// returns a pool whose search_path points at it.
func openTestSchema(t *testing.T) *bun.DB {
	t.Helper()

	databaseURL := strings.TrimSpace(os.Getenv("AGENDA_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("AGENDA_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(admin)
	})

	schema := "agenda_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	err = admin.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewRaw("SET LOCAL search_path TO " + schema).Exec(ctx); err != nil {
			return err
		}
		return applyMigrations(ctx, tx)
	})
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	sep := "?"
	if strings.Contains(databaseURL, "?") {
		sep = "&"
	}
	db, err := Open(ctx, databaseURL+sep+"search_path="+schema+",public", PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("Open scoped error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})
	return db
}

func seedProvider(t *testing.T, db *bun.DB) domain.Provider {
	t.Helper()
	p := domain.Provider{
		Slug:          "dr-" + randomHex(t, 4),
		DisplayName:   "Dr. Test",
		Email:         "dr@example.com",
		Verified:      true,
		Timezone:      "UTC",
		BufferMinutes: 0,
		Weekly: domain.WeeklyAvailability{
			time.Monday: {Enabled: true, Start: "09:00", End: "11:00"},
		},
		AppointmentTypes: []domain.AppointmentType{
			{ID: "c", Label: "consultation", DurationMinutes: 60, Price: decimal.NewFromInt(40)},
		},
	}
	if _, err := db.NewInsert().Model(&p).Exec(context.Background()); err != nil {
		t.Fatalf("insert provider: %v", err)
	}
	return p
}

func bookRequest(p domain.Provider, start time.Time, email string) store.BookRequest {
	return store.BookRequest{
		Booking: domain.Booking{
			ProviderID:      p.ID,
			StartAt:         start,
			EndAt:           start.Add(time.Hour),
			AppointmentType: "consultation",
			DurationMinutes: 60,
			Price:           decimal.NewFromInt(40),
		},
		Client: domain.Client{FirstName: "Ada", LastName: "Lovelace", Email: email},
	}
}

func TestPostgresIntegration_ConcurrentBookingsExactlyOneWins(t *testing.T) {
	db := openTestSchema(t)
	p := seedProvider(t, db)
	repo := NewBookingRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Book(ctx, bookRequest(p, start, "race@example.com"))
		}(i)
	}
	wg.Wait()

	succeeded, taken := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrSlotTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || taken != 1 {
		t.Fatalf("succeeded=%d taken=%d, want 1 and 1", succeeded, taken)
	}

	rows, err := repo.ListOccupying(ctx, p.ID, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListOccupying error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
}

func TestPostgresIntegration_AdjacentCancelAndClientReuse(t *testing.T) {
	db := openTestSchema(t)
	p := seedProvider(t, db)
	repo := NewBookingRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)

	first, err := repo.Book(ctx, bookRequest(p, start, "Ada@Example.com"))
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}

	second, err := repo.Book(ctx, bookRequest(p, start.Add(time.Hour), "ada@example.com"))
	if err != nil {
		t.Fatalf("adjacent Book error: %v", err)
	}
	if first.ClientID != second.ClientID {
		t.Fatalf("client ids differ: %s vs %s", first.ClientID, second.ClientID)
	}

	if _, err := repo.Book(ctx, bookRequest(p, start.Add(30*time.Minute), "other@example.com")); !errors.Is(err, store.ErrSlotTaken) {
		t.Fatalf("overlap error = %v, want %v", err, store.ErrSlotTaken)
	}

	cancelled, err := repo.Cancel(ctx, p.ID, first.ID)
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.Status != domain.BookingStatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}
	if _, err := repo.Cancel(ctx, p.ID, first.ID); err != nil {
		t.Fatalf("second Cancel error: %v", err)
	}
	if _, err := repo.Cancel(ctx, uuid.New(), first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign Cancel error = %v, want %v", err, store.ErrNotFound)
	}

	if _, err := repo.Book(ctx, bookRequest(p, start, "other@example.com")); err != nil {
		t.Fatalf("rebook after cancel error: %v", err)
	}

	upcoming, err := repo.ListStartingBetween(ctx, start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListStartingBetween error: %v", err)
	}
	if len(upcoming) != 2 {
		t.Fatalf("len(upcoming) = %d, want 2", len(upcoming))
	}
	for _, b := range upcoming {
		if b.Client == nil || b.Provider == nil {
			t.Fatalf("relations not loaded for %s", b.ID)
		}
		if b.Provider.Slug != p.Slug {
			t.Fatalf("provider slug = %q, want %q", b.Provider.Slug, p.Slug)
		}
	}
}

func TestPostgresIntegration_IdempotentReplayChecksClient(t *testing.T) {
	db := openTestSchema(t)
	p := seedProvider(t, db)
	repo := NewBookingRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)
	req := bookRequest(p, start, "ada@example.com")
	req.Booking.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("replay-"+p.ID.String()))

	first, err := repo.Book(ctx, req)
	if err != nil {
		t.Fatalf("Book error: %v", err)
	}
	replayed, err := repo.Book(ctx, req)
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if replayed.ID != first.ID || replayed.ClientID != first.ClientID {
		t.Fatalf("replay = %+v, want %+v", replayed, first)
	}

	other := req
	other.Client.Email = "grace@example.com"
	if _, err := repo.Book(ctx, other); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("reuse by another client error = %v, want %v", err, store.ErrIdempotencyConflict)
	}
}

func TestPostgresIntegration_ProviderLookupAndSettings(t *testing.T) {
	db := openTestSchema(t)
	p := seedProvider(t, db)
	repo := NewProviderRepo(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got, err := repo.GetBySlug(ctx, p.Slug)
	if err != nil {
		t.Fatalf("GetBySlug error: %v", err)
	}
	if got.Weekly[time.Monday].Start != "09:00" || len(got.AppointmentTypes) != 1 {
		t.Fatalf("jsonb columns not round-tripped: %+v", got)
	}

	// Two patches of different columns, as two admins editing at once would send.
	buffer := 15
	if _, err := repo.UpdateSettings(ctx, got.ID, store.SettingsPatch{BufferMinutes: &buffer}); err != nil {
		t.Fatalf("UpdateSettings buffer error: %v", err)
	}
	tz := "Europe/Paris"
	updated, err := repo.UpdateSettings(ctx, got.ID, store.SettingsPatch{Timezone: &tz})
	if err != nil {
		t.Fatalf("UpdateSettings timezone error: %v", err)
	}
	if updated.BufferMinutes != 15 || updated.Timezone != "Europe/Paris" || updated.Slug != p.Slug {
		t.Fatalf("returned row = %+v", updated)
	}
	again, err := repo.GetBySlug(ctx, p.Slug)
	if err != nil {
		t.Fatalf("GetBySlug error: %v", err)
	}
	if again.BufferMinutes != 15 || again.Timezone != "Europe/Paris" {
		t.Fatalf("settings = buffer %d tz %q, want both patches applied", again.BufferMinutes, again.Timezone)
	}
	if again.Weekly[time.Monday].Start != "09:00" || len(again.AppointmentTypes) != 1 {
		t.Fatalf("unpatched columns changed: %+v", again)
	}

	if _, err := repo.UpdateSettings(ctx, uuid.New(), store.SettingsPatch{BufferMinutes: &buffer}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown provider error = %v, want %v", err, store.ErrNotFound)
	}

	if _, err := db.NewUpdate().Model((*domain.Provider)(nil)).Set("verified = false").Where("id = ?", p.ID).Exec(ctx); err != nil {
		t.Fatalf("unverify: %v", err)
	}
	if _, err := repo.GetBySlug(ctx, p.Slug); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unverified lookup error = %v, want %v", err, store.ErrNotFound)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(string(b)) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
