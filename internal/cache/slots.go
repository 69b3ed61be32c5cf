// Package cache keeps short-lived copies of generated availability in Redis.
//
// Every provider owns a version counter. Slot lists are stored under a key
// that embeds the current version, so bumping the counter orphans all cached
// ranges of that provider at once and lets them expire on their own TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"agenda/backend/internal/domain"
)

const (
	keyPrefix     = "slots:"
	versionPrefix = "slots:ver:"
	dateLayout    = "2006-01-02"
	// Version counters outlive any slot entry.
	versionTTL = 7 * 24 * time.Hour
)

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type SlotCache struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewSlotCache connects and pings Redis.
func NewSlotCache(opts Options, logger *zap.Logger) (*SlotCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("slot cache connected", zap.String("addr", opts.Addr), zap.Duration("ttl", opts.TTL))
	return NewSlotCacheWithClient(rdb, opts.TTL, logger), nil
}

func NewSlotCacheWithClient(rdb *goredis.Client, ttl time.Duration, logger *zap.Logger) *SlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotCache{rdb: rdb, ttl: ttl, logger: logger}
}

type cachedSlot struct {
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	AppointmentType string          `json:"type"`
	DurationMinutes int             `json:"duration"`
	Price           decimal.Decimal `json:"price"`
}

// Get returns the cached slots along with the version the lookup used. A
// caller that regenerates on a miss must hand that version back to Set so a
// list computed before a concurrent Invalidate never lands under the new one.
func (c *SlotCache) Get(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]domain.CandidateSlot, int64, bool, error) {
	version, err := c.version(ctx, providerID)
	if err != nil {
		return nil, 0, false, err
	}
	raw, err := c.rdb.Get(ctx, slotKey(providerID, version, from, to)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, version, false, nil
	}
	if err != nil {
		return nil, version, false, err
	}
	slots, err := decodeSlots(raw)
	if err != nil {
		return nil, version, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, version, true, nil
}

func (c *SlotCache) Set(ctx context.Context, providerID uuid.UUID, version int64, from, to time.Time, slots []domain.CandidateSlot) error {
	raw, err := encodeSlots(slots)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, slotKey(providerID, version, from, to), raw, c.ttl).Err()
}

// Invalidate bumps the provider's version counter.
func (c *SlotCache) Invalidate(ctx context.Context, providerID uuid.UUID) error {
	key := versionPrefix + providerID.String()
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, versionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *SlotCache) Close() error {
	return c.rdb.Close()
}

func (c *SlotCache) version(ctx context.Context, providerID uuid.UUID) (int64, error) {
	v, err := c.rdb.Get(ctx, versionPrefix+providerID.String()).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return v, err
}

func slotKey(providerID uuid.UUID, version int64, from, to time.Time) string {
	return fmt.Sprintf("%s%s:v%d:%s:%s", keyPrefix, providerID, version, from.Format(dateLayout), to.Format(dateLayout))
}

func encodeSlots(slots []domain.CandidateSlot) ([]byte, error) {
	out := make([]cachedSlot, 0, len(slots))
	for _, s := range slots {
		out = append(out, cachedSlot{
			Start:           s.Start,
			End:             s.End,
			AppointmentType: s.AppointmentType,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
		})
	}
	return json.Marshal(out)
}

func decodeSlots(raw []byte) ([]domain.CandidateSlot, error) {
	var in []cachedSlot
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]domain.CandidateSlot, 0, len(in))
	for _, s := range in {
		out = append(out, domain.CandidateSlot{
			Start:           s.Start,
			End:             s.End,
			AppointmentType: s.AppointmentType,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
		})
	}
	return out, nil
}
