package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"marketplace/backend/internal/domain"
)

const (
	DefaultSlotTTL = 5 * time.Minute

	// versionTTL bounds how long invalidation counters live. A counter that
	// expires resets to zero, which only ever rejects writes.
	versionTTL = 24 * time.Hour

	scanBatch = 100
)

// RedisSlotCache keeps one hash per provider and date under
// slots:{provider}:{date}, with a field per service variation. Invalidation
// counters live next to it under slots:{provider}:{date}:v and
// slots:{provider}:v.
type RedisSlotCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisSlotCache(rdb redis.UniversalClient, ttl time.Duration) *RedisSlotCache {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &RedisSlotCache{rdb: rdb, ttl: ttl}
}

func SlotsKey(providerID, date string) string {
	return "slots:" + providerID + ":" + date
}

func DateVersionKey(providerID, date string) string {
	return SlotsKey(providerID, date) + ":v"
}

func ProviderVersionKey(providerID string) string {
	return "slots:" + providerID + ":v"
}

type cachedSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (c *RedisSlotCache) Get(ctx context.Context, providerID, date string, variationID uuid.UUID) ([]domain.Slot, bool, error) {
	raw, err := c.rdb.HGet(ctx, SlotsKey(providerID, date), variationID.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var rows []cachedSlot
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false, err
	}
	out := make([]domain.Slot, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Slot{Start: r.Start, End: r.End})
	}
	return out, true, nil
}

func (c *RedisSlotCache) Version(ctx context.Context, providerID, date string) (Version, error) {
	return readVersion(ctx, c.rdb, providerID, date)
}

// Set stores the listing only if no invalidation happened since version was
// read. The counters are watched so a concurrent invalidation aborts the
// write.
func (c *RedisSlotCache) Set(ctx context.Context, providerID, date string, variationID uuid.UUID, version Version, slots []domain.Slot) error {
	rows := make([]cachedSlot, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, cachedSlot{Start: s.Start, End: s.End})
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	key := SlotsKey(providerID, date)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx, providerID, date)
		if err != nil {
			return err
		}
		if current != version {
			return ErrStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, variationID.String(), raw)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, ProviderVersionKey(providerID), DateVersionKey(providerID, date))
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStaleVersion
	}
	return err
}

func (c *RedisSlotCache) InvalidateSlots(ctx context.Context, providerID, date string) error {
	vkey := DateVersionKey(providerID, date)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		pipe.Del(ctx, SlotsKey(providerID, date))
		return nil
	})
	return err
}

// InvalidateProvider drops every cached date of a provider. The provider
// counter is bumped first so listings computed before the change can no
// longer be stored.
func (c *RedisSlotCache) InvalidateProvider(ctx context.Context, providerID string) error {
	vkey := ProviderVersionKey(providerID)
	if _, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, versionTTL)
		return nil
	}); err != nil {
		return err
	}

	iter := c.rdb.Scan(ctx, 0, escapePattern("slots:"+providerID+":")+"*", scanBatch).Iterator()
	var batch []string
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasSuffix(k, ":v") {
			continue
		}
		batch = append(batch, k)
		if len(batch) == scanBatch {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

type multiGetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func readVersion(ctx context.Context, r multiGetter, providerID, date string) (Version, error) {
	vals, err := r.MGet(ctx, ProviderVersionKey(providerID), DateVersionKey(providerID, date)).Result()
	if err != nil {
		return Version{}, err
	}
	if len(vals) != 2 {
		return Version{}, fmt.Errorf("slot cache: got %d version values, want 2", len(vals))
	}
	var v Version
	if v.Provider, err = parseCounter(vals[0]); err != nil {
		return Version{}, err
	}
	if v.Date, err = parseCounter(vals[1]); err != nil {
		return Version{}, err
	}
	return v, nil
}

func parseCounter(v any) (int64, error) {
	switch s := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("slot cache: unexpected counter type %T", v)
	}
}

var patternEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapePattern(s string) string {
	return patternEscaper.Replace(s)
}

// Ping backs the Redis readiness check.
func Ping(rdb redis.Cmdable) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
