package otp

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"marketplace/internal/repository"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisThrottle keeps one sorted set per address, scored by issue time in
// milliseconds. Entries older than an hour are trimmed on every check.
type RedisThrottle struct {
	redis     *redis.Client
	cooldown  time.Duration
	hourlyCap int
	now       func() time.Time
}

func NewRedisThrottle(client *redis.Client, cooldown time.Duration, hourlyCap int) *RedisThrottle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if hourlyCap <= 0 {
		hourlyCap = DefaultHourlyCap
	}
	return &RedisThrottle{
		redis:     client,
		cooldown:  cooldown,
		hourlyCap: hourlyCap,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (t *RedisThrottle) WithClock(now func() time.Time) *RedisThrottle {
	cp := *t
	cp.now = now
	return &cp
}

func (t *RedisThrottle) key(email string) string {
	return "otp:issued:" + repository.NormalizeEmail(email)
}

func (t *RedisThrottle) Check(ctx context.Context, email string) error {
	key := t.key(email)
	now := t.now()
	floor := strconv.FormatInt(now.Add(-throttleWindow).UnixMilli(), 10)

	pipe := t.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+floor)
	card := pipe.ZCard(ctx, key)
	last := pipe.ZRevRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis throttle check: %w", err)
	}

	if entries := last.Val(); len(entries) > 0 {
		issued := time.UnixMilli(int64(entries[0].Score)).UTC()
		if issued.After(now.Add(-t.cooldown)) {
			return ErrThrottled
		}
	}
	if card.Val() >= int64(t.hourlyCap) {
		return ErrThrottled
	}
	return nil
}

func (t *RedisThrottle) Record(ctx context.Context, email string, at time.Time) error {
	key := t.key(email)

	pipe := t.redis.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, throttleWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis throttle record: %w", err)
	}
	return nil
}
