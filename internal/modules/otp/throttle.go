package otp

import (
	"context"
	"fmt"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/repository"
)

const (
	DefaultCooldown  = 60 * time.Second
	DefaultHourlyCap = 5
	throttleWindow   = time.Hour
)

var ErrThrottled = domain.NewError(domain.KindRateLimited, "OTP_THROTTLED", "Too many verification code requests. Please try again later.")

// Throttle limits how often codes are issued to one address. Check and Record
// are not atomic together; two racing requests may both pass.
type Throttle interface {
	Check(ctx context.Context, email string) error
	Record(ctx context.Context, email string, at time.Time) error
}

// DBThrottle derives the limits from the email_otps rows themselves, so
// Record has nothing to do.
type DBThrottle struct {
	repo      *repository.EmailOtpRepository
	cooldown  time.Duration
	hourlyCap int
	now       func() time.Time
}

func NewDBThrottle(repo *repository.EmailOtpRepository, cooldown time.Duration, hourlyCap int) *DBThrottle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if hourlyCap <= 0 {
		hourlyCap = DefaultHourlyCap
	}
	return &DBThrottle{
		repo:      repo,
		cooldown:  cooldown,
		hourlyCap: hourlyCap,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (t *DBThrottle) WithClock(now func() time.Time) *DBThrottle {
	cp := *t
	cp.now = now
	return &cp
}

func (t *DBThrottle) Check(ctx context.Context, email string) error {
	now := t.now()
	count, latest, err := t.repo.IssuedSince(ctx, repository.NormalizeEmail(email), now.Add(-throttleWindow))
	if err != nil {
		return fmt.Errorf("count issued codes: %w", err)
	}
	if latest != nil && latest.After(now.Add(-t.cooldown)) {
		return ErrThrottled
	}
	if count >= int64(t.hourlyCap) {
		return ErrThrottled
	}
	return nil
}

func (t *DBThrottle) Record(context.Context, string, time.Time) error { return nil }
