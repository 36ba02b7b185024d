// Package otp issues and checks the six-digit codes sent by email for address
// verification and password reset.
//
// At most one code per (email, purpose) is outstanding: issuing a new one
// consumes the previous ones in the same transaction.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/repository"
)

const DefaultTTL = 10 * time.Minute

const (
	codeFloor = 100000
	codeSpan  = 900000
)

var ErrNilRandom = errors.New("otp: random source is required")

type Vault struct {
	repo     *repository.EmailOtpRepository
	throttle Throttle
	random   io.Reader
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Vault)

func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// NewVault refuses to run without a random source. Production callers pass
// crypto/rand.Reader.
func NewVault(repo *repository.EmailOtpRepository, throttle Throttle, random io.Reader, opts ...Option) (*Vault, error) {
	if random == nil {
		return nil, ErrNilRandom
	}
	if throttle == nil {
		throttle = NewDBThrottle(repo, DefaultCooldown, DefaultHourlyCap)
	}
	v := &Vault{
		repo:     repo,
		throttle: throttle,
		random:   random,
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Vault) newCode() (string, error) {
	n, err := rand.Int(v.random, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("draw otp code: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeFloor, 10), nil
}

// CheckThrottle returns ErrThrottled when a new code may not be sent yet.
func (v *Vault) CheckThrottle(ctx context.Context, email string) error {
	return v.throttle.Check(ctx, email)
}

// GenerateOtp issues a fresh code and returns it for delivery.
func (v *Vault) GenerateOtp(ctx context.Context, email, purpose string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	email = repository.NormalizeEmail(email)

	code, err := v.newCode()
	if err != nil {
		return "", err
	}

	now := v.now()
	err = v.repo.Transaction(ctx, func(repo *repository.EmailOtpRepository) error {
		if _, err := repo.ConsumeOutstanding(ctx, email, purpose); err != nil {
			return fmt.Errorf("consume outstanding codes: %w", err)
		}
		return repo.Create(ctx, &domain.EmailOtp{
			Email:     email,
			Purpose:   purpose,
			Code:      code,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		})
	})
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}

	if err := v.throttle.Record(ctx, email, now); err != nil {
		// code is already stored, so this is not fatal
		v.log.WarnContext(ctx, "otp throttle record failed", "error", err)
	}
	return code, nil
}

// ValidateOtp reports whether code matches the newest outstanding code. A
// match consumes it; a mismatch leaves it usable until it expires.
func (v *Vault) ValidateOtp(ctx context.Context, email, code, purpose string) (bool, error) {
	email = repository.NormalizeEmail(email)
	var ok bool

	err := v.repo.Transaction(ctx, func(repo *repository.EmailOtpRepository) error {
		otp, err := repo.LatestOutstanding(ctx, email, purpose)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil
			}
			return err
		}
		if otp.IsExpired(v.now()) {
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
			return nil
		}

		consumed, err := repo.MarkConsumed(ctx, otp.ID)
		if err != nil {
			return err
		}
		ok = consumed
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("validate otp: %w", err)
	}
	return ok, nil
}

func (v *Vault) Cleanup(ctx context.Context) (int64, error) {
	now := v.now()
	n, err := v.repo.DeleteExpired(ctx, now, now.Add(-throttleWindow))
	if err != nil {
		return 0, fmt.Errorf("delete expired otps: %w", err)
	}
	return n, nil
}
