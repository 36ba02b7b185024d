// Package refresh owns refresh-token persistence and the rotation protocol.
//
// Rotation revokes the presented token and issues its successor inside one
// transaction. Presenting a token that was already rotated is treated as a
// replay: every still-active token of the same login session is revoked.
package refresh

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultTTL  = 7 * 24 * time.Hour
	secretBytes = 64
)

var (
	ErrInvalidToken   = domain.NewError(domain.KindBadRequest, "INVALID_TOKEN", "Invalid token")
	ErrAlreadyRevoked = domain.NewError(domain.KindConflict, "TOKEN_ALREADY_REVOKED", "Token is already revoked or expired")
	ErrUnauthorized   = domain.NewError(domain.KindUnauthorized, "INVALID_REFRESH_TOKEN", "Invalid session")
	ErrTokenReused    = domain.NewError(domain.KindUnauthorized, "REFRESH_TOKEN_REUSED", "Invalid session")
)

// Rotation is the result of a committed rotation.
type Rotation struct {
	Previous *domain.RefreshToken
	Next     *domain.RefreshToken
}

// FinishFunc runs inside the rotation transaction after the successor is
// written. Returning an error rolls the whole rotation back.
type FinishFunc func(ctx context.Context, next *domain.RefreshToken) error

type Ledger struct {
	repo   *repository.RefreshTokenRepository
	pepper string
	ttl    time.Duration
	random io.Reader
	now    func() time.Time
	log    *slog.Logger
}

type Option func(*Ledger)

// WithRandom replaces crypto/rand. The reader must still be a CSPRNG.
func WithRandom(r io.Reader) Option {
	return func(l *Ledger) { l.random = r }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func NewLedger(repo *repository.RefreshTokenRepository, pepper string, ttl time.Duration, opts ...Option) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	l := &Ledger{
		repo:   repo,
		pepper: pepper,
		ttl:    ttl,
		random: rand.Reader,
		now:    func() time.Time { return time.Now().UTC() },
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hash is the lookup key stored for a raw token.
func (l *Ledger) Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw + l.pepper))
	return hex.EncodeToString(sum[:])
}

// Generate creates a token that starts a new rotation chain.
func (l *Ledger) Generate(ctx context.Context, userID int64, ip string) (*domain.RefreshToken, error) {
	return l.create(ctx, l.repo, userID, uuid.NewString(), ip)
}

func (l *Ledger) create(ctx context.Context, repo *repository.RefreshTokenRepository, userID int64, familyID, ip string) (*domain.RefreshToken, error) {
	raw, err := l.newSecret()
	if err != nil {
		return nil, err
	}

	now := l.now()
	t := &domain.RefreshToken{
		UserID:      userID,
		TokenHash:   l.Hash(raw),
		FamilyID:    familyID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.ttl),
		CreatedByIP: ip,
	}
	if err := repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create refresh token: %w", err)
	}
	t.Token = raw
	return t, nil
}

func (l *Ledger) newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(l.random, buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Lookup returns nil, nil when no token matches.
func (l *Ledger) Lookup(ctx context.Context, raw string) (*domain.RefreshToken, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := l.repo.GetByHash(ctx, l.Hash(raw))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	return t, nil
}

// Revoke ends a single token. replacedBy, when set, is the successor's hash.
func (l *Ledger) Revoke(ctx context.Context, raw, ip string, replacedBy *string) error {
	return l.revoke(ctx, l.repo, raw, ip, replacedBy)
}

func (l *Ledger) revoke(ctx context.Context, repo *repository.RefreshTokenRepository, raw, ip string, replacedBy *string) error {
	t, err := repo.GetByHash(ctx, l.Hash(raw))
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrInvalidToken
		}
		return fmt.Errorf("load refresh token: %w", err)
	}

	now := l.now()
	if !t.IsActive(now) {
		return ErrAlreadyRevoked
	}

	ok, err := repo.Revoke(ctx, t.ID, now, ip, replacedBy)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if !ok {
		return ErrAlreadyRevoked
	}
	return nil
}

func (l *Ledger) RevokeAllForUser(ctx context.Context, userID int64, ip string) (int64, error) {
	n, err := l.repo.RevokeActiveByUser(ctx, userID, l.now(), ip)
	if err != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return n, nil
}

func (l *Ledger) ActiveForUser(ctx context.Context, userID int64) ([]domain.RefreshToken, error) {
	return l.repo.ListActiveByUser(ctx, userID, l.now())
}

// Cleanup deletes expired rows. It is safe to run alongside rotations: an
// expired row can no longer be rotated.
func (l *Ledger) Cleanup(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return n, nil
}

// Rotate exchanges the presented token for a successor owned by callerID.
// Either the old token is revoked with ReplacedByToken pointing at the new
// one and the new one exists, or nothing changed.
//
// A token that was already rotated away counts as a replay: the rotation is
// refused and, in a separate transaction, the rest of its chain is revoked.
func (l *Ledger) Rotate(ctx context.Context, raw string, callerID int64, ip string, finish FinishFunc) (*Rotation, error) {
	hash := l.Hash(raw)
	var rotation *Rotation

	err := l.repo.Transaction(ctx, func(repo *repository.RefreshTokenRepository) error {
		current, err := repo.GetByHashForUpdate(ctx, hash)
		if err != nil {
			if repository.IsNotFound(err) {
				return ErrUnauthorized
			}
			return fmt.Errorf("lock refresh token: %w", err)
		}

		now := l.now()
		if current.UserID != callerID {
			return ErrUnauthorized
		}
		if current.WasRotated() {
			return &replayError{token: current}
		}
		if !current.IsActive(now) {
			return ErrUnauthorized
		}

		next, err := l.create(ctx, repo, current.UserID, current.FamilyID, ip)
		if err != nil {
			return err
		}

		ok, err := repo.Revoke(ctx, current.ID, now, ip, &next.TokenHash)
		if err != nil {
			return fmt.Errorf("revoke rotated token: %w", err)
		}
		if !ok {
			// lost the race to a concurrent rotation of the same token
			return ErrUnauthorized
		}

		if finish != nil {
			if err := finish(ctx, next); err != nil {
				return err
			}
		}

		current.RevokedAt = &now
		current.RevokedByIP = &ip
		current.ReplacedByToken = &next.TokenHash
		rotation = &Rotation{Previous: current, Next: next}
		return nil
	})

	var replay *replayError
	if errors.As(err, &replay) {
		if famErr := l.revokeFamily(ctx, replay.token, ip); famErr != nil {
			return nil, famErr
		}
		return nil, ErrTokenReused
	}
	if err != nil {
		return nil, err
	}
	return rotation, nil
}

type replayError struct {
	token *domain.RefreshToken
}

func (e *replayError) Error() string { return "refresh token replay" }

func (l *Ledger) revokeFamily(ctx context.Context, t *domain.RefreshToken, ip string) error {
	n, err := l.repo.RevokeActiveByFamily(ctx, t.FamilyID, l.now(), ip)
	if err != nil {
		return fmt.Errorf("revoke refresh token family: %w", err)
	}
	l.log.WarnContext(ctx, "refresh token replay detected",
		"user_id", t.UserID,
		"family_id", t.FamilyID,
		"token_id", t.ID,
		"ip", ip,
		"revoked", n,
	)
	return nil
}

// IsRotationFailure reports whether err is one of the ledger's unauthorized
// outcomes rather than a store failure.
func IsRotationFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrTokenReused)
}
