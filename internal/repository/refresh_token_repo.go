package repository

import (
	"context"
	"time"

	"marketplace/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RefreshTokenRepository provides DB access for refresh tokens.
type RefreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *RefreshTokenRepository) WithTx(tx *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: tx}
}

// Transaction runs fn inside one transaction; fn must only use the repository
// it is handed.
func (r *RefreshTokenRepository) Transaction(ctx context.Context, fn func(repo *RefreshTokenRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByHashForUpdate locks the row until the surrounding transaction ends.
// SQLite has no row locks; there the single writer gives the same guarantee.
func (r *RefreshTokenRepository) GetByHashForUpdate(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token_hash = ?", hash).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Revoke sets the revocation fields only if the token is still unrevoked.
// The returned bool is false when another writer got there first.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id int64, at time.Time, ip string, replacedBy *string) (bool, error) {
	updates := map[string]any{
		"revoked_at":    at,
		"revoked_by_ip": ip,
	}
	if replacedBy != nil {
		updates["replaced_by_token"] = *replacedBy
	}
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *RefreshTokenRepository) RevokeActiveByUser(ctx context.Context, userID int64, at time.Time, ip string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, at).
		Updates(map[string]any{
			"revoked_at":    at,
			"revoked_by_ip": ip,
		})
	return res.RowsAffected, res.Error
}

func (r *RefreshTokenRepository) RevokeActiveByFamily(ctx context.Context, familyID string, at time.Time, ip string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.RefreshToken{}).
		Where("family_id = ? AND revoked_at IS NULL", familyID).
		Updates(map[string]any{
			"revoked_at":    at,
			"revoked_by_ip": ip,
		})
	return res.RowsAffected, res.Error
}

func (r *RefreshTokenRepository) ListActiveByUser(ctx context.Context, userID int64, now time.Time) ([]domain.RefreshToken, error) {
	var out []domain.RefreshToken
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&domain.RefreshToken{})
	return res.RowsAffected, res.Error
}
