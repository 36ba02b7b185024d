package repository

import (
	"context"
	"time"

	"marketplace/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EmailOtpRepository struct {
	db *gorm.DB
}

func NewEmailOtpRepository(db *gorm.DB) *EmailOtpRepository {
	return &EmailOtpRepository{db: db}
}

func (r *EmailOtpRepository) WithTx(tx *gorm.DB) *EmailOtpRepository {
	return &EmailOtpRepository{db: tx}
}

func (r *EmailOtpRepository) Transaction(ctx context.Context, fn func(repo *EmailOtpRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

// ConsumeOutstanding marks every unconsumed code for (email, purpose) as used.
func (r *EmailOtpRepository) ConsumeOutstanding(ctx context.Context, email, purpose string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.EmailOtp{}).
		Where("email = ? AND purpose = ? AND consumed = ?", email, purpose, false).
		Update("consumed", true)
	return res.RowsAffected, res.Error
}

func (r *EmailOtpRepository) Create(ctx context.Context, otp *domain.EmailOtp) error {
	return r.db.WithContext(ctx).Create(otp).Error
}

// LatestOutstanding returns the newest unconsumed code, locking it where the
// store supports row locks.
func (r *EmailOtpRepository) LatestOutstanding(ctx context.Context, email, purpose string) (*domain.EmailOtp, error) {
	var otp domain.EmailOtp
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("email = ? AND purpose = ? AND consumed = ?", email, purpose, false).
		Order("created_at DESC").
		Order("id DESC").
		First(&otp).Error
	if err != nil {
		return nil, err
	}
	return &otp, nil
}

// MarkConsumed flips the flag only if it is still unset.
func (r *EmailOtpRepository) MarkConsumed(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.EmailOtp{}).
		Where("id = ? AND consumed = ?", id, false).
		Update("consumed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IssuedSince counts codes of any purpose issued to email at or after since,
// and returns the newest issuance time.
func (r *EmailOtpRepository) IssuedSince(ctx context.Context, email string, since time.Time) (int64, *time.Time, error) {
	var rows []domain.EmailOtp
	err := r.db.WithContext(ctx).
		Select("id", "created_at").
		Where("email = ? AND created_at >= ?", email, since).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return 0, nil, err
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}
	latest := rows[0].CreatedAt
	return int64(len(rows)), &latest, nil
}

// DeleteExpired removes expired codes issued before keepIssuedSince. Newer
// expired rows stay because the issuance throttle still counts them.
func (r *EmailOtpRepository) DeleteExpired(ctx context.Context, now, keepIssuedSince time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ? AND created_at < ?", now, keepIssuedSince).
		Delete(&domain.EmailOtp{})
	return res.RowsAffected, res.Error
}
