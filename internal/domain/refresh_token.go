package domain

import "time"

// RefreshToken is one link of a rotation chain.
//
// Security notes:
// - Only the SHA-256 hash of the opaque secret is stored (TokenHash).
// - ReplacedByToken holds the successor's hash, so a chain never points back.
// - Rows are only ever updated to set the revocation fields.
type RefreshToken struct {
	ID int64 `json:"id" gorm:"primaryKey"`

	UserID int64 `json:"user_id" gorm:"not null;index:idx_refresh_tokens_active,priority:1"`
	User   User  `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`

	TokenHash string `json:"-" gorm:"size:64;uniqueIndex;not null"`
	FamilyID  string `json:"family_id" gorm:"size:36;index;not null"`

	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null;index;index:idx_refresh_tokens_active,priority:3"`
	CreatedByIP string    `json:"created_by_ip" gorm:"size:64"`

	RevokedAt       *time.Time `json:"revoked_at" gorm:"index:idx_refresh_tokens_active,priority:2"`
	RevokedByIP     *string    `json:"revoked_by_ip" gorm:"size:64"`
	ReplacedByToken *string    `json:"-" gorm:"size:64"`

	// Token is the raw secret. It is only set on the value returned at creation.
	Token string `json:"-" gorm:"-"`
}

func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked() && !t.IsExpired(now)
}

// WasRotated reports whether the token was revoked in favour of a successor.
func (t *RefreshToken) WasRotated() bool {
	return t.RevokedAt != nil && t.ReplacedByToken != nil
}
