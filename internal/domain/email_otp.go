package domain

import "time"

const (
	OtpPurposeEmailVerification = "email_verification"
	OtpPurposePasswordReset     = "password_reset"
)

type EmailOtp struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"size:256;not null;index:idx_email_otps_email_purpose,priority:1"`
	Purpose   string    `json:"purpose" gorm:"size:64;not null;default:email_verification;index:idx_email_otps_email_purpose,priority:2"`
	Code      string    `json:"-" gorm:"size:20;not null"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index"`
	Consumed  bool      `json:"consumed" gorm:"not null;default:false"`
}

func (o *EmailOtp) IsExpired(now time.Time) bool {
	return o.ExpiresAt.Before(now)
}
