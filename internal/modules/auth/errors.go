package auth

import "marketplace/internal/domain"

var (
	ErrEmailAlreadyExists  = domain.NewError(domain.KindConflict, "EMAIL_EXISTS", "A user with this email already exists")
	ErrWeakPassword        = domain.NewError(domain.KindBadRequest, "WEAK_PASSWORD", "Password does not meet the requirements")
	ErrInvalidCredentials  = domain.NewError(domain.KindUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
	ErrAccountLocked       = domain.NewError(domain.KindBadRequest, "ACCOUNT_LOCKED", "Account locked. Please try again later.")
	ErrEmailNotConfirmed   = domain.NewError(domain.KindUnauthorized, "EMAIL_NOT_CONFIRMED", "Please verify your email first.")
	ErrUserNotFound        = domain.NewError(domain.KindNotFound, "USER_NOT_FOUND", "User not found")
	ErrInvalidOtp          = domain.NewError(domain.KindBadRequest, "INVALID_OTP", "Invalid or expired verification code")
	ErrInvalidResetRequest = domain.NewError(domain.KindBadRequest, "INVALID_REQUEST", "Invalid request")
	ErrChangePassword      = domain.NewError(domain.KindBadRequest, "CHANGE_PASSWORD_FAILED", "Failed to change password.")
	ErrTokenNotOwned       = domain.NewError(domain.KindUnauthorized, "UNAUTHORIZED_REVOCATION", "Unauthorized token revocation")
	ErrUnauthenticated     = domain.NewError(domain.KindUnauthorized, "UNAUTHORIZED", "Authentication required")
)
