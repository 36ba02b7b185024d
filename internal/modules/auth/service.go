// Package auth drives the account flows: registration with emailed codes,
// password login guarded by lockout, refresh-token rotation and password
// recovery.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/domain"
	"marketplace/internal/mailer"
	"marketplace/internal/modules/lockout"
	"marketplace/internal/modules/otp"
	"marketplace/internal/modules/refresh"
	jwtsvc "marketplace/internal/pkg/jwt"
	"marketplace/internal/pkg/password"
	"marketplace/internal/repository"
)

const tokenTypeBearer = "Bearer"

type Deps struct {
	Users  UserStore
	Guard  *lockout.Guard
	Ledger *refresh.Ledger
	Vault  *otp.Vault
	Tokens *jwtsvc.Service
	Hasher *password.Hasher
	Mailer mailer.Mailer
	OtpTTL time.Duration
	Log    *slog.Logger
}

// Service contains the session orchestration logic. It holds no mutable
// state of its own; everything shared lives in the store.
type Service struct {
	users  UserStore
	guard  *lockout.Guard
	ledger *refresh.Ledger
	vault  *otp.Vault
	tokens *jwtsvc.Service
	hasher *password.Hasher
	mailer mailer.Mailer
	otpTTL time.Duration
	log    *slog.Logger
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	otpTTL := d.OtpTTL
	if otpTTL <= 0 {
		otpTTL = otp.DefaultTTL
	}
	return &Service{
		users:  d.Users,
		guard:  d.Guard,
		ledger: d.Ledger,
		vault:  d.Vault,
		tokens: d.Tokens,
		hasher: d.Hasher,
		mailer: d.Mailer,
		otpTTL: otpTTL,
		log:    log.With("component", "auth"),
	}
}

type LoginResult struct {
	User         *domain.User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Register creates an unconfirmed account and mails a verification code.
// Nothing is kept when the address is throttled or the code cannot be issued.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*domain.User, error) {
	email := repository.NormalizeEmail(req.Email)

	if err := checkPolicy(req.Password); err != nil {
		return nil, err
	}
	if err := s.vault.CheckThrottle(ctx, email); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrEmailAlreadyExists
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := domain.RoleCustomer
	if req.Role == string(domain.RoleVendor) {
		role = domain.RoleVendor
	}
	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, ErrEmailAlreadyExists.Wrap(err)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := s.sendVerification(ctx, user.Email); err != nil {
		// without a code the row would block the address until the user
		// found the resend endpoint
		if delErr := s.users.Delete(ctx, user.ID); delErr != nil {
			s.log.ErrorContext(ctx, "remove user after failed code issue", "user_id", user.ID, "error", delErr)
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *Service) sendVerification(ctx context.Context, email string) error {
	code, err := s.vault.GenerateOtp(ctx, email, domain.OtpPurposeEmailVerification, s.otpTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerificationCode(ctx, email, code); err != nil {
		// the user can ask for another code once the cooldown passes
		s.log.ErrorContext(ctx, "send verification code", "email", email, "error", err)
	}
	return nil
}

func (s *Service) VerifyEmailOtp(ctx context.Context, email, code string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.EmailConfirmed {
		return nil
	}

	ok, err := s.vault.ValidateOtp(ctx, user.Email, code, domain.OtpPurposeEmailVerification)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOtp
	}

	if err := s.users.SetEmailConfirmed(ctx, user.ID); err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	s.log.InfoContext(ctx, "email confirmed", "user_id", user.ID)
	return nil
}

// ResendVerification answers the same way whether or not the account exists,
// except when the address is throttled.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	email = repository.NormalizeEmail(email)
	if err := s.vault.CheckThrottle(ctx, email); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.EmailConfirmed {
		return nil
	}
	return s.sendVerification(ctx, user.Email)
}

// Login runs lookup, lockout, password and confirmation checks in that order
// and issues a new token pair on success.
func (s *Service) Login(ctx context.Context, req LoginRequest, ip string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if repository.IsNotFound(err) {
			s.hasher.VerifyDummy(req.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if s.guard.IsLockedOut(user) {
		return nil, ErrAccountLocked
	}

	if !s.hasher.Verify(user.PasswordHash, req.Password) {
		outcome, err := s.guard.CheckAndRecordFailure(ctx, user)
		if err != nil {
			return nil, err
		}
		if outcome == lockout.LockedOut {
			s.log.WarnContext(ctx, "account locked", "user_id", user.ID, "ip", ip, "until", user.LockoutEnd)
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if !user.EmailConfirmed {
		return nil, ErrEmailNotConfirmed
	}

	if err := s.guard.ResetOnSuccess(ctx, user); err != nil {
		return nil, err
	}

	access, expiresAt, err := s.tokens.CreateAccessToken(user.ID, user.Email, user.Roles())
	if err != nil {
		return nil, err
	}
	rt, err := s.ledger.Generate(ctx, user.ID, ip)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: rt.Token,
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshToken rotates the presented token. The access token is minted inside
// the rotation so a signing failure leaves the old token usable.
func (s *Service) RefreshToken(ctx context.Context, callerID int64, raw, ip string) (*LoginResult, error) {
	current, err := s.ledger.Lookup(ctx, raw)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, refresh.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, current.UserID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, refresh.ErrUnauthorized
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var (
		access    string
		expiresAt time.Time
	)
	rot, err := s.ledger.Rotate(ctx, raw, callerID, ip, func(_ context.Context, _ *domain.RefreshToken) error {
		var err error
		access, expiresAt, err = s.tokens.CreateAccessToken(user.ID, user.Email, user.Roles())
		return err
	})
	if err != nil {
		if refresh.IsRotationFailure(err) {
			s.log.InfoContext(ctx, "refresh rejected", "caller_id", callerID, "ip", ip, "reason", err.Error())
		}
		return nil, err
	}

	return &LoginResult{
		User:         user,
		AccessToken:  access,
		RefreshToken: rot.Next.Token,
		ExpiresAt:    expiresAt,
	}, nil
}

// RevokeToken ends one session owned by the caller.
func (s *Service) RevokeToken(ctx context.Context, callerID int64, raw, ip string) error {
	t, err := s.ledger.Lookup(ctx, raw)
	if err != nil {
		return err
	}
	if t == nil || t.UserID != callerID {
		return ErrTokenNotOwned
	}
	return s.ledger.Revoke(ctx, raw, ip, nil)
}

func (s *Service) LogoutAll(ctx context.Context, callerID int64, ip string) (int64, error) {
	n, err := s.ledger.RevokeAllForUser(ctx, callerID, ip)
	if err != nil {
		return 0, err
	}
	s.log.InfoContext(ctx, "all sessions revoked", "user_id", callerID, "count", n)
	return n, nil
}

// ChangePassword replaces the password and revokes every refresh token of
// the user.
func (s *Service) ChangePassword(ctx context.Context, callerID int64, req ChangePasswordRequest, ip string) error {
	user, err := s.users.GetByID(ctx, callerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user: %w", err)
	}

	if !s.hasher.Verify(user.PasswordHash, req.CurrentPassword) {
		return ErrChangePassword
	}
	if err := checkPolicy(req.NewPassword); err != nil {
		return err
	}

	return s.setPassword(ctx, user, req.NewPassword, ip)
}

// ForgotPassword never tells the caller whether the address is known.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	if err := s.vault.CheckThrottle(ctx, user.Email); err != nil {
		if domain.KindOf(err) == domain.KindRateLimited {
			s.log.InfoContext(ctx, "password reset throttled", "user_id", user.ID)
			return nil
		}
		return err
	}

	code, err := s.vault.GenerateOtp(ctx, user.Email, domain.OtpPurposePasswordReset, s.otpTTL)
	if err != nil {
		return err
	}
	if err := s.mailer.SendPasswordResetCode(ctx, user.Email, code); err != nil {
		s.log.ErrorContext(ctx, "send password reset code", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword checks the policy before the code so a rejected password
// does not burn it.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest, ip string) error {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrInvalidResetRequest
		}
		return fmt.Errorf("load user: %w", err)
	}

	if err := checkPolicy(req.NewPassword); err != nil {
		return err
	}

	ok, err := s.vault.ValidateOtp(ctx, user.Email, req.Code, domain.OtpPurposePasswordReset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidResetRequest
	}

	return s.setPassword(ctx, user, req.NewPassword, ip)
}

func (s *Service) setPassword(ctx context.Context, user *domain.User, plain, ip string) error {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := s.ledger.RevokeAllForUser(ctx, user.ID, ip)
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "password changed", "user_id", user.ID, "revoked_sessions", n)
	return nil
}

type Profile struct {
	User           *domain.User
	ActiveSessions int
}

func (s *Service) GetProfile(ctx context.Context, callerID int64) (*Profile, error) {
	user, err := s.users.GetByID(ctx, callerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	active, err := s.ledger.ActiveForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &Profile{User: user, ActiveSessions: len(active)}, nil
}

func checkPolicy(plain string) error {
	problems := password.Validate(plain)
	if len(problems) == 0 {
		return nil
	}
	details := make([]string, 0, len(problems))
	for _, p := range problems {
		details = append(details, p.Error())
	}
	return ErrWeakPassword.WithDetails(details...).Wrap(errors.Join(problems...))
}
