package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrInvalidClaims = errors.New("invalid claims")
)

type Config struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Service mints and checks HS256 access tokens. It holds no per-token state.
type Service struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwtlib.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidClaims
	}
	return id, nil
}

func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func New(cfg Config) *Service {
	return &Service{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock swaps the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Service) TTL() time.Duration { return s.ttl }

func (s *Service) CreateAccessToken(userID int64, email string, roles []string) (string, time.Time, error) {
	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	claims := Claims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    s.issuer,
			Audience:  jwtlib.ClaimStrings{s.audience},
			IssuedAt:  jwtlib.NewNumericDate(issuedAt),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, issuer, audience and expiry with no leeway.
func (s *Service) ValidateToken(tokenStr string) (*Claims, error) {
	return s.parse(tokenStr, false)
}

// ValidateTokenAllowExpired is ValidateToken without the expiry check. It only
// proves who the caller is, never that the session is live.
func (s *Service) ValidateTokenAllowExpired(tokenStr string) (*Claims, error) {
	return s.parse(tokenStr, true)
}

func (s *Service) parse(tokenStr string, allowExpired bool) (*Claims, error) {
	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(s.issuer),
		jwtlib.WithAudience(s.audience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(0),
		jwtlib.WithTimeFunc(s.now),
	}

	claims := &Claims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if !(allowExpired && errors.Is(err, jwtlib.ErrTokenExpired) && onlyExpired(err)) {
			return nil, ErrInvalidToken
		}
	} else if !token.Valid {
		return nil, ErrInvalidToken
	}

	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// onlyExpired reports whether expiry is the sole validation failure. The
// library joins claim errors (all under ErrTokenInvalidClaims), so every
// other sentinel must be absent.
func onlyExpired(err error) bool {
	for _, other := range []error{
		jwtlib.ErrTokenMalformed,
		jwtlib.ErrTokenUnverifiable,
		jwtlib.ErrTokenSignatureInvalid,
		jwtlib.ErrTokenInvalidIssuer,
		jwtlib.ErrTokenInvalidAudience,
		jwtlib.ErrTokenNotValidYet,
		jwtlib.ErrTokenUsedBeforeIssued,
		jwtlib.ErrTokenRequiredClaimMissing,
	} {
		if errors.Is(err, other) {
			return false
		}
	}
	return true
}
