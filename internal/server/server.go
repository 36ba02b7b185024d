// Package server wires the account services into a gin engine.
package server

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/mailer"
	"marketplace/internal/middleware"
	"marketplace/internal/modules/auth"
	"marketplace/internal/modules/lockout"
	"marketplace/internal/modules/maintenance"
	"marketplace/internal/modules/otp"
	"marketplace/internal/modules/refresh"
	jwtsvc "marketplace/internal/pkg/jwt"
	"marketplace/internal/pkg/password"
	"marketplace/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	healthTimeout     = 2 * time.Second
	limiterSweepEvery = 5 * time.Minute
)

type Server struct {
	cfg     *config.Config
	db      *gorm.DB
	redis   *redis.Client
	log     *slog.Logger
	router  *gin.Engine
	tokens  *jwtsvc.Service
	sweeper *maintenance.Sweeper
	limiter *middleware.IPRateLimiter
}

type Option func(*options)

type options struct {
	mailer mailer.Mailer
}

// WithMailer replaces the console mailer.
func WithMailer(m mailer.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// New builds every component from cfg. rdb may be nil, in which case OTP
// throttling is answered from the database.
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, log *slog.Logger, opts ...Option) (*Server, error) {
	o := options{mailer: mailer.NewConsoleMailer(log, !cfg.IsProduction())}
	for _, opt := range opts {
		opt(&o)
	}

	users := repository.NewUserRepository(db)
	otpRepo := repository.NewEmailOtpRepository(db)

	var throttle otp.Throttle
	if rdb != nil {
		throttle = otp.NewRedisThrottle(rdb, cfg.OtpResendCooldown, cfg.OtpHourlyCap)
	} else {
		throttle = otp.NewDBThrottle(otpRepo, cfg.OtpResendCooldown, cfg.OtpHourlyCap)
	}
	vault, err := otp.NewVault(otpRepo, throttle, rand.Reader, otp.WithLogger(log))
	if err != nil {
		return nil, err
	}

	ledger := refresh.NewLedger(
		repository.NewRefreshTokenRepository(db),
		cfg.RefreshTokenPepper,
		cfg.RefreshTTL,
		refresh.WithLogger(log),
	)
	tokens := jwtsvc.New(jwtsvc.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTAccessTTL,
	})

	authService := auth.NewService(auth.Deps{
		Users:  users,
		Guard:  lockout.NewGuard(users, cfg.LockoutThreshold, cfg.LockoutWindow),
		Ledger: ledger,
		Vault:  vault,
		Tokens: tokens,
		Hasher: password.NewHasher(cfg.BcryptCost),
		Mailer: o.mailer,
		OtpTTL: cfg.OtpTTL,
		Log:    log,
	})

	s := &Server{
		cfg:     cfg,
		db:      db,
		redis:   rdb,
		log:     log,
		tokens:  tokens,
		sweeper: maintenance.NewSweeper(ledger, vault, log),
		limiter: middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.router = s.routes(auth.NewHandler(authService))
	return s, nil
}

func (s *Server) routes(authHandler *auth.Handler) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.RequestLogger(s.log),
		middleware.CORS(s.cfg.CORSAllowedOrigins),
	)

	r.GET("/healthz", s.health)

	v1 := r.Group("/api/v1")

	account := v1.Group("/account", s.limiter.Middleware())
	authHandler.RegisterPublicRoutes(account)
	authHandler.RegisterRefreshRoute(account.Group("", middleware.JWTAuthAllowExpired(s.tokens)))
	authHandler.RegisterProtectedRoutes(account.Group("", middleware.JWTAuth(s.tokens)))

	admin := v1.Group("/admin", middleware.JWTAuth(s.tokens), middleware.AdminOnly())
	maintenance.NewHandler(s.sweeper).RegisterRoutes(admin)

	return r
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := gin.H{"database": "ok"}
	healthy := true
	if err := database.Ping(ctx, s.db); err != nil {
		s.log.WarnContext(ctx, "database ping failed", "error", err)
		status["database"] = "unavailable"
		healthy = false
	}
	if s.redis != nil {
		status["redis"] = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.log.WarnContext(ctx, "redis ping failed", "error", err)
			status["redis"] = "unavailable"
			healthy = false
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "data": status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": status})
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Sweeper() *maintenance.Sweeper { return s.sweeper }

// RunBackground starts the periodic cleanup jobs. They stop when ctx is done.
func (s *Server) RunBackground(ctx context.Context) {
	go s.sweeper.Schedule(ctx, s.cfg.CleanupInterval)
	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.limiter.Sweep(); n > 0 {
					s.log.DebugContext(ctx, "rate limiter buckets dropped", "count", n)
				}
			}
		}
	}()
}
