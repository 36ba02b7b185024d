// Package maintenance purges expired refresh tokens and one-time codes, either
// on a schedule or on demand from an admin.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

type Result struct {
	RefreshTokens int64         `json:"refreshTokens"`
	Otps          int64         `json:"otps"`
	Took          time.Duration `json:"took"`
}

type Sweeper struct {
	tokens Cleaner
	otps   Cleaner
	log    *slog.Logger
}

func NewSweeper(tokens, otps Cleaner, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{tokens: tokens, otps: otps, log: log.With("component", "sweeper")}
}

// Run deletes expired rows from both stores. A failure in the first store
// does not stop the second.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	var firstErr error
	n, err := s.tokens.Cleanup(ctx)
	if err != nil {
		firstErr = fmt.Errorf("sweep refresh tokens: %w", err)
	}
	res.RefreshTokens = n

	n, err = s.otps.Cleanup(ctx)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sweep otps: %w", err)
	}
	res.Otps = n
	res.Took = time.Since(start)

	if firstErr != nil {
		s.log.ErrorContext(ctx, "sweep failed", "error", firstErr)
		return res, firstErr
	}
	s.log.InfoContext(ctx, "sweep completed",
		"refresh_tokens", res.RefreshTokens,
		"otps", res.Otps,
		"took", res.Took,
	)
	return res, nil
}

// Schedule runs a sweep every interval until ctx is done. Errors are logged
// and the loop keeps going.
func (s *Sweeper) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Run(ctx)
		}
	}
}
