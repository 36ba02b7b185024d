// Package lockout implements the brute-force policy layered on the
// credential store's failure counter and lockout timestamp.
package lockout

import (
	"context"
	"fmt"
	"time"

	"marketplace/internal/domain"
)

const (
	DefaultThreshold = 5
	DefaultWindow    = 15 * time.Minute
)

type Outcome int

const (
	Continue Outcome = iota
	LockedOut
)

// CounterStore is the slice of the credential store the guard writes to.
type CounterStore interface {
	IncrementAccessFailure(ctx context.Context, id int64) (int, error)
	SetAccessFailure(ctx context.Context, id int64, failedCount int, lockoutEnd *time.Time) error
	ResetAccessFailure(ctx context.Context, id int64) error
}

type Guard struct {
	store     CounterStore
	threshold int
	window    time.Duration
	now       func() time.Time
}

func NewGuard(store CounterStore, threshold int, window time.Duration) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		store:     store,
		threshold: threshold,
		window:    window,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (g *Guard) WithClock(now func() time.Time) *Guard {
	cp := *g
	cp.now = now
	return &cp
}

func (g *Guard) IsLockedOut(u *domain.User) bool {
	return u.IsLockedOut(g.now())
}

// CheckAndRecordFailure counts one failed password check against the stored
// counter. Reaching the threshold starts a lockout window and resets the
// counter. u is updated in place to mirror what was written.
func (g *Guard) CheckAndRecordFailure(ctx context.Context, u *domain.User) (Outcome, error) {
	failed, err := g.store.IncrementAccessFailure(ctx, u.ID)
	if err != nil {
		return Continue, fmt.Errorf("record access failure: %w", err)
	}
	if failed < g.threshold {
		u.FailedAccessCount = failed
		return Continue, nil
	}

	end := g.now().Add(g.window)
	if err := g.store.SetAccessFailure(ctx, u.ID, 0, &end); err != nil {
		return Continue, fmt.Errorf("start lockout: %w", err)
	}
	u.FailedAccessCount = 0
	u.LockoutEnd = &end
	return LockedOut, nil
}

// ResetOnSuccess zeroes the counter. An elapsed lockout timestamp is left in
// place; it no longer blocks anything.
func (g *Guard) ResetOnSuccess(ctx context.Context, u *domain.User) error {
	if u.FailedAccessCount == 0 {
		return nil
	}
	if err := g.store.ResetAccessFailure(ctx, u.ID); err != nil {
		return fmt.Errorf("reset access failures: %w", err)
	}
	u.FailedAccessCount = 0
	return nil
}
