package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace/internal/database"
	"marketplace/internal/domain"
	"marketplace/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func setupLedger(t *testing.T) (*Ledger, *gorm.DB, *testClock) {
	t.Helper()

	db, err := database.Connect(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	users := repository.NewUserRepository(db)
	for _, email := range []string{"owner@example.com", "other@example.com"} {
		require.NoError(t, users.Create(context.Background(), &domain.User{
			Email:        email,
			PasswordHash: "x",
			Role:         domain.RoleCustomer,
		}))
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(repository.NewRefreshTokenRepository(db), "pepper", DefaultTTL, WithClock(clock.Now))
	return l, db, clock
}

func countTokens(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&domain.RefreshToken{}).Count(&n).Error)
	return n
}

func TestGenerate_StoresHashOnly(t *testing.T) {
	l, db, clock := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "10.0.0.1")
	require.NoError(t, err)

	assert.NotEmpty(t, tok.Token)
	assert.Len(t, tok.Token, 86) // 64 bytes, unpadded base64url
	assert.Equal(t, l.Hash(tok.Token), tok.TokenHash)
	assert.NotEqual(t, tok.Token, tok.TokenHash)
	assert.NotEmpty(t, tok.FamilyID)
	assert.Equal(t, clock.Now().Add(DefaultTTL), tok.ExpiresAt)

	var stored domain.RefreshToken
	require.NoError(t, db.First(&stored, tok.ID).Error)
	assert.Equal(t, tok.TokenHash, stored.TokenHash)
	assert.Empty(t, stored.Token)

	other, err := l.Generate(ctx, 1, "10.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, tok.Token, other.Token)
	assert.NotEqual(t, tok.FamilyID, other.FamilyID)
}

func TestGenerate_RandomFailure(t *testing.T) {
	l, db, _ := setupLedger(t)
	l.random = failingReader{}

	_, err := l.Generate(context.Background(), 1, "ip")
	require.Error(t, err)
	assert.Zero(t, countTokens(t, db))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestLookup(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	found, err := l.Lookup(ctx, tok.Token)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tok.ID, found.ID)

	missing, err := l.Lookup(ctx, "not-a-token")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := l.Lookup(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestRevoke(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	require.NoError(t, l.Revoke(ctx, tok.Token, "10.0.0.2", nil))

	found, err := l.Lookup(ctx, tok.Token)
	require.NoError(t, err)
	require.NotNil(t, found.RevokedAt)
	require.NotNil(t, found.RevokedByIP)
	assert.Equal(t, "10.0.0.2", *found.RevokedByIP)
	assert.Nil(t, found.ReplacedByToken)

	err = l.Revoke(ctx, tok.Token, "ip", nil)
	assert.ErrorIs(t, err, ErrAlreadyRevoked)

	err = l.Revoke(ctx, "unknown", "ip", nil)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke_Expired(t *testing.T) {
	l, _, clock := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	assert.ErrorIs(t, l.Revoke(ctx, tok.Token, "ip", nil), ErrAlreadyRevoked)
}

func TestRevokeAllForUser(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Generate(ctx, 1, "ip")
		require.NoError(t, err)
	}
	foreign, err := l.Generate(ctx, 2, "ip")
	require.NoError(t, err)

	n, err := l.RevokeAllForUser(ctx, 1, "ip")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	active, err := l.ActiveForUser(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, active)

	active, err = l.ActiveForUser(ctx, 2)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, foreign.ID, active[0].ID)

	n, err = l.RevokeAllForUser(ctx, 1, "ip")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanup_DeletesOnlyExpired(t *testing.T) {
	l, db, clock := setupLedger(t)
	ctx := context.Background()

	_, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	fresh, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	clock.Advance(DefaultTTL - 24*time.Hour)
	n, err := l.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(1), countTokens(t, db))

	found, err := l.Lookup(ctx, fresh.Token)
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestRotate_Success(t *testing.T) {
	l, db, _ := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip-a")
	require.NoError(t, err)

	var finished *domain.RefreshToken
	rot, err := l.Rotate(ctx, tok.Token, 1, "ip-b", func(_ context.Context, next *domain.RefreshToken) error {
		finished = next
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, rot)

	assert.Same(t, rot.Next, finished)
	assert.NotEqual(t, tok.Token, rot.Next.Token)
	assert.Equal(t, tok.FamilyID, rot.Next.FamilyID)
	assert.Equal(t, "ip-b", rot.Next.CreatedByIP)

	old, err := l.Lookup(ctx, tok.Token)
	require.NoError(t, err)
	require.NotNil(t, old.RevokedAt)
	require.NotNil(t, old.ReplacedByToken)
	assert.Equal(t, rot.Next.TokenHash, *old.ReplacedByToken)
	assert.Equal(t, "ip-b", *old.RevokedByIP)

	next, err := l.Lookup(ctx, rot.Next.Token)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Nil(t, next.RevokedAt)

	assert.Equal(t, int64(2), countTokens(t, db))
}

func TestRotate_FinishErrorRollsBack(t *testing.T) {
	l, db, _ := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	boom := errors.New("signing failed")
	rot, err := l.Rotate(ctx, tok.Token, 1, "ip", func(context.Context, *domain.RefreshToken) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Nil(t, rot)

	old, err := l.Lookup(ctx, tok.Token)
	require.NoError(t, err)
	assert.Nil(t, old.RevokedAt)
	assert.Nil(t, old.ReplacedByToken)
	assert.Equal(t, int64(1), countTokens(t, db))

	// the token is still usable after the failed attempt
	_, err = l.Rotate(ctx, tok.Token, 1, "ip", nil)
	require.NoError(t, err)
}

func TestRotate_ForeignCallerLeavesTokenUntouched(t *testing.T) {
	l, db, _ := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	_, err = l.Rotate(ctx, tok.Token, 2, "ip", nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsRotationFailure(err))

	old, err := l.Lookup(ctx, tok.Token)
	require.NoError(t, err)
	assert.True(t, old.IsActive(old.CreatedAt))
	assert.Equal(t, int64(1), countTokens(t, db))
}

func TestRotate_UnknownAndExpired(t *testing.T) {
	l, _, clock := setupLedger(t)
	ctx := context.Background()

	_, err := l.Rotate(ctx, "nope", 1, "ip", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)
	clock.Advance(DefaultTTL + time.Second)

	_, err = l.Rotate(ctx, tok.Token, 1, "ip", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRotate_PlainRevokedIsNotReplay(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	a, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)
	b, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)
	require.NoError(t, l.Revoke(ctx, a.Token, "ip", nil))

	_, err = l.Rotate(ctx, a.Token, 1, "ip", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrTokenReused)

	other, err := l.Lookup(ctx, b.Token)
	require.NoError(t, err)
	assert.Nil(t, other.RevokedAt)
}

func TestRotate_ReplayRevokesFamily(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	r0, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)
	unrelated, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	rot1, err := l.Rotate(ctx, r0.Token, 1, "ip", nil)
	require.NoError(t, err)
	rot2, err := l.Rotate(ctx, rot1.Next.Token, 1, "ip", nil)
	require.NoError(t, err)

	_, err = l.Rotate(ctx, r0.Token, 1, "attacker", nil)
	require.ErrorIs(t, err, ErrTokenReused)
	assert.True(t, IsRotationFailure(err))

	head, err := l.Lookup(ctx, rot2.Next.Token)
	require.NoError(t, err)
	require.NotNil(t, head.RevokedAt)
	assert.Equal(t, "attacker", *head.RevokedByIP)

	// other sessions of the same user survive
	survivor, err := l.Lookup(ctx, unrelated.Token)
	require.NoError(t, err)
	assert.Nil(t, survivor.RevokedAt)

	_, err = l.Rotate(ctx, rot2.Next.Token, 1, "ip", nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRotate_ConcurrentSameTokenOneWins(t *testing.T) {
	l, db, _ := setupLedger(t)
	ctx := context.Background()

	tok, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Rotate(ctx, tok.Token, 1, "ip", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			if IsRotationFailure(err) {
				failures++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, failures)

	var successors int64
	require.NoError(t, db.Model(&domain.RefreshToken{}).
		Where("family_id = ? AND id <> ?", tok.FamilyID, tok.ID).
		Count(&successors).Error)
	assert.Equal(t, int64(1), successors)
}

func TestRotate_DifferentTokensSameUserIndependent(t *testing.T) {
	l, _, _ := setupLedger(t)
	ctx := context.Background()

	a, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)
	b, err := l.Generate(ctx, 1, "ip")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, raw := range []string{a.Token, b.Token} {
		wg.Add(1)
		go func(i int, raw string) {
			defer wg.Done()
			_, errs[i] = l.Rotate(ctx, raw, 1, "ip", nil)
		}(i, raw)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}
