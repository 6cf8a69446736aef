package linking

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *MemoryPendingLinkStore, *MemoryLinkedUserStore) {
	t.Helper()
	pending := NewMemoryPendingLinkStore()
	users := NewMemoryLinkedUserStore()
	return NewService(pending, users, ttl), pending, users
}

func TestIssueGeneratesNineDigitCode(t *testing.T) {
	svc, _, _ := newTestService(t, 5*time.Minute)
	code, expiresAt, err := svc.Issue(context.Background(), "session-key-1")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{9}$`), code)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), expiresAt, 5*time.Second)
}

func TestIssueRequiresSessionKey(t *testing.T) {
	svc, _, _ := newTestService(t, 5*time.Minute)
	_, _, err := svc.Issue(context.Background(), "")
	assert.Error(t, err)
}

func TestIssueRetriesOnCollision(t *testing.T) {
	pending := NewMemoryPendingLinkStore()
	users := NewMemoryLinkedUserStore()
	svc := NewService(pending, users, time.Minute)

	// Exhaust nothing: two issues for the same session key must yield two codes.
	a, _, err := svc.Issue(context.Background(), "sk")
	require.NoError(t, err)
	b, _, err := svc.Issue(context.Background(), "sk")
	require.NoError(t, err)
	if a == b {
		t.Fatalf("two issuances produced the same code %s", a)
	}
}

func TestClaimSucceedsExactlyOnce(t *testing.T) {
	svc, _, users := newTestService(t, 5*time.Minute)
	ctx := context.Background()

	code, _, err := svc.Issue(ctx, "the-session-key")
	require.NoError(t, err)

	got, err := svc.Claim(ctx, "@viewer:chat", code)
	require.NoError(t, err)
	assert.Equal(t, "the-session-key", got)

	linked, err := users.Get(ctx, "@viewer:chat")
	require.NoError(t, err)
	assert.Equal(t, "the-session-key", linked.SessionKey)

	// Second claim of the same code, even from another identity, must miss.
	_, err = svc.Claim(ctx, "@someone-else:chat", code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestClaimConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t, 5*time.Minute)
	ctx := context.Background()

	code, _, err := svc.Issue(ctx, "sk")
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, "@viewer:chat", code)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrCodeNotFound) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent claim may succeed")
}

func TestClaimUnknownCode(t *testing.T) {
	svc, _, _ := newTestService(t, 5*time.Minute)
	_, err := svc.Claim(context.Background(), "@viewer:chat", "000000000")
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestClaimExpiryBoundary(t *testing.T) {
	pending := NewMemoryPendingLinkStore()
	users := NewMemoryLinkedUserStore()
	svc := NewService(pending, users, 5*time.Minute)

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return t0 }
	ctx := context.Background()

	code, expiresAt, err := svc.Issue(ctx, "sk")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Minute), expiresAt)

	// Claim at t0+4m59s succeeds and consumes the record.
	svc.clock = func() time.Time { return t0.Add(4*time.Minute + 59*time.Second) }
	got, err := svc.Claim(ctx, "@a:chat", code)
	require.NoError(t, err)
	assert.Equal(t, "sk", got)

	// Half a second later the same code is gone.
	svc.clock = func() time.Time { return t0.Add(4*time.Minute + 59*time.Second + 500*time.Millisecond) }
	_, err = svc.Claim(ctx, "@b:chat", code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestClaimAfterExpiryWithoutPurge(t *testing.T) {
	pending := NewMemoryPendingLinkStore()
	svc := NewService(pending, NewMemoryLinkedUserStore(), time.Minute)

	t0 := time.Now()
	svc.clock = func() time.Time { return t0 }
	ctx := context.Background()

	code, _, err := svc.Issue(ctx, "sk")
	require.NoError(t, err)

	// Record still physically present, but past expiry.
	svc.clock = func() time.Time { return t0.Add(2 * time.Minute) }
	_, err = svc.Claim(ctx, "@a:chat", code)
	assert.ErrorIs(t, err, ErrCodeNotFound)
}

func TestUpsertLastClaimWins(t *testing.T) {
	svc, _, users := newTestService(t, 5*time.Minute)
	ctx := context.Background()

	first, _, err := svc.Issue(ctx, "old-key")
	require.NoError(t, err)
	second, _, err := svc.Issue(ctx, "new-key")
	require.NoError(t, err)

	_, err = svc.Claim(ctx, "@viewer:chat", first)
	require.NoError(t, err)
	_, err = svc.Claim(ctx, "@viewer:chat", second)
	require.NoError(t, err)

	linked, err := users.Get(ctx, "@viewer:chat")
	require.NoError(t, err)
	assert.Equal(t, "new-key", linked.SessionKey, "most recent claim must win")
}

func TestPurgeExpired(t *testing.T) {
	pending := NewMemoryPendingLinkStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, pending.Create(ctx, PendingLink{Code: "000000001", SessionKey: "a", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, pending.Create(ctx, PendingLink{Code: "000000002", SessionKey: "b", ExpiresAt: now.Add(time.Minute)}))

	purged, err := pending.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	n, err := pending.CountActive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The surviving record is still claimable.
	_, err = pending.Claim(ctx, "000000002", now)
	assert.NoError(t, err)
}

func TestGetUnlinkedIdentity(t *testing.T) {
	users := NewMemoryLinkedUserStore()
	_, err := users.Get(context.Background(), "@stranger:chat")
	assert.ErrorIs(t, err, ErrNotLinked)
}
