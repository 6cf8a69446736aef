// Package linking implements the account-linking handshake: a short-lived
// 9-digit code binds a Last.fm session key (obtained out-of-band through the
// web callback) to a chat identity. The pending code is staged in a
// PendingLinkStore and consumed exactly once on claim; the resulting binding
// lives in a LinkedUserStore with last-claim-wins upsert semantics.
package linking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mixtape-labs/fmbot/telemetry"
)

// PendingLink is a staged, not-yet-claimed session key keyed by its code.
type PendingLink struct {
	Code       string
	SessionKey string
	ExpiresAt  time.Time
}

// LinkedUser binds a chat identity to a session key. At most one session key
// per chat identity; nothing prevents one session key backing several
// identities.
type LinkedUser struct {
	ChatID     string
	SessionKey string
}

var (
	// ErrCodeNotFound covers both "never issued" and "expired"; callers must
	// not be able to distinguish the two.
	ErrCodeNotFound = errors.New("link code not found")
	// ErrCodeExists signals a code collision on insert.
	ErrCodeExists = errors.New("link code already issued")
	// ErrNotLinked signals a chat identity with no stored session key.
	ErrNotLinked = errors.New("chat identity not linked")
)

// PendingLinkStore stages issued codes. Claim must execute its lookup-and-delete
// atomically: two concurrent claims of the same valid code must not both succeed.
type PendingLinkStore interface {
	Create(ctx context.Context, link PendingLink) error
	Claim(ctx context.Context, code string, now time.Time) (PendingLink, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context, now time.Time) (int, error)
}

// LinkedUserStore is the durable chat-identity -> session-key mapping.
type LinkedUserStore interface {
	Upsert(ctx context.Context, user LinkedUser) error
	Get(ctx context.Context, chatID string) (LinkedUser, error)
}

const (
	codeSpace        = 1_000_000_000 // 9 decimal digits
	maxIssueAttempts = 5
)

// Service orchestrates issuance and claim of pending links.
type Service struct {
	pending PendingLinkStore
	users   LinkedUserStore
	ttl     time.Duration
	clock   func() time.Time
}

// NewService wires the two stores. ttl bounds the lifetime of issued codes.
func NewService(pending PendingLinkStore, users LinkedUserStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{pending: pending, users: users, ttl: ttl, clock: time.Now}
}

// Issue generates a fresh 9-digit code for the session key and stages it with
// the configured ttl. Codes are uniform random; on the (unlikely) collision
// with a still-stored code the insert is retried with a new code.
func (s *Service) Issue(ctx context.Context, sessionKey string) (string, time.Time, error) {
	if sessionKey == "" {
		return "", time.Time{}, errors.New("session key required")
	}
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("generate link code: %w", err)
		}
		expiresAt := s.clock().Add(s.ttl)
		err = s.pending.Create(ctx, PendingLink{Code: code, SessionKey: sessionKey, ExpiresAt: expiresAt})
		if errors.Is(err, ErrCodeExists) {
			continue
		}
		if err != nil {
			return "", time.Time{}, err
		}
		inc(telemetry.LinksIssued)
		return code, expiresAt, nil
	}
	return "", time.Time{}, fmt.Errorf("could not allocate a unique link code after %d attempts", maxIssueAttempts)
}

// Claim consumes the code and binds its session key to chatID. The code is
// gone after a successful claim; a second claim returns ErrCodeNotFound.
// Claim failures leave the stores untouched and are not retried here; the
// user restarts the flow from the web authorization step.
func (s *Service) Claim(ctx context.Context, chatID, code string) (string, error) {
	if chatID == "" {
		return "", errors.New("chat identity required")
	}
	if code == "" {
		return "", ErrCodeNotFound
	}
	link, err := s.pending.Claim(ctx, code, s.clock())
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			inc(telemetry.LinkClaimsRejected)
		}
		return "", err
	}
	if err := s.users.Upsert(ctx, LinkedUser{ChatID: chatID, SessionKey: link.SessionKey}); err != nil {
		return "", fmt.Errorf("store link for %s: %w", chatID, err)
	}
	inc(telemetry.LinksClaimed)
	return link.SessionKey, nil
}

// TTL returns the configured code lifetime.
func (s *Service) TTL() time.Duration { return s.ttl }

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%09d", n.Int64()), nil
}

// inc tolerates uninitialized metrics so the package works without telemetry.Init.
func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
