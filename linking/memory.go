package linking

import (
	"context"
	"sync"
	"time"
)

// MemoryPendingLinkStore keeps pending links in memory. Used by tests and by
// local development runs without Postgres.
type MemoryPendingLinkStore struct {
	mu    sync.Mutex
	links map[string]PendingLink
}

func NewMemoryPendingLinkStore() *MemoryPendingLinkStore {
	return &MemoryPendingLinkStore{links: make(map[string]PendingLink)}
}

func (s *MemoryPendingLinkStore) Create(_ context.Context, link PendingLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Code]; ok {
		return ErrCodeExists
	}
	s.links[link.Code] = link
	return nil
}

// Claim deletes and returns the record under one lock so a second claim of
// the same code always misses. Expired records are dropped on access.
func (s *MemoryPendingLinkStore) Claim(_ context.Context, code string, now time.Time) (PendingLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[code]
	if !ok {
		return PendingLink{}, ErrCodeNotFound
	}
	delete(s.links, code)
	if !link.ExpiresAt.After(now) {
		return PendingLink{}, ErrCodeNotFound
	}
	return link, nil
}

func (s *MemoryPendingLinkStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for code, link := range s.links {
		if !link.ExpiresAt.After(now) {
			delete(s.links, code)
			n++
		}
	}
	return n, nil
}

func (s *MemoryPendingLinkStore) CountActive(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, link := range s.links {
		if link.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

// MemoryLinkedUserStore keeps chat-identity bindings in memory.
type MemoryLinkedUserStore struct {
	mu    sync.RWMutex
	users map[string]LinkedUser
}

func NewMemoryLinkedUserStore() *MemoryLinkedUserStore {
	return &MemoryLinkedUserStore{users: make(map[string]LinkedUser)}
}

func (s *MemoryLinkedUserStore) Upsert(_ context.Context, user LinkedUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ChatID] = user
	return nil
}

func (s *MemoryLinkedUserStore) Get(_ context.Context, chatID string) (LinkedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[chatID]
	if !ok {
		return LinkedUser{}, ErrNotLinked
	}
	return user, nil
}
