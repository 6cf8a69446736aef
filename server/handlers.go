// Package server exposes the HTTP surface: the Last.fm connect flow, the
// operator OAuth flow for the bot's chat credential, health probes, and
// metrics. Correlation IDs are injected into request contexts for consistent
// logging.
package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/mixtape-labs/fmbot/config"
	"github.com/mixtape-labs/fmbot/lastfm"
	"github.com/mixtape-labs/fmbot/linking"
	"github.com/mixtape-labs/fmbot/twitchauth"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx        context.Context
	db         *sql.DB
	cfg        *config.Config
	links      *linking.Service
	lastfm     *lastfm.Client
	twitch     *twitchauth.Service
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, dbx *sql.DB, cfg *config.Config, links *linking.Service, lfm *lastfm.Client, twitch *twitchauth.Service) *Handlers {
	return &Handlers{
		ctx:        ctx,
		db:         dbx,
		cfg:        cfg,
		links:      links,
		lastfm:     lfm,
		twitch:     twitch,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// Refusing to add past the cap fails the OAuth flow, which beats
	// unbounded memory growth.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}

	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes a state, returning false when the
// state is unknown or expired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok || time.Now().After(exp) {
		return false
	}
	delete(h.stateStore, state)
	return true
}
