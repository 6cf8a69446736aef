package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mixtape-labs/fmbot/config"
	"github.com/mixtape-labs/fmbot/lastfm"
	"github.com/mixtape-labs/fmbot/linking"
	"github.com/mixtape-labs/fmbot/testutil"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Minimal schema so readiness checks pass.
	stmts := []string{
		`CREATE TABLE pending_links (code TEXT PRIMARY KEY, session_key TEXT NOT NULL, encryption_version INTEGER DEFAULT 0, expires_at TIMESTAMP NOT NULL, created_at TIMESTAMP)`,
		`CREATE TABLE linked_users (chat_id TEXT PRIMARY KEY, session_key TEXT NOT NULL, encryption_version INTEGER DEFAULT 0, linked_at TIMESTAMP, updated_at TIMESTAMP)`,
		`CREATE TABLE oauth_tokens (provider TEXT PRIMARY KEY, access_token TEXT, refresh_token TEXT, expires_at TIMESTAMP, scope TEXT, encryption_version INTEGER DEFAULT 0, updated_at TIMESTAMP)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			t.Fatalf("create schema: %v", err)
		}
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type testEnv struct {
	db      *sql.DB
	cfg     *config.Config
	links   *linking.Service
	pending *linking.MemoryPendingLinkStore
	mock    *testutil.MockLastFMServer
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	mock := testutil.NewMockLastFMServer(t)
	pending := linking.NewMemoryPendingLinkStore()
	links := linking.NewService(pending, linking.NewMemoryLinkedUserStore(), 5*time.Minute)
	cfg := &config.Config{
		LastFMAPIKey:       "apikey",
		LastFMSharedSecret: "sharedsecret",
		SelfURL:            "https://bot.example",
		HTTPAddr:           ":0",
	}
	lfm := &lastfm.Client{
		APIKey:       cfg.LastFMAPIKey,
		SharedSecret: cfg.LastFMSharedSecret,
		BaseURL:      mock.URL,
		AuthBaseURL:  "https://www.last.fm/api/auth/",
	}
	handler := NewMux(context.Background(), db, cfg, links, lfm, nil)
	return &testEnv{db: db, cfg: cfg, links: links, pending: pending, mock: mock, handler: handler}
}

func (e *testEnv) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzOK(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}

func TestReadyzReady(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/readyz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ready" {
		t.Fatalf("expected ready, got %q", body["status"])
	}
}

func TestReadyzMissingCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.LastFMAPIKey = ""
	rr := e.do(http.MethodGet, "/readyz")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["failed_check"] != "lastfm_credentials" {
		t.Fatalf("expected lastfm_credentials failure, got %q", body["failed_check"])
	}
}

func TestConnectRedirects(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/connect")
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rr.Code)
	}
	loc := rr.Header().Get("Location")
	if !strings.HasPrefix(loc, "https://www.last.fm/api/auth/") {
		t.Fatalf("unexpected redirect target: %s", loc)
	}
	if !strings.Contains(loc, "api_key=apikey") {
		t.Fatalf("redirect missing api_key: %s", loc)
	}
	if !strings.Contains(loc, "connect%2Fcallback") {
		t.Fatalf("redirect missing callback: %s", loc)
	}
}

func TestConnectUnconfigured(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.LastFMAPIKey = ""
	rr := e.do(http.MethodGet, "/connect")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestConnectCallbackMissingToken(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/connect/callback")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	// No provider call and no pending code on a rejected request.
	if hits := e.mock.Hits.Load(); hits != 0 {
		t.Fatalf("expected no provider calls, got %d", hits)
	}
	n, err := e.pending.CountActive(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no pending links, got %d", n)
	}
}

func TestConnectCallbackIssuesCode(t *testing.T) {
	e := newTestEnv(t)
	e.mock.MockSessionResponse("session-key-1", "alice")

	rr := e.do(http.MethodGet, "/connect/callback?token=tok123")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	if !strings.Contains(body, "my last.fm bot linking code is") {
		t.Fatalf("unexpected body: %s", body)
	}
	re := regexp.MustCompile(`linking code is (\d{9})`)
	m := re.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no 9-digit code in body: %s", body)
	}

	// The issued code must be claimable for the session key we exchanged.
	sessionKey, err := e.links.Claim(context.Background(), "user:alice", m[1])
	if err != nil {
		t.Fatalf("claim issued code: %v", err)
	}
	if sessionKey != "session-key-1" {
		t.Fatalf("claimed wrong session key: %q", sessionKey)
	}
}

func TestConnectCallbackSessionError(t *testing.T) {
	e := newTestEnv(t)
	e.mock.MockErrorResponse("auth.getSession", 4, "Invalid authentication token")

	rr := e.do(http.MethodGet, "/connect/callback?token=badtok")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	n, err := e.pending.CountActive(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no pending links after failed exchange, got %d", n)
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/healthz")
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("expected generated correlation id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr = httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Fatalf("expected correlation id passthrough, got %q", got)
	}
}

func TestTwitchOAuthStartUnconfigured(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/auth/twitch/start")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestTwitchOAuthCallbackMissingParams(t *testing.T) {
	e := newTestEnv(t)
	rr := e.do(http.MethodGet, "/auth/twitch/callback")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Start(ctx, e.db, e.cfg, e.links, &lastfm.Client{APIKey: "k", SharedSecret: "s"}, nil)
	}()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
