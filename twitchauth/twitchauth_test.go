package twitchauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mixtape-labs/fmbot/config"
	"github.com/mixtape-labs/fmbot/db"
	"github.com/mixtape-labs/fmbot/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		TwitchClientID:     "client123",
		TwitchClientSecret: "secret456",
		TwitchRedirectURI:  "https://bot.example/auth/twitch/callback",
		TwitchScopes:       "chat:read chat:edit",
	}
}

// setupDB clears the provider row so tests don't observe each other's tokens.
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	dbx := testutil.SetupTestDB(t)
	if _, err := dbx.Exec(`DELETE FROM oauth_tokens WHERE provider=$1`, Provider); err != nil {
		t.Fatalf("failed to clear oauth_tokens: %v", err)
	}
	return dbx
}

// tokenEndpoint returns a test server that answers the OAuth2 token endpoint
// with a fixed grant.
func tokenEndpoint(t *testing.T, access, refresh string, expiresIn int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"token_type":    "bearer",
			"expires_in":    expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthCodeURL(t *testing.T) {
	svc := New(testConfig(), nil, nil)
	u := svc.AuthCodeURL("state-abc")
	assert.True(t, strings.HasPrefix(u, "https://id.twitch.tv/oauth2/authorize"))
	assert.Contains(t, u, "client_id=client123")
	assert.Contains(t, u, "state=state-abc")
	assert.Contains(t, u, "chat%3Aread")
}

func TestConfigured(t *testing.T) {
	svc := New(testConfig(), nil, nil)
	assert.True(t, svc.Configured())

	svc = New(&config.Config{}, nil, nil)
	assert.False(t, svc.Configured())
}

func TestExchangePersistsToken(t *testing.T) {
	dbx := setupDB(t)
	srv := tokenEndpoint(t, "new-access", "new-refresh", 3600)

	svc := New(testConfig(), dbx, nil)
	svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: srv.URL}

	tok, err := svc.Exchange(context.Background(), "authcode")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)

	access, refresh, expiry, scope, err := db.GetOAuthToken(context.Background(), dbx, nil, Provider)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
	assert.Equal(t, "new-refresh", refresh)
	assert.Equal(t, "chat:read chat:edit", scope)
	assert.True(t, time.Until(expiry) > 30*time.Minute)
}

func TestChatTokenFresh(t *testing.T) {
	dbx := setupDB(t)
	err := db.UpsertOAuthToken(context.Background(), dbx, nil, Provider,
		"stored-access", "stored-refresh", time.Now().Add(time.Hour), "chat:read")
	require.NoError(t, err)

	svc := New(testConfig(), dbx, nil)
	tok, err := svc.ChatToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oauth:stored-access", tok)
}

func TestChatTokenRefreshesNearExpiry(t *testing.T) {
	dbx := setupDB(t)
	err := db.UpsertOAuthToken(context.Background(), dbx, nil, Provider,
		"stale-access", "stored-refresh", time.Now().Add(30*time.Second), "chat:read")
	require.NoError(t, err)

	srv := tokenEndpoint(t, "fresh-access", "", 3600)
	svc := New(testConfig(), dbx, nil)
	svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: srv.URL}

	tok, err := svc.ChatToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oauth:fresh-access", tok)

	// Refresh token must be preserved when the grant response omits it.
	_, refresh, _, _, err := db.GetOAuthToken(context.Background(), dbx, nil, Provider)
	require.NoError(t, err)
	assert.Equal(t, "stored-refresh", refresh)
}

func TestChatTokenMissing(t *testing.T) {
	dbx := setupDB(t)
	svc := New(testConfig(), dbx, nil)
	_, err := svc.ChatToken(context.Background())
	require.Error(t, err)
}

func TestStartRefresherWithinWindow(t *testing.T) {
	dbx := setupDB(t)
	err := db.UpsertOAuthToken(context.Background(), dbx, nil, Provider,
		"old-access", "old-refresh", time.Now().Add(5*time.Minute), "chat:read")
	require.NoError(t, err)

	srv := tokenEndpoint(t, "refreshed-access", "refreshed-refresh", 7200)
	svc := New(testConfig(), dbx, nil)
	svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: srv.URL}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartRefresher(ctx, 20*time.Millisecond, 15*time.Minute)

	require.Eventually(t, func() bool {
		access, _, _, _, err := db.GetOAuthToken(context.Background(), dbx, nil, Provider)
		return err == nil && access == "refreshed-access"
	}, 2*time.Second, 20*time.Millisecond, "token should be refreshed when expiry falls within window")
}

func TestStartRefresherOutsideWindow(t *testing.T) {
	dbx := setupDB(t)
	err := db.UpsertOAuthToken(context.Background(), dbx, nil, Provider,
		"old-access", "old-refresh", time.Now().Add(time.Hour), "chat:read")
	require.NoError(t, err)

	srv := tokenEndpoint(t, "should-not-happen", "", 3600)
	svc := New(testConfig(), dbx, nil)
	svc.oauth.Endpoint = oauth2.Endpoint{TokenURL: srv.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	svc.StartRefresher(ctx, 20*time.Millisecond, 15*time.Minute)
	<-ctx.Done()

	access, _, _, _, err := db.GetOAuthToken(context.Background(), dbx, nil, Provider)
	require.NoError(t, err)
	assert.Equal(t, "old-access", access)
}
