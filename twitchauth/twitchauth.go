// Package twitchauth manages the bot's own Twitch chat credential via the
// OAuth2 authorization code flow. Tokens are persisted in the oauth_tokens
// table so they survive restarts and can be refreshed in the background.
package twitchauth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mixtape-labs/fmbot/config"
	"github.com/mixtape-labs/fmbot/crypto"
	"github.com/mixtape-labs/fmbot/db"
)

// Provider is the oauth_tokens row key for the bot's chat credential.
const Provider = "twitch"

// Endpoint is Twitch's OAuth2 endpoint (id.twitch.tv).
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://id.twitch.tv/oauth2/authorize",
	TokenURL: "https://id.twitch.tv/oauth2/token",
}

// Service wraps the oauth2 config plus persistence.
type Service struct {
	db    *sql.DB
	enc   crypto.Encryptor
	oauth *oauth2.Config
}

// New builds a Service from config. enc may be nil (plaintext token storage).
func New(cfg *config.Config, dbx *sql.DB, enc crypto.Encryptor) *Service {
	scopes := strings.Fields(strings.ReplaceAll(cfg.TwitchScopes, ",", " "))
	return &Service{
		db:  dbx,
		enc: enc,
		oauth: &oauth2.Config{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			Endpoint:     Endpoint,
			RedirectURL:  cfg.TwitchRedirectURI,
			Scopes:       scopes,
		},
	}
}

// Configured reports whether the code flow can run at all.
func (s *Service) Configured() bool {
	return s.oauth.ClientID != "" && s.oauth.RedirectURL != ""
}

// AuthCodeURL returns the Twitch authorize URL for the given state.
func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state)
}

// Exchange swaps an authorization code for tokens and persists them.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	scope := strings.Join(s.oauth.Scopes, " ")
	if err := db.UpsertOAuthToken(ctx, s.db, s.enc, Provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, scope); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}
	return tok, nil
}

// ChatToken returns the stored access token in IRC credential form
// ("oauth:<token>"), refreshing first when the stored token is near expiry.
func (s *Service) ChatToken(ctx context.Context) (string, error) {
	access, refresh, expiry, _, err := db.GetOAuthToken(ctx, s.db, s.enc, Provider)
	if err != nil {
		return "", err
	}
	if access == "" {
		return "", fmt.Errorf("no twitch token stored; run the /auth/twitch/start flow")
	}
	if time.Until(expiry) > 2*time.Minute {
		return "oauth:" + access, nil
	}
	newAT, _, _, err := s.Refresh(ctx, refresh)
	if err != nil {
		// The old token may still work briefly; let the caller try it.
		return "oauth:" + access, nil //nolint:nilerr
	}
	return "oauth:" + newAT, nil
}

// Refresh exchanges a refresh token for a new access token and persists it.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (access, refresh string, expiry time.Time, err error) {
	if refreshToken == "" {
		return "", "", time.Time{}, fmt.Errorf("no refresh token")
	}
	ts := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("refresh token: %w", err)
	}
	rt := tok.RefreshToken
	if rt == "" {
		rt = refreshToken
	}
	scope := strings.Join(s.oauth.Scopes, " ")
	if err := db.UpsertOAuthToken(ctx, s.db, s.enc, Provider, tok.AccessToken, rt, tok.Expiry, scope); err != nil {
		return "", "", time.Time{}, fmt.Errorf("persist refreshed token: %w", err)
	}
	return tok.AccessToken, rt, tok.Expiry, nil
}
