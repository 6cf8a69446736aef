package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mixtape-labs/fmbot/crypto"
)

// UpsertOAuthToken stores or updates the bot's OAuth token for a provider.
// When enc is non-nil the tokens are encrypted before storage and the row is
// marked encryption_version=1; a nil enc stores plaintext (version 0).
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, enc crypto.Encryptor, provider, access, refresh string, expiry time.Time, scope string) error {
	encVersion := 0
	accessToStore := access
	refreshToStore := refresh

	if enc != nil {
		encVersion = 1
		if access != "" {
			v, err := crypto.EncryptString(enc, access)
			if err != nil {
				return fmt.Errorf("encrypt access token: %w", err)
			}
			accessToStore = v
		}
		if refresh != "" {
			v, err := crypto.EncryptString(enc, refresh)
			if err != nil {
				return fmt.Errorf("encrypt refresh token: %w", err)
			}
			refreshToStore = v
		}
	}

	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err := dbx.ExecContext(ctx, q, provider, accessToStore, refreshToStore, expiry, strings.TrimSpace(scope), encVersion)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
// Rows written before encryption was enabled (version 0) are read back as-is.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, enc crypto.Encryptor, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var encVersion int
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err = row.Scan(&access, &refresh, &expiry, &scope, &encVersion)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}

	if encVersion == 1 {
		if enc == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if access != "" {
			v, decErr := crypto.DecryptString(enc, access)
			if decErr != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", decErr)
			}
			access = v
		}
		if refresh != "" {
			v, decErr := crypto.DecryptString(enc, refresh)
			if decErr != nil {
				return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", decErr)
			}
			refresh = v
		}
	}

	return access, refresh, expiry, scope, nil
}
