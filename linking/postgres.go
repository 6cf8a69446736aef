package linking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mixtape-labs/fmbot/crypto"
)

const pgUniqueViolation = "23505"

// PostgresPendingLinkStore stages pending links in the pending_links table.
// When enc is non-nil session keys are encrypted at rest (encryption_version=1);
// plaintext rows (version=0) remain readable for pre-encryption installs.
type PostgresPendingLinkStore struct {
	db  *sql.DB
	enc crypto.Encryptor
}

func NewPostgresPendingLinkStore(db *sql.DB, enc crypto.Encryptor) *PostgresPendingLinkStore {
	return &PostgresPendingLinkStore{db: db, enc: enc}
}

func (s *PostgresPendingLinkStore) Create(ctx context.Context, link PendingLink) error {
	key, version, err := encodeKey(s.enc, link.SessionKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pending_links(code, session_key, encryption_version, expires_at) VALUES ($1,$2,$3,$4)`,
		link.Code, key, version, link.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrCodeExists
	}
	return err
}

// Claim runs the lookup-and-delete as a single conditional DELETE RETURNING,
// so concurrent claims of one code can never both succeed.
func (s *PostgresPendingLinkStore) Claim(ctx context.Context, code string, now time.Time) (PendingLink, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_links WHERE code=$1 AND expires_at > $2 RETURNING session_key, encryption_version, expires_at`,
		code, now)
	var (
		key     string
		version int
		expires time.Time
	)
	if err := row.Scan(&key, &version, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingLink{}, ErrCodeNotFound
		}
		return PendingLink{}, err
	}
	sessionKey, err := decodeKey(s.enc, key, version)
	if err != nil {
		return PendingLink{}, err
	}
	return PendingLink{Code: code, SessionKey: sessionKey, ExpiresAt: expires}, nil
}

func (s *PostgresPendingLinkStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_links WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresPendingLinkStore) CountActive(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_links WHERE expires_at > $1`, now).Scan(&n)
	return n, err
}

// PostgresLinkedUserStore persists chat-identity bindings in linked_users.
type PostgresLinkedUserStore struct {
	db  *sql.DB
	enc crypto.Encryptor
}

func NewPostgresLinkedUserStore(db *sql.DB, enc crypto.Encryptor) *PostgresLinkedUserStore {
	return &PostgresLinkedUserStore{db: db, enc: enc}
}

func (s *PostgresLinkedUserStore) Upsert(ctx context.Context, user LinkedUser) error {
	key, version, err := encodeKey(s.enc, user.SessionKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO linked_users(chat_id, session_key, encryption_version) VALUES ($1,$2,$3)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   session_key=EXCLUDED.session_key,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		user.ChatID, key, version)
	return err
}

func (s *PostgresLinkedUserStore) Get(ctx context.Context, chatID string) (LinkedUser, error) {
	var (
		key     string
		version int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_key, COALESCE(encryption_version, 0) FROM linked_users WHERE chat_id=$1`,
		chatID).Scan(&key, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return LinkedUser{}, ErrNotLinked
	}
	if err != nil {
		return LinkedUser{}, err
	}
	sessionKey, err := decodeKey(s.enc, key, version)
	if err != nil {
		return LinkedUser{}, err
	}
	return LinkedUser{ChatID: chatID, SessionKey: sessionKey}, nil
}

func encodeKey(enc crypto.Encryptor, sessionKey string) (string, int, error) {
	if enc == nil {
		return sessionKey, 0, nil
	}
	out, err := crypto.EncryptString(enc, sessionKey)
	if err != nil {
		return "", 0, fmt.Errorf("encrypt session key: %w", err)
	}
	return out, 1, nil
}

func decodeKey(enc crypto.Encryptor, stored string, version int) (string, error) {
	if version == 0 {
		return stored, nil
	}
	if enc == nil {
		return "", fmt.Errorf("session key is encrypted but ENCRYPTION_KEY not configured")
	}
	out, err := crypto.DecryptString(enc, stored)
	if err != nil {
		return "", fmt.Errorf("decrypt session key: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
