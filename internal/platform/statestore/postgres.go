package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresStore keeps session state in the wizard_state table.
type PostgresStore struct {
	db  queryable
	ttl time.Duration
}

// NewPostgresStore wraps a pool (or any pgx connection). A zero TTL stores
// rows without an expiry.
func NewPostgresStore(db queryable, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string, key Key) ([]byte, error) {
	if err := checkRead(key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRow(ctx, `
		SELECT value FROM wizard_state
		WHERE session_id = $1 AND key = $2
		  AND (expires_at IS NULL OR expires_at > NOW())`,
		sessionID, string(key)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s for session %s: %w", key, sessionID, err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, sessionID string, key Key, value []byte) error {
	if err := checkWrite(key, value); err != nil {
		return err
	}
	var expires *time.Time
	if s.ttl > 0 {
		t := time.Now().Add(s.ttl)
		expires = &t
	}
	// The upsert and the sibling refresh run as one statement so every key
	// of the session shares the new expiry.
	_, err := s.db.Exec(ctx, `
		WITH upserted AS (
			INSERT INTO wizard_state (session_id, key, value, expires_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, key) DO UPDATE
			SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()
			RETURNING session_id
		)
		UPDATE wizard_state SET expires_at = $4
		WHERE session_id = (SELECT session_id FROM upserted) AND key <> $2
		  AND (expires_at IS NULL OR expires_at > NOW())`,
		sessionID, string(key), value, expires)
	if err != nil {
		return fmt.Errorf("set %s for session %s: %w", key, sessionID, err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM wizard_state WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// PurgeExpired deletes expired rows.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM wizard_state WHERE expires_at IS NOT NULL AND expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired state: %w", err)
	}
	return tag.RowsAffected(), nil
}
