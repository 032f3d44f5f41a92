package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/config"
)

// GetConfig returns the persisted value for key, or config.ErrNotFound when
// the key has never been set.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", config.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config get %q: %w", key, err)
	}
	return value, nil
}

// SetConfig upserts the key/value pair, stamping updated_at with the current
// UTC time.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, now)
	if err != nil {
		return fmt.Errorf("config set %q: %w", key, err)
	}
	return nil
}
