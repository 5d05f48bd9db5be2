package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutCredentials stores the serialized credential bundle for a user and
// marks the account connected.
func (s *Store) PutCredentials(user string, bundle []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (user, bundle, connected, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(user) DO UPDATE SET bundle = excluded.bundle,
			connected = 1, updated_at = excluded.updated_at`,
		user, string(bundle), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put credentials: %w", err)
	}
	return nil
}

// GetCredentials returns the stored bundle for a user, or ErrNotFound if
// the user has never connected or has disconnected.
func (s *Store) GetCredentials(user string) ([]byte, error) {
	var bundle string
	var connected int
	err := s.db.QueryRow(`SELECT bundle, connected FROM credentials WHERE user = ?`, user).
		Scan(&bundle, &connected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	if connected == 0 {
		return nil, ErrNotFound
	}
	return []byte(bundle), nil
}

// DeleteCredentials clears the bundle and marks the user disconnected.
// Deleting for an unknown or already-disconnected user is a no-op.
func (s *Store) DeleteCredentials(user string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE user = ?`, user); err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

// IsConnected reports whether the user has a stored, connected bundle.
func (s *Store) IsConnected(user string) bool {
	var connected int
	err := s.db.QueryRow(`SELECT connected FROM credentials WHERE user = ?`, user).Scan(&connected)
	return err == nil && connected != 0
}
