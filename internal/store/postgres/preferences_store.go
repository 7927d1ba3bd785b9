package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcwave/arbicore/internal/domain"
)

// PreferencesStore implements domain.PreferencesStore using PostgreSQL, for
// deployments that opt out of the default JSON-file-per-user backend.
type PreferencesStore struct {
	pool *pgxpool.Pool
}

// NewPreferencesStore creates a new PreferencesStore backed by the given
// connection pool.
func NewPreferencesStore(pool *pgxpool.Pool) *PreferencesStore {
	return &PreferencesStore{pool: pool}
}

// Load returns the stored document for userID, or domain.ErrNotFound if none
// exists.
func (s *PreferencesStore) Load(ctx context.Context, userID string) (domain.Preferences, error) {
	const query = `SELECT document FROM user_preferences WHERE user_id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, userID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: load preferences %s: %w", userID, err)
	}

	var prefs domain.Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal preferences %s: %w", userID, err)
	}
	return prefs, nil
}

// Save upserts the document for userID.
func (s *PreferencesStore) Save(ctx context.Context, userID string, prefs domain.Preferences) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("postgres: marshal preferences %s: %w", userID, err)
	}

	const query = `
		INSERT INTO user_preferences (user_id, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			document   = EXCLUDED.document,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, userID, raw); err != nil {
		return fmt.Errorf("postgres: save preferences %s: %w", userID, err)
	}
	return nil
}

// Delete removes the document for userID. It is not an error if none exists.
func (s *PreferencesStore) Delete(ctx context.Context, userID string) error {
	const query = `DELETE FROM user_preferences WHERE user_id = $1`
	if _, err := s.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("postgres: delete preferences %s: %w", userID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PreferencesStore = (*PreferencesStore)(nil)
