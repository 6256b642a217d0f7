// internal/store/postgres_store.go
package store

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"instrument-service/internal/database"
)

// PostgresStore keeps values in the last_known_ports table
type PostgresStore struct {
	db     *database.DB
	logger *zap.Logger
}

// NewPostgresStore creates a store on a migrated database
func NewPostgresStore(db *database.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.With(zap.String("component", "postgres_store"))}
}

// Load returns the stored value for key
func (s *PostgresStore) Load(ctx context.Context, key string) (string, bool) {
	query := `SELECT value FROM last_known_ports WHERE key = $1`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to load stored value", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, value != ""
}

// Store upserts value for key
func (s *PostgresStore) Store(ctx context.Context, key, value string) bool {
	query := `
		INSERT INTO last_known_ports (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		s.logger.Warn("Failed to store value", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
