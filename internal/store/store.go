// internal/store/store.go
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"instrument-service/internal/config"
	"instrument-service/internal/database"
)

// KeyValueStore persists small strings such as the last port an instrument
// was found on. Both operations tolerate failure: a missing or unreadable
// value is reported as absent and a failed write as false.
type KeyValueStore interface {
	Load(ctx context.Context, key string) (string, bool)
	Store(ctx context.Context, key, value string) bool
}

// New creates the store selected by cfg. db is only used by the postgres
// backend.
func New(cfg *config.StoreConfig, db *database.DB, logger *zap.Logger) (KeyValueStore, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, logger), nil
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		return NewPostgresStore(db, logger), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}
