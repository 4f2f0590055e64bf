package storage

import (
	"fmt"

	"github.com/nugget/lime-node/internal/config"
)

// New constructs the EnvelopeStorage backend selected by cfg.
func New(cfg config.StorageConfig) (EnvelopeStorage, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
