package store

import (
	"fmt"

	"github.com/syncroom/syncroom/hub/internal/config"
)

// New creates a Directory based on the configured storage driver.
func New(cfg config.StorageConfig) (Directory, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "mongo":
		return NewMongo(cfg.DSN, cfg.Database)
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}
