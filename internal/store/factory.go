package store

import (
	"fmt"

	"github.com/lancachetools/lansync/internal/common/config"

	"go.uber.org/zap"
)

// Type represents the type of durable store backend.
type Type string

const (
	// TypeMemory represents the in-memory store
	TypeMemory Type = "memory"
	// TypeDisk represents the JSON-file-per-key disk store
	TypeDisk Type = "disk"
	// TypeRedis represents the Redis-backed store
	TypeRedis Type = "redis"
	// TypeSQLite represents the SQLite-backed store
	TypeSQLite Type = "sqlite"
)

// NewStore creates a new durable store based on configuration.
func NewStore(logger *zap.Logger, cfg *config.StoreConfig) (Store, error) {
	logger.Info("Initializing durable store", zap.String("type", cfg.Type))
	switch Type(cfg.Type) {
	case TypeMemory:
		return NewMemoryStore(logger), nil
	case TypeDisk:
		return NewDiskStore(logger, cfg.Disk.Dir)
	case TypeRedis:
		return NewRedisStore(logger, cfg.Redis)
	case TypeSQLite:
		return NewSQLiteStore(logger, cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
