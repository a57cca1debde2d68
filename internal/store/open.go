// ABOUTME: Backend selection for ConversationStore from configuration
// ABOUTME: Maps database.backend names onto the concrete store constructors

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/2389/coven-chat/internal/config"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name
var ErrUnknownBackend = errors.New("unknown storage backend")

// Open returns the ConversationStore selected by cfg.Backend.
func Open(ctx context.Context, cfg config.DatabaseConfig) (ConversationStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendSQLite:
		driver := cfg.Driver
		if driver == "" {
			driver = DriverModernC
		}
		return NewSQLiteStoreWithDriver(cfg.Path, driver)
	case config.BackendBolt:
		return NewBoltStore(cfg.Path)
	case config.BackendRedis:
		return NewRedisStore(ctx, &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Prefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
