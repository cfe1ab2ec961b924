package gamify

import (
	"context"
	"fmt"
	"time"

	"progresskit/adapters/jsonfile"
	mem "progresskit/adapters/memory"
	redisAdapter "progresskit/adapters/redis"
	sqlxAdapter "progresskit/adapters/sqlx"
	appconfig "progresskit/config"
	"progresskit/engine"
)

// OpenStorage creates the storage adapter named by cfg. Adapters holding
// connections implement io.Closer.
func OpenStorage(ctx context.Context, cfg appconfig.StorageConfig) (engine.Storage, error) {
	switch cfg.Adapter {
	case appconfig.AdapterMemory:
		return mem.New(), nil
	case appconfig.AdapterFile:
		return jsonfile.New(cfg.File.Path)
	case appconfig.AdapterRedis:
		return redisAdapter.New(cfg.Redis)
	case appconfig.AdapterSQL:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return sqlxAdapter.New(ctx, cfg.SQL)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}
