package store

import (
	"context"
	"fmt"

	"github.com/edgecache/imgcache/internal/config"
)

// Open 根据 Store 配置选择后端；FaultRate > 0 时再包一层故障注入。
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		backend Store
		err     error
	)

	switch cfg.Backend {
	case config.BackendFS, "":
		backend, err = NewFSStore(cfg.Path)
	case config.BackendBolt:
		backend, err = NewBoltStore(cfg.Path)
	case config.BackendS3:
		backend, err = NewS3Store(ctx, cfg)
	case config.BackendGCS:
		backend, err = NewGCSStore(ctx, cfg)
	case config.BackendRedis:
		backend, err = NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	if cfg.FaultRate > 0 {
		return NewFaulty(backend, cfg.FaultRate), nil
	}
	return backend, nil
}
