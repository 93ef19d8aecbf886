package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/comfygrid/internal/badgerstore"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/inmemorystore"
	"github.com/vk/comfygrid/internal/redisstore"
	"github.com/vk/comfygrid/internal/task"
)

// openStore opens the configured task store backend.
func openStore(ctx context.Context, s config.StoreSettings, logger *slog.Logger) (task.Store, error) {
	switch s.Backend {
	case config.StoreMemory:
		logger.Debug("Using in-memory task store.")
		return inmemorystore.New(), nil
	case config.StoreBadger, "":
		logger.Debug("Using badger task store.", "path", s.Path)
		return badgerstore.Open(badgerstore.Options{Path: s.Path, Logger: logger})
	case config.StoreRedis:
		logger.Debug("Using redis task store.", "addr", s.RedisAddr)
		return redisstore.New(ctx, redisstore.Options{Addr: s.RedisAddr, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store backend %q", s.Backend)
	}
}
