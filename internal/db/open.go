package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/config"
)

// Open builds the AccountRepository selected by STORE_BACKEND.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (AccountRepository, error) {
	switch cfg.StoreBackend {
	case config.StoreFile:
		return NewFileAccountRepository(cfg.DBFile(), cfg.SaveDebounce(), logger)
	case config.StoreFirestore:
		client, err := NewFirestoreClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewFirestoreAccountRepository(client)
	case config.StoreRedis:
		return NewRedisAccountRepository(ctx, RedisOptions{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
