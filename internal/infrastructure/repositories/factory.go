package repositories

import (
	"context"
	"fmt"

	"voicelink/internal/core/ports"
	"voicelink/internal/infrastructure/repositories/memory"
	"voicelink/internal/infrastructure/repositories/redis"
	"voicelink/pkg/config"
)

// NewSessionRepository builds the configured session store.
func NewSessionRepository(ctx context.Context, cfg *config.Config) (ports.SessionRepository, error) {
	switch cfg.Sessions.Store {
	case "memory":
		return memory.NewSessionRepository(), nil
	case "redis":
		return redis.NewSessionRepository(ctx, redis.Options{
			Address:  cfg.Sessions.Redis.Address,
			Password: cfg.Sessions.Redis.Password,
			DB:       cfg.Sessions.Redis.DB,
			PoolSize: cfg.Sessions.Redis.PoolSize,
		})
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Sessions.Store)
	}
}
