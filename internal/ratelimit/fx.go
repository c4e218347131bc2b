package ratelimit

import (
	"strings"

	"github.com/vidlens/trendsync/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewMutationLimiter),
	fx.Provide(ProvideSchedulerLocker),
)

// ProvideSchedulerLocker builds the optional cross-process scheduler lock.
// Returns nil when locking is disabled; callers treat a nil Locker as
// single-instance mode.
func ProvideSchedulerLocker(cfg config.Config) *Locker {
	lockCfg := cfg.Lock
	if !lockCfg.Enabled {
		return nil
	}
	addr := strings.TrimSpace(lockCfg.RedisAddr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(lockCfg.RedisPassword),
		DB:       lockCfg.RedisDB,
	})
	return NewLocker(client)
}
