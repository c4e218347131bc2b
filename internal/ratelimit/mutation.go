package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vidlens/trendsync/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyMutation = "trendsync:mutation:%s"

// MutationLimiter throttles write endpoints of the control API per client.
// A nil limiter (rate limiting disabled) allows everything.
type MutationLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewMutationLimiter(cfg config.Config) (*MutationLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.MutationRate <= 0 || limitCfg.MutationBurst <= 0 {
		return nil, errors.New("mutation rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &MutationLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.MutationRate,
		burst:   limitCfg.MutationBurst,
	}, nil
}

func (l *MutationLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowMutation decides whether one more write from clientID may proceed.
func (l *MutationLimiter) AllowMutation(ctx context.Context, clientID string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMutation, strings.TrimSpace(clientID)), l.rate, l.burst)
}
