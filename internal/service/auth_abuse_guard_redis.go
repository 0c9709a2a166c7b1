package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin   AuthAbuseScope = "login"
	AuthAbuseScopeRefresh AuthAbuseScope = "refresh"
)

// AuthAbusePolicy shapes the exponential cooldown applied to repeated
// failures: the first FreeAttempts cost nothing, then delays grow from
// BaseDelay by Multiplier up to MaxDelay. State expires after ResetWindow of
// quiet.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

// RedisAuthAbuseGuard tracks rotation/login failures per identity and per IP
// in redis so cooldowns hold across instances. Both dimensions are tracked
// independently; Check reports the longest remaining cooldown.
type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{client: client, prefix: prefix, policy: policy}
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	for _, dim := range g.dimensions(scope, identity, ip) {
		d, err := g.registerFailureKey(ctx, dim)
		if err != nil {
			return 0, err
		}
		if d > worst {
			worst = d
		}
	}
	return worst, nil
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	for _, dim := range g.dimensions(scope, identity, ip) {
		d, err := g.remainingCooldown(ctx, dim)
		if err != nil {
			return 0, err
		}
		if d > worst {
			worst = d
		}
	}
	return worst, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	dims := g.dimensions(scope, identity, ip)
	if len(dims) == 0 {
		return nil
	}
	return g.client.Del(ctx, dims...).Err()
}

func (g *RedisAuthAbuseGuard) registerFailureKey(ctx context.Context, key string) (time.Duration, error) {
	failures, err := g.client.HIncrBy(ctx, key, "failures", 1).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	cooldown := g.cooldownFor(failures)
	fields := map[string]any{"last_failure_ms": now.UnixMilli()}
	if cooldown > 0 {
		fields["cooldown_until_ms"] = now.Add(cooldown).UnixMilli()
	}
	pipe := g.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if g.policy.ResetWindow > 0 {
		pipe.PExpire(ctx, key, g.policy.ResetWindow)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return cooldown, nil
}

func (g *RedisAuthAbuseGuard) remainingCooldown(ctx context.Context, key string) (time.Duration, error) {
	raw, err := g.client.HGet(ctx, key, "cooldown_until_ms").Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	untilMs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cooldown_until_ms %q: %w", raw, err)
	}
	remaining := time.Until(time.UnixMilli(untilMs))
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (g *RedisAuthAbuseGuard) cooldownFor(failures int64) time.Duration {
	over := failures - int64(g.policy.FreeAttempts)
	if over <= 0 || g.policy.BaseDelay <= 0 {
		return 0
	}
	delay := g.policy.BaseDelay
	for i := int64(1); i < over; i++ {
		delay = time.Duration(float64(delay) * g.policy.Multiplier)
		if g.policy.MaxDelay > 0 && delay >= g.policy.MaxDelay {
			return g.policy.MaxDelay
		}
	}
	if g.policy.MaxDelay > 0 && delay > g.policy.MaxDelay {
		delay = g.policy.MaxDelay
	}
	return delay
}

func (g *RedisAuthAbuseGuard) dimensions(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if identity != "" {
		keys = append(keys, g.stateKey(scope, "id", normalizeAuthIdentity(identity)))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, dimension, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, dimension, value)
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
