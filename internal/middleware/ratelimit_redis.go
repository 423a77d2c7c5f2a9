package middleware

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const rateLimitKeyPrefix = "ratelimit:"

// Fixed window: the first hit in a window sets its expiry.
var rateLimitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end

return {count, ttl}
`)

// RedisLimiter shares counters across broker instances. It fails open when
// redis is unavailable.
type RedisLimiter struct {
	client redis.UniversalClient
	rules  map[RouteClass]Rule
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, rules map[RouteClass]Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rules: rules, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, identity string, class RouteClass) Decision {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	key := rateLimitKeyPrefix + string(class) + ":" + identity

	result, err := rateLimitScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64Slice()
	if err != nil || len(result) != 2 {
		log.Warn().Err(err).Str("routeClass", string(class)).Msg("redis rate limit check failed, allowing request")
		return Decision{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit - 1, ResetAt: now.Add(rule.Window)}
	}

	count := int(result[0])
	ttl := time.Duration(result[1]) * time.Millisecond
	resetAt := now.Add(ttl)

	if count > rule.Limit {
		return Decision{Limit: rule.Limit, ResetAt: resetAt, RetryAfter: ttl}
	}
	return Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - count,
		ResetAt:   resetAt,
	}
}
