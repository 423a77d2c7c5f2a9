package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/openclaw/auth-broker-go/internal/audit"
	"github.com/openclaw/auth-broker-go/internal/config"
	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/httputil"
)

type RouteClass string

const (
	RouteClassPair  RouteClass = "pair"
	RouteClassPoll  RouteClass = "poll"
	RouteClassToken RouteClass = "token"
	RouteClassAll   RouteClass = "all"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per identity and route class. Classes without a
// rule are never limited.
type Limiter interface {
	Allow(ctx context.Context, identity string, class RouteClass) Decision
}

func RulesFromConfig(cfg *config.Config) map[RouteClass]Rule {
	return map[RouteClass]Rule{
		RouteClassPair:  {Limit: cfg.RateLimitPair, Window: cfg.RateLimitPairWindow()},
		RouteClassPoll:  {Limit: cfg.RateLimitPoll, Window: cfg.RateLimitPollWindow()},
		RouteClassToken: {Limit: cfg.RateLimitToken, Window: cfg.RateLimitTokenWindow()},
		RouteClassAll:   {Limit: cfg.RateLimitAll, Window: cfg.RateLimitAllWindow()},
	}
}

type rateLimitEntry struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// MemoryLimiter is a process-local fixed-window counter. State is lost on
// restart.
type MemoryLimiter struct {
	mu        sync.Mutex
	rules     map[RouteClass]Rule
	store     map[string]*rateLimitEntry
	lastPrune time.Time
	now       func() time.Time
}

func NewMemoryLimiter(rules map[RouteClass]Rule) *MemoryLimiter {
	return &MemoryLimiter{
		rules:     rules,
		store:     make(map[string]*rateLimitEntry),
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	l.lastPrune = now()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, identity string, class RouteClass) Decision {
	rule, ok := l.rules[class]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	key := string(class) + ":" + identity
	entry, exists := l.store[key]
	if !exists || now.Sub(entry.windowStart) >= rule.Window {
		l.store[key] = &rateLimitEntry{count: 1, windowStart: now, window: rule.Window}
		return Decision{
			Allowed:   true,
			Limit:     rule.Limit,
			Remaining: rule.Limit - 1,
			ResetAt:   now.Add(rule.Window),
		}
	}

	resetAt := entry.windowStart.Add(rule.Window)
	if entry.count >= rule.Limit {
		return Decision{
			Limit:      rule.Limit,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	entry.count++
	return Decision{
		Allowed:   true,
		Limit:     rule.Limit,
		Remaining: rule.Limit - entry.count,
		ResetAt:   resetAt,
	}
}

// prune drops expired counters, at most once per RateLimitPruneInterval.
// Callers hold l.mu.
func (l *MemoryLimiter) prune(now time.Time) {
	if now.Sub(l.lastPrune) < config.RateLimitPruneInterval {
		return
	}
	l.lastPrune = now

	for key, entry := range l.store {
		if now.Sub(entry.windowStart) >= entry.window {
			delete(l.store, key)
		}
	}
}

func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.store)
}

type RateLimitMiddleware struct {
	limiter Limiter
}

func NewRateLimitMiddleware(limiter Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: limiter}
}

// Handler limits requests of one route class by client IP. It expects
// chi's RealIP middleware to have run.
func (m *RateLimitMiddleware) Handler(class RouteClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := httputil.ClientIP(r)
			decision := m.limiter.Allow(r.Context(), identity, class)

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if !decision.Allowed {
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

				audit.LogFromRequest(r, audit.Event{
					Type:    audit.EventRateLimitExceed,
					Details: map[string]any{"route_class": string(class)},
				})
				httputil.WriteError(w, apperrors.RateLimitExceeded())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
