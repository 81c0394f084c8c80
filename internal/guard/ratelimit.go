package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OpClass buckets mutating operations for rate limiting.
type OpClass string

const (
	OpCreate  OpClass = "create"
	OpEdit    OpClass = "edit"
	OpDelete  OpClass = "delete"
	OpBulk    OpClass = "bulk"
	OpDefault OpClass = "default"
)

// RateLimits configures per-principal, per-class caps over a sliding
// one-minute window.
type RateLimits struct {
	Create  int
	Edit    int
	Delete  int
	Bulk    int
	Default int
}

// DefaultRateLimits mirrors the configured defaults.
func DefaultRateLimits() RateLimits {
	return RateLimits{Create: 5, Edit: 10, Delete: 3, Bulk: 2, Default: 10}
}

func (l RateLimits) limitFor(class OpClass) int {
	switch class {
	case OpCreate:
		return l.Create
	case OpEdit:
		return l.Edit
	case OpDelete:
		return l.Delete
	case OpBulk:
		return l.Bulk
	default:
		return l.Default
	}
}

// Limiter counts mutating operations per actor and class. Allow consumes
// one slot when under the cap.
type Limiter interface {
	Allow(ctx context.Context, actorID int64, class OpClass) (bool, error)
}

const rateWindow = time.Minute

// slidingWindow trims, counts and conditionally records one event as a
// single atomic step, so concurrent requests cannot all pass the count
// check and over-admit past the cap.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisLimiter implements a true sliding window on a Redis sorted set:
// event timestamps are the scores, expired entries are trimmed on every
// check, and cardinality is the in-window count.
type RedisLimiter struct {
	client *redis.Client
	limits RateLimits
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, limits RateLimits) *RedisLimiter {
	return &RedisLimiter{client: client, limits: limits}
}

// Allow reports whether the actor may issue another operation of the class.
func (l *RedisLimiter) Allow(ctx context.Context, actorID int64, class OpClass) (bool, error) {
	limit := l.limits.limitFor(class)
	if limit <= 0 || l.client == nil {
		return true, nil
	}
	key := fmt.Sprintf("authz:rl:%d:%s", actorID, class)
	now := time.Now()
	cutoff := now.Add(-rateWindow)

	// Members must be unique per event or same-instant requests would
	// collapse into one window entry.
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
	allowed, err := slidingWindow.Run(ctx, l.client, []string{key},
		cutoff.UnixNano(), limit, now.UnixNano(), member, rateWindow.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return allowed == 1, nil
}

// MemoryLimiter is the in-process fallback used by tests and embedders.
type MemoryLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limits RateLimits
	now    func() time.Time
}

// NewMemoryLimiter constructs an in-memory sliding-window limiter.
func NewMemoryLimiter(limits RateLimits) *MemoryLimiter {
	return &MemoryLimiter{events: make(map[string][]time.Time), limits: limits, now: time.Now}
}

// Allow reports whether the actor may issue another operation of the class.
func (l *MemoryLimiter) Allow(ctx context.Context, actorID int64, class OpClass) (bool, error) {
	limit := l.limits.limitFor(class)
	if limit <= 0 {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := fmt.Sprintf("%d:%s", actorID, class)
	now := l.now()
	cutoff := now.Add(-rateWindow)
	kept := l.events[key][:0]
	for _, at := range l.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= limit {
		l.events[key] = kept
		return false, nil
	}
	l.events[key] = append(kept, now)
	return true, nil
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*MemoryLimiter)(nil)
)
