package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rule allows Limit attempts per rolling Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed   bool
	Remaining int
}

// SlidingWindowLimiter counts attempts per (action, identifier) in a sorted
// set scored by attempt time. Rejected attempts are not recorded.
type SlidingWindowLimiter struct {
	client *redis.Client
	def    Rule
	rules  map[string]Rule
	now    func() time.Time
}

func NewSlidingWindowLimiter(client *redis.Client, def Rule) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		client: client,
		def:    def,
		rules:  map[string]Rule{},
		now:    time.Now,
	}
}

// WithRule overrides the default rule for one action.
func (l *SlidingWindowLimiter) WithRule(action string, r Rule) *SlidingWindowLimiter {
	l.rules[action] = r
	return l
}

// WithNow replaces the time source used to score attempts.
func (l *SlidingWindowLimiter) WithNow(now func() time.Time) *SlidingWindowLimiter {
	l.now = now
	return l
}

// KEYS[1] set key; ARGV: now ms, window ms, limit, member.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now, ARGV[4])
  redis.call("PEXPIRE", key, window)
  return {1, limit - count - 1}
end
return {0, 0}
`)

func (l *SlidingWindowLimiter) Allow(ctx context.Context, identifier, action string) (bool, error) {
	d, err := l.Decide(ctx, identifier, action)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

func (l *SlidingWindowLimiter) Decide(ctx context.Context, identifier, action string) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok {
		rule = l.def
	}

	key := fmt.Sprintf("ratelimit:%s:%s", action, identifier)
	now := l.now().UnixMilli()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	res, err := slidingWindowScript.Run(ctx, l.client, []string{key},
		now, rule.Window.Milliseconds(), rule.Limit, member).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", action, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected script reply %v", action, res)
	}

	return Decision{Allowed: res[0] == 1, Remaining: int(res[1])}, nil
}
