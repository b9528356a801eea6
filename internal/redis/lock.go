package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("booking lock not acquired")
)

const lockPrefix = "lock:contact:"

// ContactLocker guards the booking critical section per patient contact, so
// the conflict checks and the insert for one email or phone never interleave.
// Bookings with unrelated contacts do not contend.
type ContactLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewContactLocker creates a locker whose keys expire after ttl. Acquiring
// waits up to ttl for a held key by default.
func NewContactLocker(client *redis.Client, ttl time.Duration) *ContactLocker {
	return &ContactLocker{
		client: client,
		ttl:    ttl,
		wait:   ttl,
		poll:   25 * time.Millisecond,
	}
}

// WithWait sets how long acquiring keeps polling a held key, and the poll interval.
func (l *ContactLocker) WithWait(wait, poll time.Duration) *ContactLocker {
	l.wait = wait
	if poll > 0 {
		l.poll = poll
	}
	return l
}

// WithLock runs fn while holding lock:contact:<key> for every key. Keys are
// taken in sorted order. A Redis error while acquiring is returned wrapped
// and fn is not called.
func (l *ContactLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	names := lockNames(keys)
	token := uuid.NewString()

	var held []string
	defer func() {
		for _, name := range held {
			_ = l.release(context.WithoutCancel(ctx), name, token)
		}
	}()

	deadline := time.Now().Add(l.wait)
	for _, name := range names {
		if err := l.acquire(ctx, name, token, deadline); err != nil {
			return err
		}
		held = append(held, name)
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func lockNames(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		names = append(names, lockPrefix+k)
	}
	sort.Strings(names)
	return names
}

func (l *ContactLocker) acquire(ctx context.Context, key, token string, deadline time.Time) error {
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire booking lock: %w", err)
		}
		if ok {
			return nil
		}
		if !time.Now().Add(l.poll).Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return ErrLockNotAcquired
		case <-time.After(l.poll):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *ContactLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release booking lock: %w", err)
	}
	return nil
}
