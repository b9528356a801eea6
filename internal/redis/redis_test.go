package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestContactLockRunsAndReleases(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewContactLocker(client, 5*time.Second)

	ran := false
	err := locker.WithLock(context.Background(), []string{"phone:+966500000000", "email:sara@example.com"}, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:contact:email:sara@example.com"))
		assert.True(t, mr.Exists("lock:contact:phone:+966500000000"))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:contact:email:sara@example.com"))
	assert.False(t, mr.Exists("lock:contact:phone:+966500000000"))
}

func TestContactLockNamesAreSortedAndDeduplicated(t *testing.T) {
	got := lockNames([]string{"phone:1", "email:a", "", "phone:1"})
	assert.Equal(t, []string{"lock:contact:email:a", "lock:contact:phone:1"}, got)
}

func TestContactLockReturnsCallbackError(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewContactLocker(client, 5*time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), []string{"email:a@example.com"}, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestContactLockContention(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("lock:contact:phone:+966500000000", "someone-else"))
	locker := NewContactLocker(client, 5*time.Second).WithWait(20*time.Millisecond, 5*time.Millisecond)

	called := false
	err := locker.WithLock(context.Background(), []string{"email:sara@example.com", "phone:+966500000000"}, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.False(t, called)
	// The key taken before the contended one is released again.
	assert.False(t, mr.Exists("lock:contact:email:sara@example.com"))

	// Other contacts are independent.
	err = locker.WithLock(context.Background(), []string{"email:omar@example.com", "phone:+966511111111"}, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestContactLockWaitsForHolderWithinWait(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("lock:contact:email:sara@example.com", "someone-else"))
	locker := NewContactLocker(client, 5*time.Second).WithWait(2*time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del("lock:contact:email:sara@example.com")
	}()

	err := locker.WithLock(context.Background(), []string{"email:sara@example.com"}, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestContactLockDoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewContactLocker(client, 5*time.Second)

	err := locker.WithLock(context.Background(), []string{"email:sara@example.com"}, func(ctx context.Context) error {
		// Our lease expired and another holder took the key.
		return mr.Set("lock:contact:email:sara@example.com", "other-holder")
	})
	require.NoError(t, err)

	got, err := mr.Get("lock:contact:email:sara@example.com")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestContactLockSerializesSharedContact(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewContactLocker(client, 5*time.Second).WithWait(2*time.Second, 2*time.Millisecond)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each caller has its own email but all share a phone.
			keys := []string{fmt.Sprintf("email:p%d@example.com", i), "phone:+966500000000"}
			err := locker.WithLock(context.Background(), keys, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestContactLockUnrelatedContactsDoNotContend(t *testing.T) {
	_, client := newTestRedis(t)
	locker := NewContactLocker(client, 5*time.Second).WithWait(0, time.Millisecond)

	const callers = 10
	var inside, maxInside int32
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			keys := []string{fmt.Sprintf("email:p%d@example.com", i), fmt.Sprintf("phone:+96650000000%d", i)}
			errs[i] = locker.WithLock(context.Background(), keys, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(40 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Greater(t, atomic.LoadInt32(&maxInside), int32(1))
}

func TestContactLockRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()
	locker := NewContactLocker(client, time.Second)

	err := locker.WithLock(context.Background(), []string{"email:a@example.com"}, func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
}

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestSlidingWindowLimiterAllowsUpToLimit(t *testing.T) {
	_, client := newTestRedis(t)
	clock := &fakeNow{t: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
	limiter := NewSlidingWindowLimiter(client, Rule{Limit: 5, Window: time.Hour}).WithNow(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := limiter.Decide(ctx, "203.0.113.7", "booking")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i+1)
		assert.Equal(t, 4-i, d.Remaining)
		clock.Advance(time.Minute)
	}

	ok, err := limiter.Allow(ctx, "203.0.113.7", "booking")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "198.51.100.1", "booking")
	require.NoError(t, err)
	assert.True(t, ok, "identifiers are counted separately")

	ok, err = limiter.Allow(ctx, "203.0.113.7", "chat")
	require.NoError(t, err)
	assert.True(t, ok, "actions are counted separately")
}

func TestSlidingWindowLimiterWindowRolls(t *testing.T) {
	_, client := newTestRedis(t)
	clock := &fakeNow{t: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
	limiter := NewSlidingWindowLimiter(client, Rule{Limit: 2, Window: time.Hour}).WithNow(clock.Now)
	ctx := context.Background()

	allow := func() bool {
		ok, err := limiter.Allow(ctx, "caller", "booking")
		require.NoError(t, err)
		return ok
	}

	assert.True(t, allow())
	clock.Advance(30 * time.Minute)
	assert.True(t, allow())
	assert.False(t, allow())

	// The first attempt leaves the window, the second is still inside.
	clock.Advance(31 * time.Minute)
	assert.True(t, allow())
	assert.False(t, allow())
}

func TestSlidingWindowLimiterRejectedAttemptsDoNotExtendBlock(t *testing.T) {
	_, client := newTestRedis(t)
	clock := &fakeNow{t: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
	limiter := NewSlidingWindowLimiter(client, Rule{Limit: 1, Window: time.Hour}).WithNow(clock.Now)
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "caller", "booking")
	assert.True(t, ok)
	for i := 0; i < 10; i++ {
		clock.Advance(5 * time.Minute)
		ok, _ = limiter.Allow(ctx, "caller", "booking")
		assert.False(t, ok)
	}

	clock.Advance(11 * time.Minute)
	ok, err := limiter.Allow(ctx, "caller", "booking")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowLimiterPerActionRule(t *testing.T) {
	_, client := newTestRedis(t)
	limiter := NewSlidingWindowLimiter(client, Rule{Limit: 5, Window: time.Hour}).
		WithRule("voice", Rule{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	ok, err := limiter.Allow(ctx, "caller", "voice")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "caller", "voice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSlidingWindowLimiterSetsExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	limiter := NewSlidingWindowLimiter(client, Rule{Limit: 5, Window: time.Hour})

	_, err := limiter.Allow(context.Background(), "caller", "booking")
	require.NoError(t, err)

	ttl := mr.TTL("ratelimit:booking:caller")
	assert.True(t, ttl > 0 && ttl <= time.Hour, "ttl %s", ttl)
}

func TestSlidingWindowLimiterRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()
	limiter := NewSlidingWindowLimiter(client, Rule{Limit: 5, Window: time.Hour})

	_, err := limiter.Allow(context.Background(), "caller", "booking")
	assert.Error(t, err)
}
