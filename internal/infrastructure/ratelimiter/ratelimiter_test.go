package ratelimiter

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(t *testing.T, opts Options) (*RateLimiter, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := New(opts)
	rl.now = c.Now
	t.Cleanup(func() { _ = rl.Close() })
	return rl, c
}

func TestAllow_BurstThenRefill(t *testing.T) {
	rl, c := newLimiter(t, Options{MaxRatePerSecond: 2, MaxBurst: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "request %d", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 0, rl.Remaining("a"))

	// other sources have their own bucket
	assert.True(t, rl.Allow("b"))

	c.Advance(time.Second)
	assert.Equal(t, 2, rl.Remaining("a"))
	assert.True(t, rl.Allow("a"))
	assert.Equal(t, 3, rl.GetMaxBurst())
}

func TestNew_BurstDefaultsToRate(t *testing.T) {
	rl, _ := newLimiter(t, Options{MaxRatePerSecond: 5})
	assert.Equal(t, 5, rl.GetMaxBurst())
}

func TestRemoveExpired(t *testing.T) {
	rl, c := newLimiter(t, Options{MaxRatePerSecond: 1, CacheTTL: time.Minute})

	rl.Allow("stale")
	c.Advance(2 * time.Minute)
	rl.Allow("fresh")
	rl.removeExpired()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.buckets, "stale")
	assert.Contains(t, rl.buckets, "fresh")
}

func TestGetSourceKey(t *testing.T) {
	rl, _ := newLimiter(t, Options{MaxRatePerSecond: 1, SourceHeaderKey: "X-Forwarded-For"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", rl.GetSourceKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", rl.GetSourceKey(r))
}
