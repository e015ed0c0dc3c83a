package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindowLaw(t *testing.T) {
	current := time.Now()
	limiter := NewRateLimiter(3, time.Minute, func() time.Time { return current })

	for i := 0; i < 3; i++ {
		ok, _ := limiter.Allow("user-1", "ping")
		require.True(t, ok, "event %d within the limit must pass", i+1)
	}

	ok, retryAfter := limiter.Allow("user-1", "ping")
	require.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)

	// Halfway through the window the retry hint shrinks accordingly.
	current = current.Add(30 * time.Second)
	ok, retryAfter = limiter.Allow("user-1", "ping")
	require.False(t, ok)
	assert.Equal(t, 30*time.Second, retryAfter)

	// Once the oldest event ages out, capacity returns.
	current = current.Add(31 * time.Second)
	ok, _ = limiter.Allow("user-1", "ping")
	assert.True(t, ok)
}

func TestRateLimiterCountsPerEventName(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, nil)

	ok, _ := limiter.Allow("user-1", "ping")
	require.True(t, ok)

	// A different event name has its own counter.
	ok, _ = limiter.Allow("user-1", "audio_data")
	assert.True(t, ok)

	ok, _ = limiter.Allow("user-1", "ping")
	assert.False(t, ok)
}

func TestRateLimiterCountsPerIdentity(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, nil)

	ok, _ := limiter.Allow("user-1", "ping")
	require.True(t, ok)

	ok, _ = limiter.Allow("user-2", "ping")
	assert.True(t, ok)
}

func TestRateLimiterForget(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute, nil)

	ok, _ := limiter.Allow("user-1", "ping")
	require.True(t, ok)
	ok, _ = limiter.Allow("user-1", "ping")
	require.False(t, ok)

	limiter.Forget("user-1")

	ok, _ = limiter.Allow("user-1", "ping")
	assert.True(t, ok)
}

func TestRateLimiterDeniedAttemptsDoNotExtendTheWindow(t *testing.T) {
	current := time.Now()
	limiter := NewRateLimiter(1, time.Minute, func() time.Time { return current })

	ok, _ := limiter.Allow("user-1", "ping")
	require.True(t, ok)

	// Hammering while denied must not push the recovery point out.
	for i := 0; i < 5; i++ {
		current = current.Add(10 * time.Second)
		ok, _ = limiter.Allow("user-1", "ping")
		require.False(t, ok)
	}

	current = current.Add(11 * time.Second)
	ok, _ = limiter.Allow("user-1", "ping")
	assert.True(t, ok)
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, time.Minute, nil)

	for i := 0; i < 100; i++ {
		ok, _ := limiter.Allow("user-1", "ping")
		require.True(t, ok)
	}
}

func TestRateLimiterSweepIdle(t *testing.T) {
	current := time.Now()
	limiter := NewRateLimiter(10, time.Minute, func() time.Time { return current })

	limiter.Allow("stale", "ping")
	current = current.Add(2 * time.Minute)
	limiter.Allow("fresh", "ping")

	removed := limiter.SweepIdle()
	assert.Equal(t, 1, removed)

	// The fresh identity keeps its counter.
	for i := 0; i < 9; i++ {
		ok, _ := limiter.Allow("fresh", "ping")
		require.True(t, ok)
	}
	ok, _ := limiter.Allow("fresh", "ping")
	assert.False(t, ok)
}
