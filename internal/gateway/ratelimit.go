package gateway

import (
	"sync"
	"time"
)

// RateLimiter maintains a sliding time-window event counter per connection
// identity. Counters are in-memory only and rebuilt from zero after a
// process restart; this is a documented limitation.
type RateLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	events map[string]map[string][]time.Time // identity -> event name -> timestamps
}

// NewRateLimiter builds a limiter admitting at most max events per event
// name within the sliding window for each identity.
func NewRateLimiter(max int, window time.Duration, clock func() time.Time) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		max:    max,
		window: window,
		now:    clock,
		events: make(map[string]map[string][]time.Time),
	}
}

// Allow records an event attempt for the identity and reports whether it is
// admitted. On denial it returns the suggested retry-after duration, the
// time until the oldest counted event leaves the window.
func (l *RateLimiter) Allow(identity, event string) (bool, time.Duration) {
	if l.max <= 0 || l.window <= 0 {
		return true, 0
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	byEvent := l.events[identity]
	if byEvent == nil {
		byEvent = make(map[string][]time.Time)
		l.events[identity] = byEvent
	}

	stamps := byEvent[event]

	// Discard timestamps that fell out of the window. Entries exactly at
	// the cutoff are discarded too: an event window-old no longer counts.
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		byEvent[event] = kept
		retryAfter := l.window - now.Sub(kept[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter
	}

	byEvent[event] = append(kept, now)
	return true, 0
}

// Forget discards all counters for an identity, typically on disconnect.
func (l *RateLimiter) Forget(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, identity)
}

// SweepIdle removes identities whose every counter has aged out of the
// window. Called periodically by maintenance to bound memory.
func (l *RateLimiter) SweepIdle() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, byEvent := range l.events {
		idle := true
		for _, stamps := range byEvent {
			if n := len(stamps); n > 0 && stamps[n-1].After(cutoff) {
				idle = false
				break
			}
		}
		if idle {
			delete(l.events, identity)
			removed++
		}
	}
	return removed
}

// Max returns the configured event ceiling.
func (l *RateLimiter) Max() int { return l.max }

// Window returns the configured sliding window.
func (l *RateLimiter) Window() time.Duration { return l.window }
