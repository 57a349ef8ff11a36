// Package ratelimit provides keyed token-bucket limiters used to slow down
// repeated credential checks against the same account.
package ratelimit

import (
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting parameters.
type Config struct {
	// RequestsPerWindow is the number of attempts allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// LoginLimit allows 5 attempts per minute per key, all available as a burst.
// Override with: RATELIMIT_LOGIN_REQUESTS, RATELIMIT_LOGIN_WINDOW_SEC, RATELIMIT_LOGIN_BURST
var LoginLimit = Config{
	RequestsPerWindow: 5,
	Window:            time.Minute,
	Burst:             5,
}

// ParseFromEnv reads rate limit configuration from environment variables.
// Environment variables follow the pattern: RATELIMIT_{prefix}_{field}
// Invalid or non-positive values keep the corresponding default.
func ParseFromEnv(prefix string, defaultConfig Config) Config {
	config := defaultConfig

	if val := os.Getenv("RATELIMIT_" + prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv("RATELIMIT_" + prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// Limiter manages one token bucket per key.
type Limiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
	cleanupEach time.Duration
}

// New builds a Limiter from cfg. Non-positive fields take their value from
// LoginLimit.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = LoginLimit.RequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = LoginLimit.Window
	}
	if cfg.Burst <= 0 {
		cfg.Burst = LoginLimit.Burst
	}

	perSecond := float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()
	return &Limiter{
		rate:        rate.Limit(perSecond),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
		cleanupEach: 5 * time.Minute,
	}
}

// Allow consumes one token for key. When the bucket is empty it returns
// false and how long until the next token is available.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	limiter := l.get(key)
	if limiter.Allow() {
		return true, 0
	}

	// Peek at the delay without actually consuming the reservation
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	return false, max(delay, time.Second)
}

// Reset forgets the bucket for key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.limiters.Delete(key)
}

func (l *Limiter) get(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	// Sweep before storing so the new bucket is not swept with the idle ones
	l.maybeCleanup()
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters whose buckets are full again, which means they
// have been idle long enough to be indistinguishable from a fresh one.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < l.cleanupEach {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}
