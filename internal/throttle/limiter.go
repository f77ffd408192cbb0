package throttle

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter keyed by caller (client IP,
// upstream host)
type Limiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // Maximum requests per window
	window   time.Duration // Time window
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter and starts its cleanup loop. Call Close to
// stop the loop.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Close stops the cleanup loop
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// cleanup removes old entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		now := l.now()
		for key, times := range l.requests {
			valid := l.prune(times, now)
			if len(valid) == 0 {
				delete(l.requests, key)
			} else {
				l.requests[key] = valid
			}
		}
		l.mu.Unlock()
	}
}

func (l *Limiter) prune(times []time.Time, now time.Time) []time.Time {
	var valid []time.Time
	for _, t := range times {
		if now.Sub(t) < l.window {
			valid = append(valid, t)
		}
	}
	return valid
}

// Allow records a request for key and reports whether it fits the window
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.reserve(key)
	return ok
}

// reserve records a request when allowed; otherwise it returns how long until
// the oldest request leaves the window
func (l *Limiter) reserve(key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.prune(l.requests[key], now)

	if len(valid) >= l.limit {
		l.requests[key] = valid
		return false, l.window - now.Sub(valid[0])
	}

	l.requests[key] = append(valid, now)
	return true, 0
}

// Wait blocks until a request for key is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		ok, wait := l.reserve(key)
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
