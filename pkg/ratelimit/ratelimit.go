package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/atomicdiff/prsplit/pkg/log"
)

// Known hosts get conservative default spacing; GitHub's diff host throttles
// harder than the API host.
var defaultHostIntervals = map[string]time.Duration{
	"api.github.com":                   time.Second,
	"patch-diff.githubusercontent.com": 1600 * time.Millisecond,
}

// lowWater is the remaining-quota level below which fetches pause until the
// quota resets.
const lowWater = 100

// defaultQuotaPause is used when the ledger has no usable reset time.
const defaultQuotaPause = time.Minute

// Limiter paces requests per host and tracks the provider's remaining quota.
// All state is guarded by one mutex so concurrent workers can share it.
type Limiter struct {
	logger   *log.Logger
	interval time.Duration // global override; 0 means per-host defaults

	mu        sync.Mutex
	hosts     map[string]*rate.Limiter
	remaining int
	reset     time.Time
}

// New creates a limiter. secondsBetween overrides the per-host defaults when
// positive; zero keeps the defaults (unknown hosts are then unpaced).
func New(logger *log.Logger, secondsBetween float64) *Limiter {
	return &Limiter{
		logger:    logger,
		interval:  time.Duration(secondsBetween * float64(time.Second)),
		hosts:     make(map[string]*rate.Limiter),
		remaining: 5000, // optimistic until a response tells us otherwise
	}
}

// Wait blocks until a request to host may be issued: first until the quota
// ledger is out of its danger zone, then until the host's minimum interval
// has elapsed. Honors ctx cancellation at every suspension point.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	if pause, seen := l.quotaPause(); pause > 0 {
		l.logger.Warning("Rate limit low (%d remaining) - pausing %s", seen, pause.Round(time.Second))
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	lim := l.limiterFor(host)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// Update records quota metadata reported by a response.
func (l *Limiter) Update(remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remaining = remaining
	l.reset = reset
}

// Remaining reports the last observed quota.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

func (l *Limiter) quotaPause() (time.Duration, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining >= lowWater {
		return 0, l.remaining
	}
	pause := time.Until(l.reset)
	if pause <= 0 || pause > time.Hour {
		pause = defaultQuotaPause
	}
	seen := l.remaining
	// Assume the quota recovered once we have waited out the reset;
	// the next response will correct us if not.
	l.remaining = lowWater
	return pause, seen
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	interval := l.interval
	if interval == 0 {
		interval = defaultHostIntervals[host]
	}
	if interval == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.hosts[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(interval), 1)
		l.hosts[host] = lim
	}
	return lim
}
