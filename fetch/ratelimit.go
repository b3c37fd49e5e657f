package fetch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrAdmissionTimeout is returned when a caller's max wait elapses before the
// limiter admits it. The request is never dropped silently.
var ErrAdmissionTimeout = errors.New("rate limiter: max wait exceeded")

// Gate admits requests. Acquire blocks until the request is admitted; the
// admission is accounted against every bound in the same step, so concurrent
// callers cannot both slip under a cap they jointly exceed.
type Gate interface {
	Acquire(ctx context.Context, maxWait time.Duration) error
}

// Limiter enforces per-minute and per-hour request caps plus a minimum
// inter-request delay with a small burst allowance.
type Limiter struct {
	mu sync.Mutex

	maxPerMinute int
	maxPerHour   int
	minDelay     time.Duration
	burst        int

	tokens     float64
	lastRefill time.Time
	history    []time.Time // admitted request times, pruned to the hour window

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewLimiter(maxPerMinute, maxPerHour int, minDelay time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		maxPerMinute: maxPerMinute,
		maxPerHour:   maxPerHour,
		minDelay:     minDelay,
		burst:        burst,
		tokens:       float64(burst),
		now:          time.Now,
		sleep:        sleepCtx,
	}
	l.lastRefill = l.now()
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acquire blocks until the next request would satisfy every bound, or fails
// with ErrAdmissionTimeout once maxWait has elapsed.
func (l *Limiter) Acquire(ctx context.Context, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)

	for {
		admitted, wait := l.reserve()
		if admitted {
			return nil
		}
		if l.now().Add(wait).After(deadline) {
			return ErrAdmissionTimeout
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// reserve either admits the request and records it against every bound, or
// returns how long to wait before trying again. Admission and accounting
// share one lock hold; two callers waking at the same window boundary see
// each other's reservations.
func (l *Limiter) reserve() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.refill(now)
	l.prune(now)

	var wait time.Duration

	if l.minDelay > 0 && l.tokens < 1 {
		w := time.Duration((1 - l.tokens) * float64(l.minDelay))
		if w > wait {
			wait = w
		}
	}

	if l.maxPerMinute > 0 {
		if w := l.windowWait(now, time.Minute, l.maxPerMinute); w > wait {
			wait = w
		}
	}
	if l.maxPerHour > 0 {
		if w := l.windowWait(now, time.Hour, l.maxPerHour); w > wait {
			wait = w
		}
	}

	if wait > 0 {
		return false, wait
	}

	if l.tokens >= 1 {
		l.tokens--
	} else {
		l.tokens = 0
	}
	l.history = append(l.history, now)
	return true, 0
}

// windowWait returns how long until the request count inside the trailing
// window drops below the cap.
func (l *Limiter) windowWait(now time.Time, window time.Duration, limit int) time.Duration {
	cutoff := now.Add(-window)
	inWindow := 0
	var oldest time.Time
	for _, t := range l.history {
		if t.After(cutoff) {
			if inWindow == 0 {
				oldest = t
			}
			inWindow++
		}
	}
	if inWindow < limit {
		return 0
	}
	return oldest.Add(window).Sub(now)
}

func (l *Limiter) refill(now time.Time) {
	if l.minDelay <= 0 {
		l.tokens = float64(l.burst)
		return
	}
	elapsed := now.Sub(l.lastRefill)
	l.lastRefill = now
	l.tokens += float64(elapsed) / float64(l.minDelay)
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for ; i < len(l.history); i++ {
		if l.history[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.history = append(l.history[:0], l.history[i:]...)
	}
}

// FixedDelayGate is the fallback admission gate when the limiter is disabled:
// a plain minimum delay between consecutive requests.
type FixedDelayGate struct {
	mu       sync.Mutex
	minDelay time.Duration
	last     time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

func NewFixedDelayGate(minDelay time.Duration) *FixedDelayGate {
	return &FixedDelayGate{
		minDelay: minDelay,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func (g *FixedDelayGate) Acquire(ctx context.Context, maxWait time.Duration) error {
	deadline := g.now().Add(maxWait)

	for {
		g.mu.Lock()
		now := g.now()
		wait := g.minDelay - now.Sub(g.last)
		if wait <= 0 {
			g.last = now
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		if now.Add(wait).After(deadline) {
			return ErrAdmissionTimeout
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
