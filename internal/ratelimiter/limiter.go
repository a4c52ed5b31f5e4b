package ratelimiter

import (
	"context"
	"sync"
	"time"

	"github.com/reelhub/publish-queue/internal/domain"
)

// Limits is the pair of ceilings enforced for one platform.
type Limits struct {
	MaxPerHour int `yaml:"max_per_hour"`
	MaxPerDay  int `yaml:"max_per_day"`
}

type window struct {
	limits      Limits
	countHour   int
	countDay    int
	windowStart time.Time
	hourStart   time.Time
}

// Limiter holds one fixed-window counter pair per platform.
//
// Unlike a token bucket, a window admits exactly MaxPerHour dispatches no
// matter how early in the window they happen; the next one waits for the
// window to roll. Counters live in process memory and start from zero on
// restart.
type Limiter struct {
	mu       sync.Mutex
	windows  map[domain.Platform]*window
	limits   map[domain.Platform]Limits
	defaults Limits
	now      func() time.Time
}

// New creates a Limiter. Platforms missing from perPlatform get defaults.
func New(defaults Limits, perPlatform map[domain.Platform]Limits) *Limiter {
	limits := make(map[domain.Platform]Limits, len(perPlatform))
	for p, l := range perPlatform {
		limits[p] = l
	}
	return &Limiter{
		windows:  make(map[domain.Platform]*window),
		limits:   limits,
		defaults: defaults,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// CanDispatch resets elapsed windows and reports whether one more dispatch
// fits under both the hourly and the daily ceiling.
func (l *Limiter) CanDispatch(_ context.Context, p domain.Platform) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.resetLocked(p)
	return w.countHour < w.limits.MaxPerHour && w.countDay < w.limits.MaxPerDay, nil
}

// RecordDispatch counts one successful dispatch. Skipped and failed attempts
// must not be recorded.
func (l *Limiter) RecordDispatch(_ context.Context, p domain.Platform) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.resetLocked(p)
	w.countHour++
	w.countDay++
	return nil
}

// Reservation is a slot taken by Reserve. At is the limiter's clock at the
// time of the reservation.
type Reservation struct {
	Platform domain.Platform
	At       time.Time
}

// Reserve counts one dispatch if it fits under both ceilings, as a single
// step. ok is false when the platform is at its cap; nothing is counted then.
func (l *Limiter) Reserve(_ context.Context, p domain.Platform) (Reservation, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.resetLocked(p)
	if w.countHour >= w.limits.MaxPerHour || w.countDay >= w.limits.MaxPerDay {
		return Reservation{}, false, nil
	}
	w.countHour++
	w.countDay++
	return Reservation{Platform: p, At: l.now()}, true, nil
}

// Release gives back a reservation whose dispatch did not succeed. A window
// that rolled over since the reservation is left alone.
func (l *Limiter) Release(_ context.Context, r Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.resetLocked(r.Platform)
	if !w.hourStart.After(r.At) && w.countHour > 0 {
		w.countHour--
	}
	if !w.windowStart.After(r.At) && w.countDay > 0 {
		w.countDay--
	}
	return nil
}

// ResetIfElapsed applies the two-tier reset for p. Calling it repeatedly
// within the same window has no further effect.
func (l *Limiter) ResetIfElapsed(p domain.Platform) {
	l.mu.Lock()
	l.resetLocked(p)
	l.mu.Unlock()
}

// Exhausted returns the platforms in known that cannot take another dispatch.
func (l *Limiter) Exhausted(ctx context.Context, known []domain.Platform) ([]domain.Platform, error) {
	var out []domain.Platform
	for _, p := range known {
		ok, err := l.CanDispatch(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Snapshot returns the current window of every platform referenced so far.
func (l *Limiter) Snapshot(_ context.Context) (map[domain.Platform]domain.RateWindow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.Platform]domain.RateWindow, len(l.windows))
	for p := range l.windows {
		w := l.resetLocked(p)
		out[p] = domain.RateWindow{
			MaxPerHour:  w.limits.MaxPerHour,
			MaxPerDay:   w.limits.MaxPerDay,
			CountHour:   w.countHour,
			CountDay:    w.countDay,
			WindowStart: w.windowStart,
			HourStart:   w.hourStart,
		}
	}
	return out, nil
}

// resetLocked returns p's window, creating it lazily, after applying the
// daily then the hourly reset. Call with l.mu held.
func (l *Limiter) resetLocked(p domain.Platform) *window {
	now := l.now()
	w, ok := l.windows[p]
	if !ok {
		limits, ok := l.limits[p]
		if !ok {
			limits = l.defaults
		}
		w = &window{limits: limits, windowStart: now, hourStart: now}
		l.windows[p] = w
		return w
	}

	if now.Sub(w.windowStart) >= 24*time.Hour {
		w.countHour = 0
		w.countDay = 0
		w.windowStart = now
		w.hourStart = now
		return w
	}
	if elapsed := now.Sub(w.hourStart); elapsed >= time.Hour {
		w.countHour = 0
		w.hourStart = w.hourStart.Add(elapsed.Truncate(time.Hour))
	}
	return w
}
