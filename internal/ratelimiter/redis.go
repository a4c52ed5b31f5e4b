package ratelimiter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reelhub/publish-queue/internal/domain"
)

// resetPrelude applies the daily-then-hourly reset to KEYS[1] at ARGV[1] (unix ms).
// Every script below starts with it so the reset and the read or write that
// follows happen atomically.
const resetPrelude = `
local key  = KEYS[1]
local now  = tonumber(ARGV[1])
local hour = 3600000
local day  = 86400000
local ws = tonumber(redis.call("HGET", key, "window_start"))
if (not ws) or (now - ws >= day) then
  redis.call("HSET", key, "window_start", now, "hour_start", now, "count_hour", 0, "count_day", 0)
else
  local hs = tonumber(redis.call("HGET", key, "hour_start"))
  if now - hs >= hour then
    redis.call("HSET", key, "hour_start", hs + math.floor((now - hs) / hour) * hour, "count_hour", 0)
  end
end
redis.call("PEXPIRE", key, 2 * day)
`

var canDispatchScript = redis.NewScript(resetPrelude + `
local v = redis.call("HMGET", key, "count_hour", "count_day")
if tonumber(v[1]) < tonumber(ARGV[2]) and tonumber(v[2]) < tonumber(ARGV[3]) then
  return 1
end
return 0
`)

var recordScript = redis.NewScript(resetPrelude + `
redis.call("HINCRBY", key, "count_day", 1)
return redis.call("HINCRBY", key, "count_hour", 1)
`)

// reserveScript checks both ceilings and increments in the same call, so
// schedulers sharing the key can never admit more than the cap between them.
var reserveScript = redis.NewScript(resetPrelude + `
local v = redis.call("HMGET", key, "count_hour", "count_day")
if tonumber(v[1]) < tonumber(ARGV[2]) and tonumber(v[2]) < tonumber(ARGV[3]) then
  redis.call("HINCRBY", key, "count_hour", 1)
  redis.call("HINCRBY", key, "count_day", 1)
  return 1
end
return 0
`)

// releaseScript refunds a reservation taken at ARGV[2], skipping any window
// that has rolled over since.
var releaseScript = redis.NewScript(resetPrelude + `
local at = tonumber(ARGV[2])
local v = redis.call("HMGET", key, "hour_start", "count_hour", "window_start", "count_day")
if tonumber(v[1]) <= at and tonumber(v[2]) > 0 then
  redis.call("HINCRBY", key, "count_hour", -1)
end
if tonumber(v[3]) <= at and tonumber(v[4]) > 0 then
  redis.call("HINCRBY", key, "count_day", -1)
end
return 1
`)

var snapshotScript = redis.NewScript(resetPrelude + `
local v = redis.call("HMGET", key, "count_hour", "count_day", "window_start", "hour_start")
return {tonumber(v[1]), tonumber(v[2]), tonumber(v[3]), tonumber(v[4])}
`)

// RedisLimiter keeps the same fixed windows as Limiter in Redis hashes so that
// several scheduler processes share one set of counters.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	limits   map[domain.Platform]Limits
	defaults Limits
	now      func() time.Time

	mu   sync.Mutex
	seen map[domain.Platform]struct{}
}

// NewRedis creates a RedisLimiter storing one hash per platform under prefix.
func NewRedis(client redis.UniversalClient, prefix string, defaults Limits, perPlatform map[domain.Platform]Limits) *RedisLimiter {
	limits := make(map[domain.Platform]Limits, len(perPlatform))
	seen := make(map[domain.Platform]struct{}, len(perPlatform))
	for p, l := range perPlatform {
		limits[p] = l
		seen[p] = struct{}{}
	}
	if prefix == "" {
		prefix = "publishq:ratelimit"
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		limits:   limits,
		defaults: defaults,
		now:      time.Now,
		seen:     seen,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	r.now = now
	return r
}

func (r *RedisLimiter) key(p domain.Platform) string {
	return r.prefix + ":" + string(p)
}

func (r *RedisLimiter) limitsFor(p domain.Platform) Limits {
	r.mu.Lock()
	r.seen[p] = struct{}{}
	r.mu.Unlock()
	if l, ok := r.limits[p]; ok {
		return l
	}
	return r.defaults
}

func (r *RedisLimiter) CanDispatch(ctx context.Context, p domain.Platform) (bool, error) {
	l := r.limitsFor(p)
	n, err := canDispatchScript.Run(ctx, r.client, []string{r.key(p)},
		r.now().UnixMilli(), l.MaxPerHour, l.MaxPerDay).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check %s: %w", p, err)
	}
	return n == 1, nil
}

func (r *RedisLimiter) RecordDispatch(ctx context.Context, p domain.Platform) error {
	r.limitsFor(p)
	if err := recordScript.Run(ctx, r.client, []string{r.key(p)}, r.now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("rate limit record %s: %w", p, err)
	}
	return nil
}

func (r *RedisLimiter) Reserve(ctx context.Context, p domain.Platform) (Reservation, bool, error) {
	l := r.limitsFor(p)
	now := r.now()
	n, err := reserveScript.Run(ctx, r.client, []string{r.key(p)},
		now.UnixMilli(), l.MaxPerHour, l.MaxPerDay).Int()
	if err != nil {
		return Reservation{}, false, fmt.Errorf("rate limit reserve %s: %w", p, err)
	}
	if n != 1 {
		return Reservation{}, false, nil
	}
	return Reservation{Platform: p, At: now}, true, nil
}

func (r *RedisLimiter) Release(ctx context.Context, res Reservation) error {
	r.limitsFor(res.Platform)
	err := releaseScript.Run(ctx, r.client, []string{r.key(res.Platform)},
		r.now().UnixMilli(), res.At.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("rate limit release %s: %w", res.Platform, err)
	}
	return nil
}

func (r *RedisLimiter) Exhausted(ctx context.Context, known []domain.Platform) ([]domain.Platform, error) {
	var out []domain.Platform
	for _, p := range known {
		ok, err := r.CanDispatch(ctx, p)
		if err != nil {
			return nil, err
		}
		if !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Snapshot reports configured platforms and any platform referenced by this process.
func (r *RedisLimiter) Snapshot(ctx context.Context) (map[domain.Platform]domain.RateWindow, error) {
	r.mu.Lock()
	platforms := make([]domain.Platform, 0, len(r.seen))
	for p := range r.seen {
		platforms = append(platforms, p)
	}
	r.mu.Unlock()
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	out := make(map[domain.Platform]domain.RateWindow, len(platforms))
	for _, p := range platforms {
		l := r.limitsFor(p)
		v, err := snapshotScript.Run(ctx, r.client, []string{r.key(p)}, r.now().UnixMilli()).Int64Slice()
		if err != nil {
			return nil, fmt.Errorf("rate limit snapshot %s: %w", p, err)
		}
		if len(v) != 4 {
			return nil, fmt.Errorf("rate limit snapshot %s: unexpected reply length %d", p, len(v))
		}
		out[p] = domain.RateWindow{
			MaxPerHour:  l.MaxPerHour,
			MaxPerDay:   l.MaxPerDay,
			CountHour:   int(v[0]),
			CountDay:    int(v[1]),
			WindowStart: time.UnixMilli(v[2]).UTC(),
			HourStart:   time.UnixMilli(v[3]).UTC(),
		}
	}
	return out, nil
}
