package lim

import (
	"bettergist/metrics"
	"bettergist/svc/util"
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	KeyPrefix       = "rate-limit:"
	AnonymousClient = "anonymous"
)

// CounterStore performs one atomic fixed-window step for key: create at 1
// with a TTL of window, increment while below ceiling, refuse otherwise.
type CounterStore interface {
	FixedWindow(ctx context.Context, key string, ceiling int, window time.Duration) (count int, allowed bool, ttl time.Duration, err error)
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	FailOpen  bool
}

func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed {
		return 0
	}
	d := r.Reset.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

type ShareLimiter struct {
	store   CounterStore
	ceiling int
	window  time.Duration
	now     func() time.Time
}

func NewShareLimiter(store CounterStore, ceiling int, window time.Duration) *ShareLimiter {
	return &ShareLimiter{store: store, ceiling: ceiling, window: window, now: time.Now}
}
func (l *ShareLimiter) Limit() int {
	return l.ceiling
}

// Check counts one share attempt for identifier. A failing counter store
// lets the attempt through with Remaining=1.
func (l *ShareLimiter) Check(ctx context.Context, identifier string) Result {
	now := l.now()
	count, allowed, ttl, err := l.store.FixedWindow(ctx, KeyPrefix+identifier, l.ceiling, l.window)
	if err != nil {
		metrics.LimiterFailOpen.Inc()
		util.Warn().Err(err).Str("client", util.RedactIP(identifier)).Msg("share counter unavailable, failing open")
		return Result{Allowed: true, Limit: l.ceiling, Remaining: 1, Reset: now.Add(l.window), FailOpen: true}
	}
	if ttl <= 0 {
		ttl = l.window
	}
	res := Result{Allowed: allowed, Limit: l.ceiling, Reset: now.Add(ttl)}
	if allowed {
		res.Remaining = l.ceiling - count
		if res.Remaining < 0 {
			res.Remaining = 0
		}
	} else {
		metrics.RateLimitHits.WithLabelValues("share").Inc()
	}
	return res
}

// ClientID is the first X-Forwarded-For entry, or AnonymousClient. Every
// request without the header shares one counter.
func ClientID(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return AnonymousClient
	}
	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if first == "" {
		return AnonymousClient
	}
	return first
}
