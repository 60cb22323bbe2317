package lim

import (
	"bettergist/metrics"
	"bettergist/svc/util"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
	adaptiveFor     = 60 * time.Second
)

// ReadLimiter is a per-client token bucket for the read routes. While the
// anomaly detector reports an error spike, new buckets get half the rate.
type ReadLimiter struct {
	detector          *AnomalyDetector
	adaptiveModeUntil int64
	limiters          map[string]*limiterEntry
	mu                sync.Mutex
	rpm               int
	burst             int
	quit              chan struct{}
	stopOnce          sync.Once
	evictionSem       chan struct{}
	now               func() time.Time
}
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func NewReadLimiter(rpm, burst int) *ReadLimiter {
	l := newReadLimiter(rpm, burst)
	l.detector.Start()
	go l.cleanupLoop()
	return l
}
func newReadLimiter(rpm, burst int) *ReadLimiter {
	l := &ReadLimiter{
		limiters:    make(map[string]*limiterEntry),
		rpm:         rpm,
		burst:       burst,
		quit:        make(chan struct{}),
		evictionSem: make(chan struct{}, 1),
		now:         time.Now,
	}
	l.detector = NewAnomalyDetector(l.TriggerAdaptiveMode)
	return l
}
func (l *ReadLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpired()
		case <-l.quit:
			return
		}
	}
}
func (l *ReadLimiter) evictExpired() int {
	now := l.now()
	l.mu.Lock()
	evicted := 0
	for key, entry := range l.limiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.limiters, key)
			evicted++
		}
	}
	remaining := len(l.limiters)
	l.mu.Unlock()
	if evicted > 0 {
		util.Debug().Int("evicted", evicted).Int("remaining", remaining).Msg("read limiter cleanup")
	}
	return evicted
}
func (l *ReadLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
		l.detector.Stop()
	})
}
func (l *ReadLimiter) TriggerAdaptiveMode() {
	atomic.StoreInt64(&l.adaptiveModeUntil, l.now().Add(adaptiveFor).Unix())
}
func (l *ReadLimiter) isAdaptiveMode() bool {
	return l.now().Unix() < atomic.LoadInt64(&l.adaptiveModeUntil)
}
func (l *ReadLimiter) RecordRequest() {
	l.detector.RecordRequest()
}
func (l *ReadLimiter) RecordError() {
	l.detector.RecordError()
}
func (l *ReadLimiter) Allow(key string) Result {
	now := l.now()
	rpm, burst := l.rpm, l.burst
	if l.isAdaptiveMode() {
		rpm, burst = max(rpm/2, 1), max(burst/2, 1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) >= (maxLimiters*9)/10 {
		if toEvict := len(l.limiters) / 10; toEvict > 0 {
			select {
			case l.evictionSem <- struct{}{}:
				go func() {
					defer func() { <-l.evictionSem }()
					l.evictOldest(toEvict)
				}()
			default:
			}
		}
	}
	entry, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxLimiters {
			util.Warn().Int("limiters", len(l.limiters)).Msg("read limiter at capacity, rejecting request")
			metrics.RateLimitHits.WithLabelValues("read").Inc()
			return Result{Limit: rpm, Reset: now.Add(time.Minute)}
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = now
	if !entry.limiter.AllowN(now, 1) {
		metrics.RateLimitHits.WithLabelValues("read").Inc()
		return Result{Limit: rpm, Reset: now.Add(time.Minute / time.Duration(max(rpm, 1)))}
	}
	return Result{
		Allowed:   true,
		Limit:     rpm,
		Remaining: int(entry.limiter.TokensAt(now)),
		Reset:     now.Add(time.Minute),
	}
}
func (l *ReadLimiter) evictOldest(count int) {
	type kv struct {
		key        string
		lastAccess time.Time
	}
	l.mu.Lock()
	entries := make([]kv, 0, len(l.limiters))
	for k, v := range l.limiters {
		entries = append(entries, kv{k, v.lastAccess})
	}
	l.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < count && i < len(entries); i++ {
		delete(l.limiters, entries[i].key)
	}
}

// RemoteKey picks the read-limiter key: the forwarded client when proxy
// headers are trusted, the socket peer otherwise.
func RemoteKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if id := ClientID(r); id != AnonymousClient {
			return id
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
