package lim

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type failingStore struct{}

func (failingStore) FixedWindow(context.Context, string, int, time.Duration) (int, bool, time.Duration, error) {
	return 0, false, 0, errors.New("dial tcp: connection refused")
}

type recordingStore struct {
	*MemoryCounter
	keys []string
}

func (r *recordingStore) FixedWindow(ctx context.Context, key string, ceiling int, window time.Duration) (int, bool, time.Duration, error) {
	r.keys = append(r.keys, key)
	return r.MemoryCounter.FixedWindow(ctx, key, ceiling, window)
}

func TestShareLimiterSequence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewShareLimiter(NewMemoryCounterWithClock(clock), 5, time.Minute)
	l.now = clock
	ctx := context.Background()
	wantRemaining := []int{4, 3, 2, 1, 0}
	for i, want := range wantRemaining {
		res := l.Check(ctx, "203.0.113.7")
		if !res.Allowed {
			t.Fatalf("attempt %d denied", i+1)
		}
		if res.Remaining != want {
			t.Errorf("attempt %d remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}
	res := l.Check(ctx, "203.0.113.7")
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("6th attempt = %+v, want denied with 0 remaining", res)
	}
	if got := res.RetryAfter(now); got != time.Minute {
		t.Errorf("RetryAfter = %v, want 1m", got)
	}
}

func TestShareLimiterDeniedDoesNotExtendWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	l := NewShareLimiter(NewMemoryCounterWithClock(clock), 2, time.Minute)
	l.now = clock
	ctx := context.Background()
	l.Check(ctx, "c")
	l.Check(ctx, "c")
	now = now.Add(50 * time.Second)
	if l.Check(ctx, "c").Allowed {
		t.Fatal("third attempt should be denied")
	}
	now = now.Add(10 * time.Second)
	res := l.Check(ctx, "c")
	if !res.Allowed || res.Remaining != 1 {
		t.Errorf("window should reset 60s after the first attempt, got %+v", res)
	}
}

func TestShareLimiterSeparateClients(t *testing.T) {
	l := NewShareLimiter(NewMemoryCounter(), 1, time.Minute)
	ctx := context.Background()
	if !l.Check(ctx, "a").Allowed || !l.Check(ctx, "b").Allowed {
		t.Fatal("first attempt per client should pass")
	}
	if l.Check(ctx, "a").Allowed {
		t.Error("client a should be limited")
	}
}

func TestShareLimiterKeyFormat(t *testing.T) {
	rs := &recordingStore{MemoryCounter: NewMemoryCounter()}
	l := NewShareLimiter(rs, 5, time.Minute)
	l.Check(context.Background(), "198.51.100.1")
	if len(rs.keys) != 1 || rs.keys[0] != "rate-limit:198.51.100.1" {
		t.Errorf("keys = %v", rs.keys)
	}
}

func TestShareLimiterFailsOpen(t *testing.T) {
	l := NewShareLimiter(failingStore{}, 5, time.Minute)
	res := l.Check(context.Background(), "x")
	if !res.Allowed || res.Remaining != 1 || !res.FailOpen {
		t.Errorf("result = %+v, want allowed with remaining 1", res)
	}
}

func TestMemoryCounterConcurrent(t *testing.T) {
	m := NewMemoryCounter()
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _, err := m.FixedWindow(ctx, "k", 5, time.Minute)
			if err == nil && ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 5 {
		t.Errorf("allowed = %d, want exactly 5", allowed)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name, xff, want string
	}{
		{"no header", "", "anonymous"},
		{"single", "203.0.113.9", "203.0.113.9"},
		{"chain", "203.0.113.9, 10.0.0.1, 10.0.0.2", "203.0.113.9"},
		{"padded", "  198.51.100.4 ,10.0.0.1", "198.51.100.4"},
		{"empty first", " ,10.0.0.1", "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/snippets", nil)
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := ClientID(r); got != tt.want {
				t.Errorf("ClientID = %q, want %q", got, tt.want)
			}
		})
	}
}
