package lim

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestReadLimiterBurst(t *testing.T) {
	l := newReadLimiter(60, 3)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		if !l.Allow("a").Allowed {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if l.Allow("a").Allowed {
		t.Error("request beyond burst should be denied")
	}
	if !l.Allow("b").Allowed {
		t.Error("other clients have their own bucket")
	}
	now = now.Add(time.Second)
	if !l.Allow("a").Allowed {
		t.Error("bucket should refill at rpm/60 per second")
	}
}

func TestReadLimiterAdaptiveMode(t *testing.T) {
	l := newReadLimiter(60, 4)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	for i := 0; i < 20; i++ {
		l.RecordRequest()
		l.RecordError()
	}
	l.detector.AdvanceWindow()
	if !l.isAdaptiveMode() {
		t.Fatal("error spike should enable adaptive mode")
	}
	allowed := 0
	for i := 0; i < 4; i++ {
		if l.Allow("fresh").Allowed {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("adaptive burst allowed %d, want 2", allowed)
	}
	now = now.Add(adaptiveFor + time.Second)
	if l.isAdaptiveMode() {
		t.Error("adaptive mode should expire")
	}
}

func TestReadLimiterEviction(t *testing.T) {
	l := newReadLimiter(60, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("old")
	now = now.Add(limiterTTL + time.Minute)
	l.Allow("new")
	if n := l.evictExpired(); n != 1 {
		t.Errorf("evicted %d, want 1", n)
	}
}

func TestAnomalyDetectorQuiet(t *testing.T) {
	fired := false
	d := NewAnomalyDetector(func() { fired = true })
	for i := 0; i < 100; i++ {
		d.RecordRequest()
	}
	d.RecordError()
	if rate := d.AdvanceWindow(); rate != 1.0 {
		t.Errorf("error rate = %v, want 1", rate)
	}
	if fired {
		t.Error("1% error rate should not trigger")
	}
}

func TestRemoteKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/snippet/abc", nil)
	r.RemoteAddr = "192.0.2.10:4321"
	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	if got := RemoteKey(r, false); got != "192.0.2.10" {
		t.Errorf("untrusted = %q", got)
	}
	if got := RemoteKey(r, true); got != "203.0.113.5" {
		t.Errorf("trusted = %q", got)
	}
}
