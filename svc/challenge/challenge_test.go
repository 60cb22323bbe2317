package challenge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func newTestArithmetic(t *testing.T) (*Arithmetic, *time.Time) {
	t.Helper()
	a, err := NewArithmetic([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }
	return a, &now
}

func TestArithmeticPrompt(t *testing.T) {
	a, _ := newTestArithmetic(t)
	for i := 0; i < 200; i++ {
		p, err := a.Prompt()
		if err != nil {
			t.Fatal(err)
		}
		if p.A < 1 || p.A > 10 || p.B < 1 || p.B > 10 {
			t.Fatalf("operands out of range: %d, %d", p.A, p.B)
		}
		if p.Question != fmt.Sprintf("What is %d + %d?", p.A, p.B) {
			t.Errorf("question = %q", p.Question)
		}
	}
}

func TestArithmeticVerify(t *testing.T) {
	a, _ := newTestArithmetic(t)
	p, _ := a.Prompt()
	right := strconv.Itoa(p.A + p.B)
	wrong := strconv.Itoa(p.A + p.B + 1)
	tests := []struct {
		name    string
		proof   Proof
		want    bool
		wantErr error
	}{
		{"correct", Proof{Token: p.Token, Answer: right}, true, nil},
		{"correct with spaces", Proof{Token: p.Token, Answer: " " + right + " "}, true, nil},
		{"wrong", Proof{Token: p.Token, Answer: wrong}, false, ErrWrongAnswer},
		{"not a number", Proof{Token: p.Token, Answer: "seven"}, false, ErrWrongAnswer},
		{"honeypot beats correct answer", Proof{Token: p.Token, Answer: right, Honeypot: "http://spam"}, false, ErrHoneypot},
		{"forged token", Proof{Token: "AAAA" + p.Token[4:], Answer: right}, false, ErrChallengeInvalid},
		{"garbage token", Proof{Token: "%%%", Answer: right}, false, ErrChallengeInvalid},
		{"empty token", Proof{Answer: right}, false, ErrChallengeInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := a.Verify(context.Background(), tt.proof)
			if ok != tt.want {
				t.Errorf("Verify = %v, want %v", ok, tt.want)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestArithmeticWrongAnswerMessage(t *testing.T) {
	if ErrWrongAnswer.Msg != "Incorrect answer. Please try again." {
		t.Errorf("message = %q", ErrWrongAnswer.Msg)
	}
}

func TestArithmeticExpiry(t *testing.T) {
	a, now := newTestArithmetic(t)
	p, _ := a.Prompt()
	*now = now.Add(time.Minute)
	ok, err := a.Verify(context.Background(), Proof{Token: p.Token, Answer: strconv.Itoa(p.A + p.B)})
	if ok || !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("Verify = %v, %v; want expired", ok, err)
	}
}

func TestArithmeticTokensDoNotCrossKeys(t *testing.T) {
	a, _ := newTestArithmetic(t)
	other, err := NewArithmetic(nil, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := other.Prompt()
	ok, err := a.Verify(context.Background(), Proof{Token: p.Token, Answer: strconv.Itoa(p.A + p.B)})
	if ok || !errors.Is(err, ErrChallengeInvalid) {
		t.Errorf("token from another key accepted: %v, %v", ok, err)
	}
}

type memTracker struct {
	seen map[string]bool
	err  error
}

func (m *memTracker) MarkUsed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if ttl <= 0 {
		return false, errors.New("non-positive ttl")
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func TestArithmeticReplayGuard(t *testing.T) {
	a, _ := newTestArithmetic(t)
	a.WithReplayGuard(&memTracker{seen: map[string]bool{}})
	p, _ := a.Prompt()
	proof := Proof{Token: p.Token, Answer: strconv.Itoa(p.A + p.B)}
	if ok, err := a.Verify(context.Background(), proof); !ok {
		t.Fatalf("first use rejected: %v", err)
	}
	ok, err := a.Verify(context.Background(), proof)
	if ok || !errors.Is(err, ErrChallengeUsed) {
		t.Errorf("replay = %v, %v; want ErrChallengeUsed", ok, err)
	}
}

func TestArithmeticReplayGuardFailsOpen(t *testing.T) {
	a, _ := newTestArithmetic(t)
	a.WithReplayGuard(&memTracker{err: errors.New("redis down")})
	p, _ := a.Prompt()
	ok, err := a.Verify(context.Background(), Proof{Token: p.Token, Answer: strconv.Itoa(p.A + p.B)})
	if !ok || err != nil {
		t.Errorf("Verify = %v, %v; want accepted", ok, err)
	}
}

func TestArithmeticCheckDoesNotSpend(t *testing.T) {
	a, now := newTestArithmetic(t)
	a.WithReplayGuard(&memTracker{seen: map[string]bool{}})
	p, _ := a.Prompt()
	proof := Proof{Token: p.Token, Answer: strconv.Itoa(p.A + p.B)}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if ok, err := a.Check(ctx, proof); !ok {
			t.Fatalf("Check %d rejected: %v", i+1, err)
		}
	}
	if ok, err := a.Check(ctx, Proof{Token: p.Token, Answer: "x"}); ok || !errors.Is(err, ErrWrongAnswer) {
		t.Errorf("Check with wrong answer = %v, %v", ok, err)
	}
	*now = now.Add(time.Minute - time.Millisecond)
	if ok, err := a.Redeem(ctx, proof); !ok {
		t.Fatalf("Redeem just before the deadline rejected: %v", err)
	}
	if ok, err := a.Redeem(ctx, proof); ok || !errors.Is(err, ErrChallengeUsed) {
		t.Errorf("second Redeem = %v, %v; want ErrChallengeUsed", ok, err)
	}
}

func TestRecaptchaEmptyTokenSkipsNetwork(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	r := NewRecaptcha("site", "secret", srv.URL, srv.Client())
	ok, err := r.Verify(context.Background(), Proof{})
	if ok || !errors.Is(err, ErrTokenMissing) {
		t.Errorf("Verify = %v, %v; want ErrTokenMissing", ok, err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("empty token must not reach the provider")
	}
}

func TestRecaptchaVerify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "s3cret" {
			t.Errorf("secret = %q", r.PostForm.Get("secret"))
		}
		if r.PostForm.Get("remoteip") != "203.0.113.1" {
			t.Errorf("remoteip = %q", r.PostForm.Get("remoteip"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("response") == "good" {
			fmt.Fprint(w, `{"success":true,"hostname":"localhost"}`)
			return
		}
		fmt.Fprint(w, `{"success":false,"error-codes":["invalid-input-response"]}`)
	}))
	defer srv.Close()
	r := NewRecaptcha("site", "s3cret", srv.URL, srv.Client())
	ok, err := r.Verify(context.Background(), Proof{Token: "good", RemoteIP: "203.0.113.1"})
	if !ok || err != nil {
		t.Errorf("good token = %v, %v", ok, err)
	}
	ok, err = r.Verify(context.Background(), Proof{Token: "bad", RemoteIP: "203.0.113.1"})
	if ok || !errors.Is(err, ErrCaptchaRejected) {
		t.Errorf("bad token = %v, %v", ok, err)
	}
}

func TestRecaptchaProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	r := NewRecaptcha("site", "s", srv.URL, srv.Client())
	ok, err := r.Verify(context.Background(), Proof{Token: "t"})
	if ok || err == nil {
		t.Fatal("provider failure should be an error")
	}
	if errors.Is(err, ErrCaptchaRejected) {
		t.Error("transport failure must not look like a rejection")
	}
}

func TestNoneAlwaysVerifies(t *testing.T) {
	ok, err := None{}.Verify(context.Background(), Proof{})
	if !ok || err != nil {
		t.Errorf("None = %v, %v", ok, err)
	}
}
