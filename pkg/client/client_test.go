package client

import (
	"bettergist/pkg/domain"
	"bettergist/svc/challenge"
	"bettergist/svc/editor"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func fakeServer(t *testing.T, mode string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/challenge", func(w http.ResponseWriter, r *http.Request) {
		p := challenge.Prompt{Mode: mode}
		if mode == challenge.ModeArithmetic {
			p.Question, p.Token, p.A, p.B = "What is 2 + 3?", "tok", 2, 3
		}
		json.NewEncoder(w).Encode(p)
	})
	mux.HandleFunc("POST /api/snippets", func(w http.ResponseWriter, r *http.Request) {
		var req shareReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if mode == challenge.ModeArithmetic && (req.Challenge.Token != "tok" || req.Challenge.Answer != "5") {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "Incorrect answer. Please try again."})
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(shareResp{ID: "abcdefghij", URL: "http://gist.test/snippet/abcdefghij", Remaining: 4})
	})
	mux.HandleFunc("GET /api/snippets/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "abcdefghij" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "snippet not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "abcdefghij",
			"files": []domain.File{{Name: "a.js", Content: "let x=1"}},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "gist.test", "ftp://gist.test", "http://"} {
		if _, err := New(u, nil); err == nil {
			t.Errorf("New(%q) should fail", u)
		}
	}
}

func TestGet(t *testing.T) {
	ts := fakeServer(t, challenge.ModeNone)
	c, err := New(ts.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	files, err := c.Get(context.Background(), "abcdefghij")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(files) != 1 || files[0].Content != "let x=1" {
		t.Errorf("files = %+v", files)
	}
	_, err = c.Get(context.Background(), "zzzzzzzzzz")
	e, ok := domain.AsErr(err)
	if !ok || e.Status != http.StatusNotFound || e.Msg != "snippet not found" {
		t.Errorf("err = %v", err)
	}
}

func TestSessionShareThroughGate(t *testing.T) {
	ts := fakeServer(t, challenge.ModeArithmetic)
	c, err := New(ts.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	var prompt, clip bytes.Buffer
	gate := &PromptGate{Client: c, In: strings.NewReader("5\n"), Out: &prompt}
	s := editor.NewSession(c, WriterClipboard{W: &clip},
		editor.WithGate(gate),
		editor.WithRevertAfter(time.Hour),
		editor.WithFiles([]domain.File{{Name: "a.js", Content: "let x=1"}}),
	)
	link, err := s.Share(context.Background())
	if err != nil {
		t.Fatalf("Share failed: %v", err)
	}
	if link != "http://gist.test/snippet/abcdefghij" {
		t.Errorf("link = %q", link)
	}
	if !strings.Contains(prompt.String(), "What is 2 + 3?") {
		t.Errorf("prompt = %q", prompt.String())
	}
	if strings.TrimSpace(clip.String()) != link {
		t.Errorf("clipboard = %q", clip.String())
	}
	if st, _ := s.ShareStatus(); st != editor.StatusShared {
		t.Errorf("status = %v, want shared", st)
	}
}

func TestSessionShareWrongAnswer(t *testing.T) {
	ts := fakeServer(t, challenge.ModeArithmetic)
	c, _ := New(ts.URL, nil)
	gate := &PromptGate{Client: c, Answer: "7"}
	s := editor.NewSession(c, WriterClipboard{W: &bytes.Buffer{}},
		editor.WithGate(gate), editor.WithRevertAfter(time.Hour))
	_, err := s.Share(context.Background())
	if err == nil {
		t.Fatal("expected share to fail")
	}
	st, msg := s.ShareStatus()
	if st != editor.StatusError || msg != "Incorrect answer. Please try again." {
		t.Errorf("status = %v %q", st, msg)
	}
}

func TestGateRefusesRecaptcha(t *testing.T) {
	ts := fakeServer(t, challenge.ModeRecaptcha)
	c, _ := New(ts.URL, nil)
	_, err := (&PromptGate{Client: c}).Solve(context.Background())
	if err == nil {
		t.Fatal("expected error for recaptcha mode")
	}
	var de *domain.Err
	if errors.As(err, &de) {
		t.Errorf("recaptcha refusal is local, got server error %v", de)
	}
}
