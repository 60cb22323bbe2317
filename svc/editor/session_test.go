package editor

import (
	"bettergist/pkg/domain"
	"bettergist/svc/challenge"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type fakeTimer struct {
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

// fire runs timer i even if it was stopped, as a real timer may already
// have been in flight.
func (c *fakeClock) fire(i int) {
	c.mu.Lock()
	t := c.timers[i]
	c.mu.Unlock()
	t.f()
}

type memClipboard struct{ text string }

func (m *memClipboard) WriteText(s string) error {
	m.text = s
	return nil
}

type sharerFunc func(ctx context.Context, files []domain.File, proof challenge.Proof) (string, error)

func (f sharerFunc) Share(ctx context.Context, files []domain.File, proof challenge.Proof) (string, error) {
	return f(ctx, files, proof)
}

type gateFunc func(ctx context.Context) (challenge.Proof, error)

func (f gateFunc) Solve(ctx context.Context) (challenge.Proof, error) { return f(ctx) }

func TestDeleteLastFileRejected(t *testing.T) {
	s := NewSession(nil, nil)
	if err := s.Delete(0); !errors.Is(err, ErrLastFile) {
		t.Fatalf("err = %v, want ErrLastFile", err)
	}
	if len(s.Files()) != 1 {
		t.Error("file count must stay at 1")
	}
}

func TestFileOperations(t *testing.T) {
	s := NewSession(nil, nil)
	i := s.AddFile("b.py")
	if i != 1 || s.Active() != 1 {
		t.Fatalf("AddFile index %d active %d", i, s.Active())
	}
	s.AddFile("c.css")
	if err := s.SetContent(1, "print(1)"); err != nil {
		t.Fatal(err)
	}
	if err := s.Rename(2, "d.css"); err != nil {
		t.Fatal(err)
	}
	if err := s.Rename(2, "  "); !errors.Is(err, ErrEmptyName) {
		t.Errorf("blank rename err = %v", err)
	}
	if err := s.Delete(2); err != nil {
		t.Fatal(err)
	}
	if s.Active() != 1 {
		t.Errorf("active after deleting last tab = %d, want 1", s.Active())
	}
	if err := s.Select(0); err != nil {
		t.Fatal(err)
	}
	if err := s.Select(5); !errors.Is(err, ErrNoFile) {
		t.Errorf("Select out of range err = %v", err)
	}
	files := s.Files()
	if len(files) != 2 || files[0].Name != DefaultFileName || files[1].Content != "print(1)" {
		t.Errorf("files = %+v", files)
	}
}

func TestShareSuccessRevertsToIdle(t *testing.T) {
	clock := &fakeClock{}
	clip := &memClipboard{}
	var got []domain.File
	sharer := sharerFunc(func(_ context.Context, files []domain.File, _ challenge.Proof) (string, error) {
		got = files
		return "https://gist.test/snippet/abcDEF1234", nil
	})
	s := NewSession(sharer, clip, WithAfterFunc(clock.AfterFunc))
	link, err := s.Share(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if clip.text != link {
		t.Errorf("clipboard = %q, want link", clip.text)
	}
	if len(got) != 1 || got[0].Content != DefaultContent {
		t.Errorf("shared files = %+v", got)
	}
	if st, _ := s.ShareStatus(); st != StatusShared {
		t.Fatalf("status = %s, want shared", st)
	}
	clock.fire(0)
	if st, _ := s.ShareStatus(); st != StatusIdle {
		t.Errorf("status after timer = %s, want idle", st)
	}
}

func TestShareFailureSurfacesMessage(t *testing.T) {
	clock := &fakeClock{}
	sharer := sharerFunc(func(context.Context, []domain.File, challenge.Proof) (string, error) {
		return "", domain.ErrShareFailed
	})
	s := NewSession(sharer, &memClipboard{}, WithAfterFunc(clock.AfterFunc))
	if _, err := s.Share(context.Background()); !errors.Is(err, domain.ErrShareFailed) {
		t.Fatalf("err = %v", err)
	}
	st, msg := s.ShareStatus()
	if st != StatusError || msg != "failed to share snippet" {
		t.Errorf("status = %s %q", st, msg)
	}
	clock.fire(0)
	if st, _ := s.ShareStatus(); st != StatusIdle {
		t.Errorf("status after timer = %s, want idle", st)
	}
}

func TestShareGoesThroughVerification(t *testing.T) {
	var (
		seen  []Status
		proof challenge.Proof
		s     *Session
	)
	gate := gateFunc(func(context.Context) (challenge.Proof, error) {
		st, _ := s.ShareStatus()
		seen = append(seen, st)
		return challenge.Proof{Token: "tok", Answer: "7"}, nil
	})
	sharer := sharerFunc(func(_ context.Context, _ []domain.File, p challenge.Proof) (string, error) {
		st, _ := s.ShareStatus()
		seen = append(seen, st)
		proof = p
		return "link", nil
	})
	s = NewSession(sharer, &memClipboard{}, WithGate(gate), WithAfterFunc((&fakeClock{}).AfterFunc))
	if _, err := s.Share(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[0] != StatusVerifying || seen[1] != StatusLoading {
		t.Errorf("states = %v, want [verifying loading]", seen)
	}
	if proof.Token != "tok" || proof.Answer != "7" {
		t.Errorf("proof = %+v", proof)
	}
}

func TestShareRejectedWhileLoading(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sharer := sharerFunc(func(context.Context, []domain.File, challenge.Proof) (string, error) {
		close(started)
		<-release
		return "link", nil
	})
	s := NewSession(sharer, &memClipboard{}, WithAfterFunc((&fakeClock{}).AfterFunc))
	done := make(chan error, 1)
	go func() {
		_, err := s.Share(context.Background())
		done <- err
	}()
	<-started
	if _, err := s.Share(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second share err = %v, want ErrBusy", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestStaleTimerDoesNotClobberNewState(t *testing.T) {
	clock := &fakeClock{}
	n := 0
	sharer := sharerFunc(func(context.Context, []domain.File, challenge.Proof) (string, error) {
		n++
		if n == 2 {
			return "", errors.New("boom")
		}
		return "link", nil
	})
	s := NewSession(sharer, &memClipboard{}, WithAfterFunc(clock.AfterFunc))
	s.Share(context.Background())
	s.Share(context.Background())
	clock.fire(0)
	if st, _ := s.ShareStatus(); st != StatusError {
		t.Fatalf("first timer reverted a newer state: %s", st)
	}
	clock.fire(1)
	if st, _ := s.ShareStatus(); st != StatusIdle {
		t.Errorf("status = %s, want idle", st)
	}
}

func TestCopyIndependentOfShare(t *testing.T) {
	clock := &fakeClock{}
	clip := &memClipboard{}
	sharer := sharerFunc(func(context.Context, []domain.File, challenge.Proof) (string, error) {
		return "link", nil
	})
	s := NewSession(sharer, clip, WithAfterFunc(clock.AfterFunc))
	s.SetContent(0, "const a = 1")
	if err := s.Copy(); err != nil {
		t.Fatal(err)
	}
	if clip.text != "const a = 1" {
		t.Errorf("clipboard = %q", clip.text)
	}
	if s.CopyStatus() != StatusCopied {
		t.Fatalf("copy status = %s", s.CopyStatus())
	}
	s.Share(context.Background())
	clock.fire(1)
	if s.CopyStatus() != StatusCopied {
		t.Error("share timer must not touch the copy indicator")
	}
	clock.fire(0)
	if s.CopyStatus() != StatusIdle {
		t.Errorf("copy status = %s, want idle", s.CopyStatus())
	}
}

func TestRealTimerReverts(t *testing.T) {
	sharer := sharerFunc(func(context.Context, []domain.File, challenge.Proof) (string, error) {
		return "link", nil
	})
	s := NewSession(sharer, &memClipboard{}, WithRevertAfter(10*time.Millisecond))
	s.Share(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, _ := s.ShareStatus(); st == StatusIdle {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("status never reverted to idle")
}
