package editor

import (
	"bettergist/pkg/domain"
	"bettergist/svc/challenge"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultFileName    = "untitled.js"
	DefaultContent     = "// Write your code here"
	DefaultRevertAfter = 2 * time.Second
)

var (
	ErrLastFile  = errors.New("a snippet needs at least one file")
	ErrBusy      = errors.New("share already in progress")
	ErrNoFile    = errors.New("no such file")
	ErrNoSharer  = errors.New("sharing is not configured")
	ErrEmptyName = errors.New("file name cannot be empty")
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusVerifying Status = "verifying"
	StatusLoading   Status = "loading"
	StatusShared    Status = "shared"
	StatusError     Status = "error"
	StatusCopied    Status = "copied"
)

// Sharer stores files and returns the link.
type Sharer interface {
	Share(ctx context.Context, files []domain.File, proof challenge.Proof) (string, error)
}

// Gate obtains a challenge proof from the user.
type Gate interface {
	Solve(ctx context.Context) (challenge.Proof, error)
}

type Clipboard interface {
	WriteText(text string) error
}

type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via
// RealAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func RealAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Option func(*Session)

func WithGate(g Gate) Option                 { return func(s *Session) { s.gate = g } }
func WithRevertAfter(d time.Duration) Option { return func(s *Session) { s.revertAfter = d } }
func WithAfterFunc(af AfterFunc) Option      { return func(s *Session) { s.afterFunc = af } }
func WithFiles(files []domain.File) Option {
	return func(s *Session) {
		if len(files) > 0 {
			s.files = domain.CloneFiles(files)
		}
	}
}

// indicator is a status that falls back to idle on a timer. gen ties a
// pending timer to the transition that armed it.
type indicator struct {
	status Status
	msg    string
	gen    uint64
	timer  Timer
}

// Session is the editing state behind one editor window: an ordered list
// of files, the active tab, and the share and copy indicators.
type Session struct {
	mu          sync.Mutex
	files       []domain.File
	active      int
	share       indicator
	copy        indicator
	link        string
	sharer      Sharer
	gate        Gate
	clip        Clipboard
	revertAfter time.Duration
	afterFunc   AfterFunc
}

func NewSession(sharer Sharer, clip Clipboard, opts ...Option) *Session {
	s := &Session{
		files:       []domain.File{{Name: DefaultFileName, Content: DefaultContent}},
		share:       indicator{status: StatusIdle},
		copy:        indicator{status: StatusIdle},
		sharer:      sharer,
		clip:        clip,
		revertAfter: DefaultRevertAfter,
		afterFunc:   RealAfterFunc,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}
func (s *Session) Files() []domain.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneFiles(s.files)
}
func (s *Session) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
func (s *Session) AddFile(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultFileName
	}
	s.files = append(s.files, domain.File{Name: name})
	s.active = len(s.files) - 1
	return s.active
}
func (s *Session) Rename(i int, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.files) {
		return ErrNoFile
	}
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	s.files[i].Name = name
	return nil
}
func (s *Session) SetContent(i int, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.files) {
		return ErrNoFile
	}
	s.files[i].Content = content
	return nil
}
func (s *Session) Select(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.files) {
		return ErrNoFile
	}
	s.active = i
	return nil
}

// Delete removes file i. The last remaining file cannot be deleted.
func (s *Session) Delete(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.files) {
		return ErrNoFile
	}
	if len(s.files) == 1 {
		return ErrLastFile
	}
	s.files = append(s.files[:i], s.files[i+1:]...)
	if s.active >= len(s.files) || s.active > i {
		s.active--
	}
	if s.active < 0 {
		s.active = 0
	}
	return nil
}
func (s *Session) ShareStatus() (Status, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.share.status, s.share.msg
}
func (s *Session) CopyStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copy.status
}
func (s *Session) Link() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Share runs one share: verifying (when a gate is set), then loading, then
// shared or error. A share cannot start while another is verifying or
// loading. The returned link has already been written to the clipboard.
func (s *Session) Share(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.sharer == nil {
		s.mu.Unlock()
		return "", ErrNoSharer
	}
	if st := s.share.status; st == StatusVerifying || st == StatusLoading {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.stopTimer(&s.share)
	files := domain.CloneFiles(s.files)
	gate := s.gate
	if gate != nil {
		s.set(&s.share, StatusVerifying, "")
	} else {
		s.set(&s.share, StatusLoading, "")
	}
	s.mu.Unlock()

	var proof challenge.Proof
	if gate != nil {
		p, err := gate.Solve(ctx)
		if err != nil {
			return "", s.fail(err)
		}
		proof = p
		s.mu.Lock()
		s.set(&s.share, StatusLoading, "")
		s.mu.Unlock()
	}
	link, err := s.sharer.Share(ctx, files, proof)
	if err != nil {
		return "", s.fail(err)
	}
	if s.clip != nil {
		if err := s.clip.WriteText(link); err != nil {
			return link, s.fail(errors.Wrap(err, "copy link"))
		}
	}
	s.mu.Lock()
	s.link = link
	s.set(&s.share, StatusShared, "URL copied to clipboard")
	s.arm(&s.share)
	s.mu.Unlock()
	return link, nil
}
func (s *Session) fail(err error) error {
	msg := err.Error()
	if e, ok := domain.AsErr(err); ok {
		msg = e.Msg
	}
	s.mu.Lock()
	s.set(&s.share, StatusError, msg)
	s.arm(&s.share)
	s.mu.Unlock()
	return err
}

// Copy writes the active file to the clipboard.
func (s *Session) Copy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clip == nil {
		return errors.New("no clipboard")
	}
	if err := s.clip.WriteText(s.files[s.active].Content); err != nil {
		return errors.Wrap(err, "copy code")
	}
	s.stopTimer(&s.copy)
	s.set(&s.copy, StatusCopied, "Code copied to clipboard")
	s.arm(&s.copy)
	return nil
}
func (s *Session) set(ind *indicator, st Status, msg string) {
	ind.status = st
	ind.msg = msg
	ind.gen++
}
func (s *Session) stopTimer(ind *indicator) {
	if ind.timer != nil {
		ind.timer.Stop()
		ind.timer = nil
	}
}

// arm schedules the return to idle. The callback only reverts the state it
// was armed for, so a late timer cannot clobber a newer transition.
func (s *Session) arm(ind *indicator) {
	gen := ind.gen
	ind.timer = s.afterFunc(s.revertAfter, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if ind.gen != gen {
			return
		}
		s.set(ind, StatusIdle, "")
		ind.timer = nil
	})
}
