package cache

import (
	"bettergist/pkg/domain"
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU holds recently read snippets. Entries live for at most ttl and never
// past the snippet's own expiry.
type LRU struct {
	c   *expirable.LRU[string, *domain.Snippet]
	now func() time.Time
}

func NewLRU(size int, ttl time.Duration) (*LRU, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 100000 {
		return nil, errors.New("cache size too large")
	}
	return &LRU{
		c:   expirable.NewLRU[string, *domain.Snippet](size, nil, ttl),
		now: time.Now,
	}, nil
}
func (l *LRU) Get(ctx context.Context, id string) *domain.Snippet {
	if ctx.Err() != nil {
		return nil
	}
	s, ok := l.c.Get(id)
	if !ok {
		return nil
	}
	if !s.ExpiresAt.IsZero() && !l.now().Before(s.ExpiresAt) {
		l.c.Remove(id)
		return nil
	}
	return s
}
func (l *LRU) Set(s *domain.Snippet) {
	if s == nil || s.ID == "" {
		return
	}
	cp := *s
	cp.Files = domain.CloneFiles(s.Files)
	l.c.Add(s.ID, &cp)
}
func (l *LRU) Len() int {
	return l.c.Len()
}
