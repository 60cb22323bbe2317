package svc

import (
	"bettergist/cfg"
	"bettergist/metrics"
	"bettergist/pkg/domain"
	"bettergist/svc/cache"
	"bettergist/svc/challenge"
	"bettergist/svc/db"
	"bettergist/svc/lim"
	"bettergist/svc/util"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const maxIDAttempts = 3

// SnippetCache is the shared read-through cache in front of the store.
type SnippetCache interface {
	CacheSnippet(ctx context.Context, s *domain.Snippet, ttl time.Duration) error
	GetSnippet(ctx context.Context, id string) (*domain.Snippet, error)
}

type ShareParams struct {
	Files    []domain.File
	Proof    challenge.Proof
	ClientID string
}
type ShareResult struct {
	ID    string
	URL   string
	Limit lim.Result
}

// RateLimitedError carries the limiter state so the caller can set
// Retry-After and the X-RateLimit headers.
type RateLimitedError struct {
	Limit lim.Result
}

func (e *RateLimitedError) Error() string { return domain.ErrRateLimitExceeded.Msg }
func (e *RateLimitedError) Cause() error  { return domain.ErrRateLimitExceeded }
func (e *RateLimitedError) Unwrap() error { return domain.ErrRateLimitExceeded }

type Snippets struct {
	store    db.Store
	lru      *cache.LRU
	rdb      SnippetCache
	limiter  *lim.ShareLimiter
	verifier challenge.Verifier
	cfg      *cfg.Cfg
	group    singleflight.Group
	now      func() time.Time
	genID    func() (string, error)
	shutdown atomic.Bool
	cleaning atomic.Bool
	opWg     sync.WaitGroup
}

// NewSnippets wires the snippet service. rdb may be nil.
func NewSnippets(store db.Store, lru *cache.LRU, rdb SnippetCache, limiter *lim.ShareLimiter, verifier challenge.Verifier, c *cfg.Cfg) *Snippets {
	if store == nil || lru == nil || limiter == nil || verifier == nil || c == nil {
		panic("snippet service: nil dependency (store, lru, limiter, verifier or cfg)")
	}
	return &Snippets{
		store:    store,
		lru:      lru,
		rdb:      rdb,
		limiter:  limiter,
		verifier: verifier,
		cfg:      c,
		now:      time.Now,
		genID:    util.GenID,
	}
}
func (s *Snippets) Verifier() challenge.Verifier {
	return s.verifier
}
func (s *Snippets) URL(id string) string {
	return s.cfg.BaseURL + "/snippet/" + id
}

// Share validates the files, checks the challenge and the share limit, and
// stores the snippet under a fresh id. A link is only returned once the
// insert has succeeded.
func (s *Snippets) Share(ctx context.Context, p ShareParams) (*ShareResult, error) {
	if s.shutdown.Load() {
		return nil, domain.ErrServiceStopping
	}
	s.opWg.Add(1)
	defer s.opWg.Done()
	files, err := NormalizeFiles(p.Files, Limits{
		MaxFiles:   s.cfg.MaxFiles,
		MaxBytes:   s.cfg.MaxSnippetSize,
		MaxNameLen: s.cfg.MaxFileNameLength,
	})
	if err != nil {
		return nil, err
	}
	redeemer, single := s.verifier.(challenge.Redeemer)
	if single {
		err = s.proofErr(redeemer.Check(ctx, p.Proof))
	} else {
		err = s.proofErr(s.verifier.Verify(ctx, p.Proof))
	}
	if err != nil {
		return nil, err
	}
	limit := s.limiter.Check(ctx, p.ClientID)
	if !limit.Allowed {
		util.Info().Str("client", util.RedactIP(p.ClientID)).Msg("share rate limited")
		return nil, &RateLimitedError{Limit: limit}
	}
	// A rate-limited share leaves the token usable for the retry.
	if single {
		if err := s.proofErr(redeemer.Redeem(ctx, p.Proof)); err != nil {
			return nil, err
		}
	}
	now := s.now().UTC()
	sn := &domain.Snippet{
		Files:     files,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Retention),
	}
	if err := s.insert(ctx, sn); err != nil {
		return nil, err
	}
	s.warm(ctx, sn)
	metrics.SnippetShared.Inc()
	metrics.SnippetFiles.Observe(float64(len(files)))
	util.Info().
		Str("id", sn.ID).
		Int("files", len(files)).
		Int("bytes", sn.Size()).
		Msg("snippet shared")
	return &ShareResult{ID: sn.ID, URL: s.URL(sn.ID), Limit: limit}, nil
}
func (s *Snippets) proofErr(ok bool, err error) error {
	if ok {
		return nil
	}
	if _, isDomain := domain.AsErr(err); isDomain {
		return err
	}
	if err != nil {
		util.Error().Err(err).Str("mode", s.verifier.Mode()).Msg("challenge verification failed")
		return domain.ErrShareFailed
	}
	return domain.ErrChallengeFailed
}
func (s *Snippets) insert(ctx context.Context, sn *domain.Snippet) error {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.genID()
		if err != nil {
			util.Error().Err(err).Msg("id generation failed")
			return domain.ErrIDGenerationFailed
		}
		sn.ID = id
		err = s.store.Create(ctx, sn)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrIDConflict) {
			metrics.IDConflicts.Inc()
			util.Warn().Str("id", id).Int("attempt", attempt).Msg("id collision, regenerating")
			continue
		}
		metrics.StoreErrors.WithLabelValues("create").Inc()
		util.Error().Err(err).Msg("failed to store snippet")
		return domain.ErrShareFailed
	}
	util.Error().Int("attempts", maxIDAttempts).Msg("id collisions exhausted retries")
	return domain.ErrShareFailed
}
func (s *Snippets) warm(ctx context.Context, sn *domain.Snippet) {
	s.lru.Set(sn)
	if s.rdb == nil {
		return
	}
	if err := s.rdb.CacheSnippet(ctx, sn, s.redisTTL(sn)); err != nil {
		util.Warn().Err(err).Str("id", sn.ID).Msg("failed to cache in Redis")
	}
}
func (s *Snippets) redisTTL(sn *domain.Snippet) time.Duration {
	ttl := sn.ExpiresAt.Sub(s.now())
	if ttl > time.Hour {
		ttl = time.Hour
	}
	return ttl
}

// Get returns the snippet stored under id. Unknown, malformed and expired
// ids are domain.ErrSnippetNotFound; store outages stay distinguishable as
// domain.ErrStoreUnavailable.
func (s *Snippets) Get(ctx context.Context, id string) (*domain.Snippet, error) {
	if !util.ValidID(id) {
		return nil, domain.ErrSnippetNotFound
	}
	if sn := s.lru.Get(ctx, id); sn != nil {
		metrics.CacheHits.WithLabelValues("lru").Inc()
		metrics.SnippetRetrieved.Inc()
		return clone(sn), nil
	}
	if s.rdb != nil {
		sn, err := s.rdb.GetSnippet(ctx, id)
		if err != nil {
			util.Warn().Err(err).Str("id", id).Msg("redis lookup failed, falling back to store")
		} else if sn != nil && s.now().Before(sn.ExpiresAt) {
			metrics.CacheHits.WithLabelValues("redis").Inc()
			metrics.SnippetRetrieved.Inc()
			s.lru.Set(sn)
			return clone(sn), nil
		}
	}
	metrics.CacheMisses.Inc()
	// The shared lookup outlives any one caller; each caller waits on its
	// own context.
	ch := s.group.DoChan(id, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookupTimeout())
		defer cancel()
		sn, err := s.store.Get(lookupCtx, id)
		if err != nil {
			return nil, err
		}
		s.warm(lookupCtx, sn)
		return sn, nil
	})
	var v interface{}
	var err error
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "get snippet")
	}
	if err != nil {
		if errors.Is(err, domain.ErrSnippetNotFound) {
			return nil, domain.ErrSnippetNotFound
		}
		metrics.StoreErrors.WithLabelValues("get").Inc()
		util.Error().Err(err).Str("id", id).Msg("failed to fetch snippet")
		return nil, errors.Wrap(err, "get snippet")
	}
	metrics.SnippetRetrieved.Inc()
	return clone(v.(*domain.Snippet)), nil
}
func (s *Snippets) lookupTimeout() time.Duration {
	if s.cfg.DBQueryTimeout > 0 {
		return s.cfg.DBQueryTimeout
	}
	return 5 * time.Second
}

// Count is the number of live snippets rounded up to the next hundred, or
// 0 when the store cannot answer.
func (s *Snippets) Count(ctx context.Context) int {
	n, err := s.store.Count(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("count").Inc()
		util.Error().Err(err).Msg("failed to count snippets")
		return 0
	}
	return RoundUpHundred(n)
}
func RoundUpHundred(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 99) / 100 * 100
}
func clone(sn *domain.Snippet) *domain.Snippet {
	cp := *sn
	cp.Files = domain.CloneFiles(sn.Files)
	return &cp
}

// StartCleaner deletes expired snippets every interval until ctx is done.
func (s *Snippets) StartCleaner(ctx context.Context, interval time.Duration) error {
	if !s.cleaning.CompareAndSwap(false, true) {
		return errors.New("cleaner already running")
	}
	go s.runCleaner(ctx, interval)
	return nil
}
func (s *Snippets) runCleaner(ctx context.Context, interval time.Duration) {
	defer s.cleaning.Store(false)
	requestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, requestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", requestID).
		Dur("interval", interval).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().Str("request_id", requestID).Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			s.cleanOnce(ctx)
		}
	}
}
func (s *Snippets) cleanOnce(ctx context.Context) int {
	metrics.PruneCycles.Inc()
	deleted, err := s.store.CleanupExpired(ctx)
	if deleted > 0 {
		metrics.SnippetsPruned.Add(float64(deleted))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.StoreErrors.WithLabelValues("cleanup").Inc()
		util.Error().
			Err(err).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup failed")
	} else if deleted > 0 {
		util.Info().
			Int("deleted", deleted).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("cleanup completed")
	}
	return deleted
}

// Shutdown rejects new shares and waits for in-flight ones.
func (s *Snippets) Shutdown(ctx context.Context) {
	s.shutdown.Store(true)
	done := make(chan struct{})
	go func() {
		s.opWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		util.Debug().Msg("snippet service shutdown complete")
	case <-ctx.Done():
		util.Warn().Msg("in-flight shares didn't finish in time")
	}
}
