package db

import (
	"bettergist/pkg/domain"
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

// breaker trips after maxFailures consecutive infrastructure errors and
// lets a single probe through once the cooldown has passed. Other calls are
// refused until the probe reports back. A probe that never reports is
// replaced after another cooldown.
type breaker struct {
	failures int32
	state    int32
	opened   int64
	now      func() time.Time
}

func (b *breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}
func (b *breaker) allow() error {
	state := atomic.LoadInt32(&b.state)
	if state == circuitClosed {
		return nil
	}
	since := atomic.LoadInt64(&b.opened)
	now := b.clock().Unix()
	if now-since < cooldownSeconds {
		return ErrCircuitOpen
	}
	if state == circuitOpen {
		atomic.StoreInt64(&b.opened, now)
		if atomic.CompareAndSwapInt32(&b.state, circuitOpen, circuitHalfOpen) {
			return nil
		}
		return ErrCircuitOpen
	}
	if atomic.CompareAndSwapInt64(&b.opened, since, now) {
		return nil
	}
	return ErrCircuitOpen
}
func (b *breaker) record(err error) {
	if err == nil {
		atomic.StoreInt32(&b.failures, 0)
		atomic.StoreInt32(&b.state, circuitClosed)
		return
	}
	if !countsAsFailure(err) {
		// An abandoned probe hands its slot to the next caller.
		if atomic.CompareAndSwapInt32(&b.state, circuitHalfOpen, circuitOpen) {
			atomic.StoreInt64(&b.opened, b.clock().Unix()-cooldownSeconds)
		}
		return
	}
	failures := atomic.AddInt32(&b.failures, 1)
	if atomic.LoadInt32(&b.state) == circuitHalfOpen {
		atomic.StoreInt64(&b.opened, b.clock().Unix())
		atomic.StoreInt32(&b.state, circuitOpen)
		atomic.StoreInt32(&b.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&b.state) == circuitClosed {
		atomic.StoreInt64(&b.opened, b.clock().Unix())
		atomic.StoreInt32(&b.state, circuitOpen)
	}
}
func (b *breaker) isOpen() bool {
	return atomic.LoadInt32(&b.state) == circuitOpen
}

// Misses, cancellations and key conflicts say nothing about store health.
func countsAsFailure(err error) bool {
	return !(errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, domain.ErrIDConflict) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded))
}
