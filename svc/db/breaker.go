package db

import (
	"context"
	"database/sql"
	"fmt"
	"pastebox/metrics"
	"pastebox/pkg/domain"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("store circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

// breaker trips after maxFailures consecutive store failures and lets a single
// probe through once the cooldown has passed.
type breaker struct {
	failures      int32
	circuitState  int32
	circuitOpened int64
}

func (b *breaker) check() error {
	state := atomic.LoadInt32(&b.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&b.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&b.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// record counts err against the breaker. Outcomes that say something about the
// data rather than the store do not count.
func (b *breaker) record(err error) {
	if err == nil ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, domain.ErrDuplicateID) ||
		domain.Gone(err) {
		atomic.StoreInt32(&b.failures, 0)
		atomic.StoreInt32(&b.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&b.failures, 1)
	if atomic.LoadInt32(&b.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&b.circuitState, circuitOpen)
		atomic.StoreInt64(&b.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&b.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&b.circuitState) == circuitClosed {
		atomic.StoreInt32(&b.circuitState, circuitOpen)
		atomic.StoreInt64(&b.circuitOpened, time.Now().Unix())
	}
}

// unavailable marks err as a store failure while keeping the cause matchable.
func unavailable(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
