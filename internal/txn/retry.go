package txn

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// postgres lock_not_available and deadlock_detected.
const (
	pqLockNotAvailable = "55P03"
	pqDeadlockDetected = "40P01"
)

// IsBusy reports whether err is transient contention worth retrying.
// Everything else, including constraint violations, is not.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStoreBusy) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqLockNotAvailable || pqErr.Code == pqDeadlockDetected
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}

// Execute runs op against the named store, retrying busy failures with
// exponential backoff. Sessions that outlive a single call, such as the
// secondary store's bulk quiesce, open through here.
func (r *Registry) Execute(ctx context.Context, name, label string, op func(ctx context.Context) error) error {
	s, err := r.Store(name)
	if err != nil {
		return err
	}
	return r.retry(ctx, s, label, op)
}

func (r *Registry) retry(ctx context.Context, s *Store, label string, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		lastErr = err

		if attempt == s.maxRetries-1 {
			break
		}

		delay := s.retryDelay<<attempt + r.jitter(s.retryDelay)
		r.logger.Warn().
			Str("store", s.name).
			Str("op", label).
			Int("attempt", attempt+1).
			Int("max", s.maxRetries).
			Dur("delay", delay).
			Msg("store busy, retrying")

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &RetryExhaustedError{
		Store:    s.name,
		Label:    label,
		Attempts: s.maxRetries,
		Err:      lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// smallJitter spreads retries by up to a quarter of the base delay.
func smallJitter(base time.Duration) time.Duration {
	if base < 4 {
		return 0
	}
	return rand.N(base / 4)
}
