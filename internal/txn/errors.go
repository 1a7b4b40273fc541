package txn

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoStores is returned when a coordinated transaction names no store.
	ErrNoStores = errors.New("no stores requested")

	// ErrStoreNotRegistered is returned for a name the registry does not hold.
	ErrStoreNotRegistered = errors.New("store not registered")

	// ErrDuplicateStore is returned when a name is registered or requested twice.
	ErrDuplicateStore = errors.New("duplicate store")

	// ErrStoreBusy is returned when the store's write connection could not be
	// obtained within its busy timeout. It is retryable.
	ErrStoreBusy = errors.New("store busy")
)

// RetryExhaustedError is the terminal failure after every attempt hit
// contention.
type RetryExhaustedError struct {
	Store    string
	Label    string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("store %s: %s failed after %d attempts: %v", e.Store, e.Label, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// PartialCommitError reports a coordinated transaction whose stores were
// committed one after another and which failed part way: Committed stay
// committed, Failed and everything after it were rolled back.
type PartialCommitError struct {
	Committed []string
	Failed    string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("commit %s failed after %s committed: %v",
		e.Failed, strings.Join(e.Committed, ", "), e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
