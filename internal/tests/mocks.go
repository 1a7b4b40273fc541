package tests

import (
	"context"
	"sync"
	"sync/atomic"

	"trainlog/internal/carbon"
	"trainlog/internal/domain"
)

// ──────────────────────────────────────────────
// MOCK DRIFT CHECKER
// ──────────────────────────────────────────────

// DriftChecker matches service.DriftChecker.
type DriftChecker interface {
	CompareTrip(ctx context.Context, id int64) error
}

// MockDriftChecker records every post-write check and forwards it to Inner
// when set.
type MockDriftChecker struct {
	Inner DriftChecker

	mu      sync.Mutex
	checked []int64
	drifts  []error

	// Counters for verification
	CompareCallCount int32
}

func NewMockDriftChecker(inner DriftChecker) *MockDriftChecker {
	return &MockDriftChecker{Inner: inner}
}

func (m *MockDriftChecker) CompareTrip(ctx context.Context, id int64) error {
	atomic.AddInt32(&m.CompareCallCount, 1)

	var err error
	if m.Inner != nil {
		err = m.Inner.CompareTrip(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = append(m.checked, id)
	if err != nil {
		m.drifts = append(m.drifts, err)
	}
	return err
}

// Checked returns the ids checked so far, in call order.
func (m *MockDriftChecker) Checked() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.checked...)
}

// Drifts returns every error a check produced.
func (m *MockDriftChecker) Drifts() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.drifts...)
}

// ──────────────────────────────────────────────
// MOCK MIGRATION GUARD
// ──────────────────────────────────────────────

// MockMigrationGuard reports a fixed migration state.
type MockMigrationGuard struct {
	running atomic.Bool

	// Counters for verification
	CheckCallCount int32

	// Error injection
	CheckError error
}

func NewMockMigrationGuard() *MockMigrationGuard {
	return &MockMigrationGuard{}
}

// SetRunning toggles the reported state.
func (m *MockMigrationGuard) SetRunning(running bool) {
	m.running.Store(running)
}

func (m *MockMigrationGuard) MigrationInProgress(ctx context.Context) (bool, error) {
	atomic.AddInt32(&m.CheckCallCount, 1)
	if m.CheckError != nil {
		return false, m.CheckError
	}
	return m.running.Load(), nil
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// MockNotifier records partial-commit alerts.
type MockNotifier struct {
	mu         sync.Mutex
	operations []string
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyPartialCommit(ctx context.Context, operation string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, operation)
	return nil
}

// Operations returns the operations alerted so far.
func (m *MockNotifier) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.operations...)
}

// ──────────────────────────────────────────────
// MOCK ESTIMATOR
// ──────────────────────────────────────────────

// MockEstimator returns a fixed kg value per transport mode.
type MockEstimator struct {
	PerType map[domain.TripType]float64

	// Counters for verification
	EstimateCallCount int32
}

func NewMockEstimator() *MockEstimator {
	return &MockEstimator{PerType: map[domain.TripType]float64{
		domain.TripTypeTrain: 2.5,
		domain.TripTypeBus:   6,
		domain.TripTypeAir:   120,
	}}
}

var _ carbon.Estimator = (*MockEstimator)(nil)

func (m *MockEstimator) Estimate(in carbon.Input) float64 {
	atomic.AddInt32(&m.EstimateCallCount, 1)
	return m.PerType[in.Type]
}
