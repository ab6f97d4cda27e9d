package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (f *fakeStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakePruner struct {
	mu   sync.Mutex
	ages []time.Duration
	n    int
}

func (f *fakePruner) PrunePersons(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ages = append(f.ages, maxAge)
	return f.n
}

func TestNewService_Disabled(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewService(Options{}))
	assert.Nil(t, NewService(Options{Store: &fakeStore{}, RetentionDays: 0}))
	assert.Nil(t, NewService(Options{Pruner: &fakePruner{}, PersonRetention: 0}))

	// nil service is safe to use
	var s *Service
	s.StartBackgroundCleanup()
	s.StopBackgroundCleanup(true)
	assert.Equal(t, Result{}, s.RunCleanupCycle(context.Background()))
}

func TestRunCleanupCycle(t *testing.T) {
	t.Parallel()
	store := &fakeStore{n: 12}
	pruner := &fakePruner{n: 3}
	s := NewService(Options{
		Store:           store,
		Pruner:          pruner,
		RetentionDays:   30,
		PersonRetention: 48 * time.Hour,
		Now:             func() time.Time { return now },
	})
	require.NotNil(t, s)

	res := s.RunCleanupCycle(context.Background())
	assert.Equal(t, Result{Events: 12, Persons: 3}, res)
	assert.Equal(t, []time.Time{time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)}, store.cutoffs)
	assert.Equal(t, []time.Duration{48 * time.Hour}, pruner.ages)
}

func TestRunCleanupCycle_StoreErrorStillPrunes(t *testing.T) {
	t.Parallel()
	store := &fakeStore{n: 5, err: errors.New("disk I/O error")}
	pruner := &fakePruner{n: 1}
	s := NewService(Options{Store: store, Pruner: pruner, RetentionDays: 1, PersonRetention: time.Hour, Now: func() time.Time { return now }})

	assert.Equal(t, Result{Persons: 1}, s.RunCleanupCycle(context.Background()))
}

func TestRunCleanupCycle_OnlyPersons(t *testing.T) {
	t.Parallel()
	pruner := &fakePruner{n: 2}
	s := NewService(Options{Store: &fakeStore{}, Pruner: pruner, PersonRetention: time.Hour})
	require.NotNil(t, s)
	assert.Nil(t, s.store, "events are kept without retention days")
	assert.Equal(t, Result{Persons: 2}, s.RunCleanupCycle(context.Background()))
}

func TestBackgroundCleanup(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	s := NewService(Options{Store: store, RetentionDays: 7, CheckInterval: 10 * time.Millisecond})

	s.StartBackgroundCleanup()
	assert.Eventually(t, func() bool { return store.calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.StopBackgroundCleanup(true)
	n := store.calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, store.calls(), "no cycles after stop")

	s.StopBackgroundCleanup(false)
}
