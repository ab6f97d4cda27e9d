package cleanup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// EventStore deletes persisted crossing events and sightings.
type EventStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PersonPruner forgets Re-ID persons that were not seen for a while.
type PersonPruner interface {
	PrunePersons(maxAge time.Duration) int
}

// Result summarizes one cleanup cycle.
type Result struct {
	Events  int64
	Persons int
}

// Service handles the automatic cleanup of old data.
type Service struct {
	store           EventStore
	pruner          PersonPruner
	retentionDays   int
	personRetention time.Duration
	checkInterval   time.Duration
	now             func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{} // signals the background routine to stop
	done     chan struct{}
}

// Options configures the Service. A zero RetentionDays keeps events forever,
// a nil Pruner or zero PersonRetention keeps persons forever.
type Options struct {
	Store           EventStore
	Pruner          PersonPruner
	RetentionDays   int
	PersonRetention time.Duration
	CheckInterval   time.Duration
	Now             func() time.Time
}

// NewService creates a new cleanup Service. It returns nil if there is
// nothing to clean up.
func NewService(opts Options) *Service {
	eventsOn := opts.RetentionDays > 0 && opts.Store != nil
	personsOn := opts.PersonRetention > 0 && opts.Pruner != nil
	if !eventsOn && !personsOn {
		log.Info("Automatic cleanup disabled (no retention configured).")
		return nil
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		checkInterval: opts.CheckInterval,
		now:           opts.Now,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	if eventsOn {
		s.store = opts.Store
		s.retentionDays = opts.RetentionDays
	}
	if personsOn {
		s.pruner = opts.Pruner
		s.personRetention = opts.PersonRetention
	}

	log.Infof("Initializing CleanupService: RetentionDays=%d, PersonRetention=%s, CheckInterval=%s",
		s.retentionDays, s.personRetention, s.checkInterval)
	return s
}

// StartBackgroundCleanup runs one cycle immediately and then one per interval.
func (s *Service) StartBackgroundCleanup() {
	if s == nil || !s.started.CompareAndSwap(false, true) {
		return
	}
	log.Info("Starting background cleanup routine...")

	go func() {
		defer close(s.done)

		s.RunCleanupCycle(context.Background())

		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Debug("Running scheduled cleanup cycle...")
				s.RunCleanupCycle(context.Background())
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup signals the background routine to stop and waits for
// it if it was started.
func (s *Service) StopBackgroundCleanup(wait bool) {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopChan) })
	if wait && s.started.Load() {
		<-s.done
	}
}

// RunCleanupCycle performs one cleanup cycle.
func (s *Service) RunCleanupCycle(ctx context.Context) Result {
	var res Result
	if s == nil {
		return res
	}

	if s.store != nil {
		cutoff := s.now().AddDate(0, 0, -s.retentionDays)
		n, err := s.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Errorf("Cleanup: Error deleting records older than %s: %v", cutoff.Format(time.RFC3339), err)
		} else {
			res.Events = n
		}
	}

	if s.pruner != nil {
		res.Persons = s.pruner.PrunePersons(s.personRetention)
	}

	if res.Events > 0 || res.Persons > 0 {
		log.Infof("Cleanup cycle finished. Deleted records: %d, forgotten persons: %d", res.Events, res.Persons)
	} else {
		log.Debug("Cleanup cycle finished, nothing to delete.")
	}
	return res
}
