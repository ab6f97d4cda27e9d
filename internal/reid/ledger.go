// Package reid recognizes returning people from appearance fingerprints,
// independent of the tracker ids that change across occlusions and visits.
package reid

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInvalidConfig is returned by NewLedger for inconsistent settings.
	ErrInvalidConfig = errors.New("invalid re-id configuration")
	// ErrUnknownPerson is returned when a person id is not in the ledger.
	ErrUnknownPerson = errors.New("unknown person")
)

// DefaultEMAAlpha is the weight given to a fresh embedding on update.
const DefaultEMAAlpha = 0.3

// Person is one recognized identity.
type Person struct {
	PersonID        string    `msgpack:"person_id" json:"person_id"`
	Embedding       []float64 `msgpack:"embedding" json:"-"`
	FirstSeen       time.Time `msgpack:"first_seen" json:"first_seen"`
	LastSeen        time.Time `msgpack:"last_seen" json:"last_seen"`
	AppearanceCount int       `msgpack:"appearance_count" json:"appearance_count"`
	// TrackIDs lists every tracker id ever associated with this person.
	TrackIDs []int `msgpack:"track_ids" json:"track_ids"`
}

func (p *Person) clone() Person {
	c := *p
	c.Embedding = slices.Clone(p.Embedding)
	c.TrackIDs = slices.Clone(p.TrackIDs)
	return c
}

// Match is the result of a successful ledger lookup.
type Match struct {
	PersonID   string
	Similarity float64
}

// LedgerConfig holds the construction parameters of a Ledger.
type LedgerConfig struct {
	SimilarityThreshold float64
	MaxPersons          int
	// SaveEvery schedules a snapshot on every n-th appearance of a person.
	SaveEvery int
}

// Saver receives ledger snapshots for durable storage. Save must not block.
type Saver interface {
	Save(Snapshot)
}

// LedgerOption customizes a Ledger.
type LedgerOption func(*Ledger)

// WithSaver attaches persistence. Without one the ledger is memory only.
func WithSaver(s Saver) LedgerOption {
	return func(l *Ledger) {
		l.saver = s
	}
}

// WithLedgerClock replaces time.Now, mainly for tests.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger is a bounded store of known persons with least-recently-seen
// eviction. It is not safe for concurrent use.
type Ledger struct {
	cfg     LedgerConfig
	persons map[string]*Person
	order   []string       // registration order, used for deterministic scans
	owners  map[int]string // tracker id -> person currently holding it
	nextID  int
	saver   Saver
	now     func() time.Time
}

// NewLedger returns an empty ledger.
func NewLedger(cfg LedgerConfig, opts ...LedgerOption) (*Ledger, error) {
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("%w: similarity threshold must be within [0,1], got %v", ErrInvalidConfig, cfg.SimilarityThreshold)
	}
	if cfg.MaxPersons <= 0 {
		return nil, fmt.Errorf("%w: max persons must be > 0, got %d", ErrInvalidConfig, cfg.MaxPersons)
	}
	if cfg.SaveEvery <= 0 {
		return nil, fmt.Errorf("%w: save interval must be > 0, got %d", ErrInvalidConfig, cfg.SaveEvery)
	}

	l := &Ledger{
		cfg:     cfg,
		persons: make(map[string]*Person),
		owners:  make(map[int]string),
		nextID:  1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// FindMatch returns the most similar person if the similarity reaches the
// threshold. Exact ties go to the earlier registration.
func (l *Ledger) FindMatch(embedding []float64) (Match, bool) {
	var best Match
	found := false
	for _, id := range l.order {
		sim := CosineSimilarity(embedding, l.persons[id].Embedding)
		if !found || sim > best.Similarity {
			best = Match{PersonID: id, Similarity: sim}
			found = true
		}
	}
	if !found || best.Similarity < l.cfg.SimilarityThreshold {
		return Match{}, false
	}
	return best, true
}

// Register stores a new person seen under trackID and returns its id. At
// capacity the least recently seen person is evicted first.
func (l *Ledger) Register(embedding []float64, trackID int) string {
	if len(l.persons) >= l.cfg.MaxPersons {
		l.evictOldest()
	}

	id := formatPersonID(l.nextID)
	l.nextID++

	now := l.now()
	p := &Person{
		PersonID:        id,
		Embedding:       slices.Clone(embedding),
		FirstSeen:       now,
		LastSeen:        now,
		AppearanceCount: 1,
	}
	l.persons[id] = p
	l.order = append(l.order, id)
	l.attachTrack(p, trackID)

	log.WithFields(log.Fields{
		"person_id": id,
		"track_id":  trackID,
		"known":     len(l.persons),
	}).Info("Re-ID: new person registered")

	l.save()
	return id
}

// Update records another appearance of personID under trackID. A non-nil
// embedding is blended into the stored one and the result renormalized.
func (l *Ledger) Update(personID string, trackID int, embedding []float64) error {
	p, ok := l.persons[personID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPerson, personID)
	}

	p.LastSeen = l.now()
	p.AppearanceCount++
	l.attachTrack(p, trackID)

	if embedding != nil && len(embedding) == len(p.Embedding) {
		for i := range p.Embedding {
			p.Embedding[i] = (1-DefaultEMAAlpha)*p.Embedding[i] + DefaultEMAAlpha*embedding[i]
		}
		normalize(p.Embedding)
	}

	if p.AppearanceCount%l.cfg.SaveEvery == 0 {
		l.save()
	}
	return nil
}

// ClearOldPersons removes persons unseen for longer than maxAge and returns
// how many were removed.
func (l *Ledger) ClearOldPersons(maxAge time.Duration) int {
	now := l.now()
	removed := 0
	for _, id := range slices.Clone(l.order) {
		if now.Sub(l.persons[id].LastSeen) > maxAge {
			l.remove(id)
			removed++
		}
	}
	if removed > 0 {
		log.Infof("Re-ID: removed %d persons not seen for %s", removed, maxAge)
		l.save()
	}
	return removed
}

// Reset forgets every person. Person ids keep counting up so an id is never
// handed out twice by one process.
func (l *Ledger) Reset() {
	l.persons = make(map[string]*Person)
	l.owners = make(map[int]string)
	l.order = nil
	log.Info("Re-ID: ledger cleared")
	l.save()
}

// Person returns a copy of the record for id.
func (l *Ledger) Person(id string) (Person, bool) {
	p, ok := l.persons[id]
	if !ok {
		return Person{}, false
	}
	return p.clone(), true
}

// Persons returns copies of all records in registration order.
func (l *Ledger) Persons() []Person {
	out := make([]Person, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.persons[id].clone())
	}
	return out
}

// OwnerOf returns the person currently associated with trackID.
func (l *Ledger) OwnerOf(trackID int) (string, bool) {
	id, ok := l.owners[trackID]
	return id, ok
}

func (l *Ledger) Len() int {
	return len(l.persons)
}

// Snapshot returns a deep copy suitable for persistence.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{
		Persons:      l.Persons(),
		NextPersonID: l.nextID,
	}
}

// Restore replaces the ledger contents with a previously saved snapshot.
func (l *Ledger) Restore(s Snapshot) {
	l.persons = make(map[string]*Person, len(s.Persons))
	l.owners = make(map[int]string)
	l.order = nil
	l.nextID = max(s.NextPersonID, 1)

	for i := range s.Persons {
		p := s.Persons[i].clone()
		n := floats.Norm(p.Embedding, 2)
		if p.PersonID == "" || len(p.Embedding) != EmbeddingDim || n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			log.Warnf("Re-ID: skipping malformed ledger entry %q (%d components)", p.PersonID, len(p.Embedding))
			continue
		}
		normalize(p.Embedding)
		if _, dup := l.persons[p.PersonID]; dup {
			continue
		}
		l.persons[p.PersonID] = &p
		l.order = append(l.order, p.PersonID)
		for _, tid := range p.TrackIDs {
			l.owners[tid] = p.PersonID
		}
		if n, ok := parsePersonID(p.PersonID); ok && n >= l.nextID {
			l.nextID = n + 1
		}
	}

	for len(l.persons) > l.cfg.MaxPersons {
		l.evictOldest()
	}
}

func (l *Ledger) attachTrack(p *Person, trackID int) {
	if !slices.Contains(p.TrackIDs, trackID) {
		p.TrackIDs = append(p.TrackIDs, trackID)
	}
	l.owners[trackID] = p.PersonID
}

func (l *Ledger) evictOldest() {
	if len(l.order) == 0 {
		return
	}
	oldest := l.order[0]
	for _, id := range l.order[1:] {
		if l.persons[id].LastSeen.Before(l.persons[oldest].LastSeen) {
			oldest = id
		}
	}
	l.remove(oldest)
	log.Warnf("Re-ID: ledger full (%d), evicted least recently seen person %s", l.cfg.MaxPersons, oldest)
}

func (l *Ledger) remove(id string) {
	delete(l.persons, id)
	l.order = slices.DeleteFunc(l.order, func(s string) bool { return s == id })
	for tid, owner := range l.owners {
		if owner == id {
			delete(l.owners, tid)
		}
	}
}

func (l *Ledger) save() {
	if l.saver == nil {
		return
	}
	l.saver.Save(l.Snapshot())
}

func formatPersonID(n int) string {
	return fmt.Sprintf("P%04d", n)
}

func parsePersonID(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "P"))
	if err != nil || !strings.HasPrefix(id, "P") {
		return 0, false
	}
	return n, true
}
