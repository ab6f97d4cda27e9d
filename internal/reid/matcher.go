package reid

import (
	"image"

	"people-counter-go/internal/detection"
)

// Identity is the outcome of matching one detection.
type Identity struct {
	PersonID   string  `json:"person_id"`
	Similarity float64 `json:"similarity"`
	// New is set when the detection registered a previously unknown person.
	New bool `json:"new"`
}

// Matcher assigns stable person ids to detections by combining Extract with
// a Ledger.
type Matcher struct {
	ledger *Ledger
}

func NewMatcher(ledger *Ledger) *Matcher {
	return &Matcher{ledger: ledger}
}

// Ledger exposes the underlying ledger for queries and maintenance.
func (m *Matcher) Ledger() *Ledger {
	return m.ledger
}

// Process identifies the person inside box. It reports false for crops that
// are empty after clipping, in which case the ledger is left untouched.
func (m *Matcher) Process(trackID int, box detection.BBox, frame image.Image) (Identity, bool) {
	emb := Extract(frame, box)
	if IsZero(emb) {
		return Identity{}, false
	}

	if match, ok := m.ledger.FindMatch(emb); ok {
		// FindMatch only returns ids held by the ledger
		_ = m.ledger.Update(match.PersonID, trackID, emb)
		return Identity{PersonID: match.PersonID, Similarity: match.Similarity}, true
	}

	id := m.ledger.Register(emb, trackID)
	return Identity{PersonID: id, Similarity: 1, New: true}, true
}
