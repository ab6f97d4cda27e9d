// Package events carries counting and identification results from the
// worker to the outbound sinks (database, MQTT, SSE).
package events

import (
	"time"

	"people-counter-go/internal/counter"
	"people-counter-go/internal/detection"

	"github.com/google/uuid"
)

// Event kinds, also used as the "type" field of serialized envelopes.
const (
	KindCrossing = "crossing"
	KindIdentity = "identity"
	KindStats    = "stats"
)

// Event is anything the dispatcher can deliver.
type Event interface {
	Kind() string
}

// CrossingEvent is emitted once per counted line crossing.
type CrossingEvent struct {
	ID        uuid.UUID         `json:"id"`
	TrackID   int               `json:"track_id"`
	PersonID  string            `json:"person_id,omitempty"`
	Direction counter.Direction `json:"direction"`
	Timestamp time.Time         `json:"timestamp"`
	Camera    string            `json:"camera"`
	BBox      detection.BBox    `json:"bbox"`
}

func NewCrossingEvent(camera string, trackID int, dir counter.Direction, box detection.BBox, ts time.Time) CrossingEvent {
	return CrossingEvent{
		ID:        uuid.New(),
		TrackID:   trackID,
		Direction: dir,
		Timestamp: ts,
		Camera:    camera,
		BBox:      box,
	}
}

func (CrossingEvent) Kind() string { return KindCrossing }

// IdentityEvent reports that a track was matched to (or registered as) a person.
type IdentityEvent struct {
	PersonID   string    `json:"person_id"`
	TrackID    int       `json:"track_id"`
	Similarity float64   `json:"similarity"`
	New        bool      `json:"new"`
	Timestamp  time.Time `json:"timestamp"`
	Camera     string    `json:"camera"`
}

func (IdentityEvent) Kind() string { return KindIdentity }

// StatsEvent carries the current totals after they changed.
type StatsEvent struct {
	InCount      int       `json:"in_count"`
	OutCount     int       `json:"out_count"`
	Occupancy    int       `json:"occupancy"`
	ActiveTracks int       `json:"active_tracks"`
	Timestamp    time.Time `json:"timestamp"`
	Camera       string    `json:"camera"`
}

// NewStatsEvent derives occupancy from the totals. It never goes below zero.
func NewStatsEvent(camera string, s counter.Stats, ts time.Time) StatsEvent {
	return StatsEvent{
		InCount:      s.InCount,
		OutCount:     s.OutCount,
		Occupancy:    max(s.InCount-s.OutCount, 0),
		ActiveTracks: s.ActiveTracks,
		Timestamp:    ts,
		Camera:       camera,
	}
}

func (StatsEvent) Kind() string { return KindStats }

// Envelope is the JSON shape pushed to live clients.
type Envelope struct {
	Type string `json:"type"`
	Data Event  `json:"data"`
}

func Wrap(e Event) Envelope {
	return Envelope{Type: e.Kind(), Data: e}
}
