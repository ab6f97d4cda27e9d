package counter

import "time"

// Side is the side of the counting line a track center last occupied.
type Side int

const (
	// SideNone is only held by a track registered exactly on the line.
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "L"
	case SideRight:
		return "R"
	default:
		return "-"
	}
}

// TrackState is the kinematic state kept for one live tracker id.
type TrackState struct {
	TrackID     int
	LastCenterX float64
	LastCenterY float64
	LastSide    Side
	// CountedDirection is the label most recently counted for this track,
	// DirectionNone until the first crossing.
	CountedDirection Direction
	LastSeen         time.Time

	countedIn  bool
	countedOut bool
}

func (t *TrackState) updatePosition(cx, cy float64, now time.Time) {
	t.LastCenterX = cx
	t.LastCenterY = cy
	t.LastSeen = now
}

func (t *TrackState) hasCounted(d Direction) bool {
	switch d {
	case DirectionIn:
		return t.countedIn
	case DirectionOut:
		return t.countedOut
	}
	return false
}

func (t *TrackState) markCounted(d Direction) {
	switch d {
	case DirectionIn:
		t.countedIn = true
	case DirectionOut:
		t.countedOut = true
	}
	t.CountedDirection = d
}

func (t *TrackState) clearCounted() {
	t.countedIn = false
	t.countedOut = false
	t.CountedDirection = DirectionNone
}

// registry owns the TrackState entries keyed by tracker id.
type registry struct {
	tracks map[int]*TrackState
}

func newRegistry() *registry {
	return &registry{tracks: make(map[int]*TrackState)}
}

func (r *registry) get(id int) (*TrackState, bool) {
	t, ok := r.tracks[id]
	return t, ok
}

func (r *registry) add(t *TrackState) {
	r.tracks[t.TrackID] = t
}

func (r *registry) len() int {
	return len(r.tracks)
}

func (r *registry) clear() {
	r.tracks = make(map[int]*TrackState)
}

// expire drops every track not seen since cutoff and reports how many went.
func (r *registry) expire(cutoff time.Time) int {
	removed := 0
	for id, t := range r.tracks {
		if t.LastSeen.Before(cutoff) {
			delete(r.tracks, id)
			removed++
		}
	}
	return removed
}

// resideAll invalidates side and counted state against a new line position.
func (r *registry) resideAll(lineX float64) {
	for _, t := range r.tracks {
		t.LastSide = strictSide(t.LastCenterX, lineX)
		t.clearCounted()
	}
}
