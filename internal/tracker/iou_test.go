package tracker

import (
	"testing"

	"people-counter-go/internal/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func person(x, y float64) detection.Detection {
	return detection.Detection{
		Box:        detection.BBox{X1: x, Y1: y, X2: x + 60, Y2: y + 160},
		Confidence: 0.9,
	}
}

func trackIDs(dets []detection.Detection) []int {
	ids := make([]int, len(dets))
	for i, d := range dets {
		ids[i] = d.TrackID
	}
	return ids
}

func TestIoUTracker_AssignsNewIDsInDetectionOrder(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 5)

	out := tr.Update([]detection.Detection{person(10, 10), person(400, 10)})
	assert.Equal(t, []int{1, 2}, trackIDs(out))
	assert.Equal(t, 2, tr.Active())
}

func TestIoUTracker_FollowsMovingPerson(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 5)

	first := tr.Update([]detection.Detection{person(100, 50), person(400, 50)})
	for step := 1; step <= 20; step++ {
		out := tr.Update([]detection.Detection{
			person(400-float64(step)*4, 50),
			person(100+float64(step)*6, 50),
		})
		require.Len(t, out, 2)
		assert.Equal(t, first[1].TrackID, out[0].TrackID, "step %d", step)
		assert.Equal(t, first[0].TrackID, out[1].TrackID, "step %d", step)
	}
	assert.Equal(t, 2, tr.Active())
}

func TestIoUTracker_DoesNotModifyInput(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 5)
	in := []detection.Detection{person(10, 10)}

	out := tr.Update(in)
	assert.Zero(t, in[0].TrackID)
	assert.Equal(t, 1, out[0].TrackID)
}

func TestIoUTracker_FarJumpStartsNewTrack(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 5)

	tr.Update([]detection.Detection{person(0, 0)})
	out := tr.Update([]detection.Detection{person(400, 0)})
	assert.Equal(t, 2, out[0].TrackID)
	assert.Equal(t, 2, tr.Active(), "old track waits for a match")
}

func TestIoUTracker_OneDetectionPerTrack(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 5)

	tr.Update([]detection.Detection{person(100, 100)})
	out := tr.Update([]detection.Detection{person(110, 100), person(102, 100)})

	// the closer detection keeps the id, the other becomes a new track
	assert.Equal(t, []int{2, 1}, trackIDs(out))
}

func TestIoUTracker_AdjacentPeopleKeepTheirIDs(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 5)

	first := tr.Update([]detection.Detection{person(100, 50), person(140, 50)})
	require.Equal(t, []int{1, 2}, trackIDs(first))

	// Both detections score best against track 2. The right one wins it and
	// the left one falls back to track 1, which still scores above threshold.
	left, right := person(125, 50), person(150, 50)
	require.Greater(t, score(first[1].Box, left.Box), score(first[0].Box, left.Box))
	require.Greater(t, score(first[0].Box, left.Box), 0.3)
	require.Greater(t, score(first[1].Box, right.Box), score(first[1].Box, left.Box))

	out := tr.Update([]detection.Detection{left, right})
	assert.Equal(t, []int{1, 2}, trackIDs(out))
	assert.Equal(t, 2, tr.Active(), "no orphaned track")
}

func TestIoUTracker_ExpiresAfterMaxNoMatch(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0.3, 3)

	tr.Update([]detection.Detection{person(100, 100)})
	for range 3 {
		tr.Update(nil)
		assert.Equal(t, 1, tr.Active())
	}

	// still alive: a match within maxNoMatch frames keeps the id
	out := tr.Update([]detection.Detection{person(101, 100)})
	assert.Equal(t, 1, out[0].TrackID)

	for range 4 {
		tr.Update(nil)
	}
	assert.Zero(t, tr.Active())

	out = tr.Update([]detection.Detection{person(101, 100)})
	assert.Equal(t, 2, out[0].TrackID)
}

func TestIoUTracker_ResetKeepsCountingIDs(t *testing.T) {
	t.Parallel()
	tr := NewIoUTracker(0, 0)
	assert.Equal(t, DefaultIoUThreshold, tr.iouThreshold)
	assert.Equal(t, DefaultMaxNoMatch, tr.maxNoMatch)

	tr.Update([]detection.Detection{person(0, 0), person(300, 0)})
	tr.Reset()
	assert.Zero(t, tr.Active())

	out := tr.Update([]detection.Detection{person(0, 0)})
	assert.Equal(t, 3, out[0].TrackID)
}

func TestScore(t *testing.T) {
	t.Parallel()
	a := detection.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	assert.InDelta(t, 1.0, score(a, a), 1e-12)

	// disjoint boxes 100px apart: half weight distance score
	far := detection.BBox{X1: 100, Y1: 0, X2: 110, Y2: 10}
	assert.InDelta(t, 0.25, score(a, far), 1e-12)

	overlap := detection.BBox{X1: 5, Y1: 0, X2: 15, Y2: 10}
	assert.Greater(t, score(a, overlap), score(a, far))
}
