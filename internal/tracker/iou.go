// Package tracker assigns stable integer ids to per-frame person detections
// by greedy IoU matching with a center distance fallback.
package tracker

import (
	"container/heap"
	"math"
	"slices"

	"people-counter-go/internal/detection"
)

// Defaults used when the configured values are not positive.
const (
	DefaultIoUThreshold = 0.3
	DefaultMaxNoMatch   = 30
)

type track struct {
	id      int
	box     detection.BBox
	noMatch int
}

// IoUTracker keeps tracks alive for up to maxNoMatch frames without a match.
// It is not safe for concurrent use.
type IoUTracker struct {
	iouThreshold float64
	maxNoMatch   int
	nextID       int
	tracks       map[int]*track
}

func NewIoUTracker(iouThreshold float64, maxNoMatch int) *IoUTracker {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIoUThreshold
	}
	if maxNoMatch <= 0 {
		maxNoMatch = DefaultMaxNoMatch
	}
	return &IoUTracker{
		iouThreshold: iouThreshold,
		maxNoMatch:   maxNoMatch,
		nextID:       1,
		tracks:       make(map[int]*track),
	}
}

type candidate struct {
	score float64
	track int
	det   int // index into the frame's detections
}

// candidateHeap is a max-heap by score. Equal scores pop in detection order,
// then track order.
type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	if h[i].det != h[j].det {
		return h[i].det < h[j].det
	}
	return h[i].track < h[j].track
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Update matches one frame of detections against the live tracks and returns
// the detections with TrackID set. The input slice is not modified.
func (t *IoUTracker) Update(dets []detection.Detection) []detection.Detection {
	out := slices.Clone(dets)

	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	pq := &candidateHeap{}
	for i := range out {
		for _, id := range ids {
			if s := score(t.tracks[id].box, out[i].Box); s > t.iouThreshold {
				heap.Push(pq, candidate{score: s, track: id, det: i})
			}
		}
	}

	// Highest scoring pairs first; a detection that loses its best track to
	// a stronger match still gets its next best free one.
	reserved := make(map[int]bool)
	assigned := make([]bool, len(out))
	for pq.Len() > 0 {
		c := heap.Pop(pq).(candidate)
		if assigned[c.det] || reserved[c.track] {
			continue
		}
		tr := t.tracks[c.track]
		tr.box = out[c.det].Box
		tr.noMatch = 0
		reserved[c.track] = true
		assigned[c.det] = true
		out[c.det].TrackID = c.track
	}

	for i := range out {
		if assigned[i] {
			continue
		}
		id := t.nextID
		t.nextID++
		t.tracks[id] = &track{id: id, box: out[i].Box}
		reserved[id] = true
		out[i].TrackID = id
	}

	for id, tr := range t.tracks {
		if reserved[id] {
			continue
		}
		tr.noMatch++
		if tr.noMatch > t.maxNoMatch {
			delete(t.tracks, id)
		}
	}
	return out
}

// score favors overlap and falls back to center distance with half weight
// when the boxes barely touch.
func score(prev, cur detection.BBox) float64 {
	px, py := prev.Center()
	cx, cy := cur.Center()
	distScore := 1 / (1 + math.Hypot(px-cx, py-cy)*0.01)

	iou := detection.IoU(prev, cur)
	if iou > 0.05 {
		return iou*0.8 + distScore*0.2
	}
	return distScore * 0.5
}

// Active returns the number of live tracks, including those currently unmatched.
func (t *IoUTracker) Active() int {
	return len(t.tracks)
}

// Reset drops every track. Ids keep counting up.
func (t *IoUTracker) Reset() {
	t.tracks = make(map[int]*track)
}
