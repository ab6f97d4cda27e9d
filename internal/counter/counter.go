// Package counter turns per-frame person detections into IN/OUT crossings of
// a vertical counting line.
//
// A Counter is not safe for concurrent use; the owning worker serializes
// every call.
package counter

import (
	"errors"
	"fmt"
	"math"
	"time"

	"people-counter-go/internal/detection"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidConfig is returned by New for inconsistent settings.
var ErrInvalidConfig = errors.New("invalid counter configuration")

// Config holds the construction parameters of a Counter.
type Config struct {
	LineX        float64
	HysteresisPx float64
	DirectionIn  Orientation
	// MaxAge is how long a track may go unseen before CleanupOldTracks drops it.
	MaxAge time.Duration
}

// Stats is a point-in-time snapshot of the counter.
type Stats struct {
	InCount      int `json:"in_count"`
	OutCount     int `json:"out_count"`
	ActiveTracks int `json:"active_tracks"`
}

// Option customizes a Counter.
type Option func(*Counter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Counter) {
		c.now = now
	}
}

// Counter is the line-crossing state machine.
type Counter struct {
	det      detector
	maxAge   time.Duration
	tracks   *registry
	inCount  int
	outCount int
	now      func() time.Time
}

// New validates cfg and returns a Counter with zero counts.
func New(cfg Config, opts ...Option) (*Counter, error) {
	if !isFinite(cfg.LineX) {
		return nil, fmt.Errorf("%w: line position must be finite, got %v", ErrInvalidConfig, cfg.LineX)
	}
	if !isFinite(cfg.HysteresisPx) || cfg.HysteresisPx < 0 {
		return nil, fmt.Errorf("%w: hysteresis must be >= 0, got %v", ErrInvalidConfig, cfg.HysteresisPx)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("%w: max age must be > 0, got %s", ErrInvalidConfig, cfg.MaxAge)
	}
	if _, err := ParseOrientation(string(cfg.DirectionIn)); err != nil {
		return nil, err
	}

	c := &Counter{
		det: detector{
			lineX:      cfg.LineX,
			hysteresis: cfg.HysteresisPx,
			dirIn:      cfg.DirectionIn,
		},
		maxAge: cfg.MaxAge,
		tracks: newRegistry(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ProcessDetection feeds one detection of trackID and returns the crossing it
// completed, or DirectionNone.
func (c *Counter) ProcessDetection(trackID int, bbox detection.BBox) Direction {
	cx, cy := bbox.Center()
	now := c.now()

	t, ok := c.tracks.get(trackID)
	if !ok {
		c.tracks.add(&TrackState{
			TrackID:     trackID,
			LastCenterX: cx,
			LastCenterY: cy,
			LastSide:    strictSide(cx, c.det.lineX),
			LastSeen:    now,
		})
		return DirectionNone
	}

	dir := c.det.evaluate(t, cx)
	switch dir {
	case DirectionIn:
		c.inCount++
	case DirectionOut:
		c.outCount++
	}
	t.updatePosition(cx, cy, now)

	if dir != DirectionNone {
		log.WithFields(log.Fields{
			"track_id":  trackID,
			"direction": dir,
			"cx":        cx,
			"line_x":    c.det.lineX,
		}).Debug("Line crossing counted")
	}
	return dir
}

// ResetCounts zeroes both totals and forgets every track.
func (c *Counter) ResetCounts() {
	c.inCount = 0
	c.outCount = 0
	c.tracks.clear()
}

// UpdateLinePosition moves the line. Tracks keep their positions but their
// side is recomputed against the new line and their counted state cleared.
func (c *Counter) UpdateLinePosition(x float64) {
	c.det.lineX = x
	c.tracks.resideAll(x)
}

// CleanupOldTracks removes tracks idle for longer than the max age and
// returns how many were removed.
func (c *Counter) CleanupOldTracks() int {
	return c.tracks.expire(c.now().Add(-c.maxAge))
}

// Stats returns the current totals and the live track count.
func (c *Counter) Stats() Stats {
	return Stats{
		InCount:      c.inCount,
		OutCount:     c.outCount,
		ActiveTracks: c.tracks.len(),
	}
}

// Track returns a copy of the state held for trackID.
func (c *Counter) Track(trackID int) (TrackState, bool) {
	t, ok := c.tracks.get(trackID)
	if !ok {
		return TrackState{}, false
	}
	return *t, true
}

func (c *Counter) LineX() float64 { return c.det.lineX }

func (c *Counter) HysteresisPx() float64 { return c.det.hysteresis }

func (c *Counter) DirectionIn() Orientation { return c.det.dirIn }
