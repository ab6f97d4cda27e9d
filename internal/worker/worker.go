// Package worker runs the frame loop: read a frame, detect people, assign
// track ids, count line crossings and identify people, then publish the
// results. It is the single owner of the counter and the Re-ID matcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"people-counter-go/internal/counter"
	"people-counter-go/internal/detection"
	"people-counter-go/internal/events"
	"people-counter-go/internal/metrics"
	"people-counter-go/internal/reid"
	"people-counter-go/internal/tracker"

	log "github.com/sirupsen/logrus"
)

// Status of the camera as seen by the worker.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusOnline       Status = "online"
	StatusOffline      Status = "offline"
	StatusStopped      Status = "stopped"
)

// ErrInvalidLine is returned by SetLine for positions outside the frame.
var ErrInvalidLine = errors.New("invalid line position")

// retryDelay is the pause after a failed read or detection.
const retryDelay = 100 * time.Millisecond

// Frame is one decoded camera image.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// FrameSource yields frames in capture order. Read blocks until a frame is
// available.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
}

// Detector finds people in a frame. TrackID of the returned detections is
// ignored; the worker assigns ids itself.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]detection.Detection, error)
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(events.Event) bool
}

// SettingsStore persists runtime line moves.
type SettingsStore interface {
	SaveCameraSettings(ctx context.Context, camera string, lineX float64, directionIn string) error
}

// Config holds the worker parameters that are not owned by its collaborators.
type Config struct {
	Camera string
	// LineSet is false when the line should be placed at the frame center
	// once the first frame arrives.
	LineSet         bool
	CleanupInterval time.Duration
}

// Deps are the collaborators of a Worker. Matcher, Settings and Metrics are
// optional.
type Deps struct {
	Source    FrameSource
	Detector  Detector
	Tracker   *tracker.IoUTracker
	Counter   *counter.Counter
	Matcher   *reid.Matcher
	Publisher Publisher
	Settings  SettingsStore
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Snapshot is the state reported by the stats endpoints.
type Snapshot struct {
	counter.Stats
	Occupancy    int       `json:"occupancy"`
	Status       Status    `json:"camera_status"`
	FPS          float64   `json:"fps"`
	LineX        float64   `json:"line_x"`
	DirectionIn  string    `json:"direction_in"`
	FrameWidth   int       `json:"frame_width"`
	FrameHeight  int       `json:"frame_height"`
	ReIDEnabled  bool      `json:"reid_enabled"`
	KnownPersons int       `json:"known_persons"`
	StartedAt    time.Time `json:"started_at"`
}

// Worker serializes all access to the counter, tracker and matcher behind
// one mutex.
type Worker struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu          sync.Mutex
	status      Status
	lineSet     bool
	frameWidth  int
	frameHeight int
	identified  map[int]string // track id -> person id
	lastCleanup time.Time
	startedAt   time.Time

	fps       float64
	fpsFrames int
	fpsWindow time.Time
}

// New checks the mandatory collaborators.
func New(cfg Config, deps Deps) (*Worker, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("worker: frame source is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("worker: detector is required")
	case deps.Tracker == nil:
		return nil, fmt.Errorf("worker: tracker is required")
	case deps.Counter == nil:
		return nil, fmt.Errorf("worker: counter is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("worker: publisher is required")
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Second
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	w := &Worker{
		cfg:        cfg,
		deps:       deps,
		now:        now,
		status:     StatusInitializing,
		lineSet:    cfg.LineSet,
		identified: make(map[int]string),
		startedAt:  now(),
	}
	w.registerMetrics()
	return w, nil
}

func (w *Worker) registerMetrics() {
	m := w.deps.Metrics
	if m == nil {
		return
	}
	m.RegisterGauge("people_counter_active_tracks", "Tracks currently held by the counter", func() float64 {
		return float64(w.Stats().ActiveTracks)
	})
	m.RegisterGauge("people_counter_occupancy", "IN minus OUT since the last reset", func() float64 {
		return float64(w.Stats().Occupancy)
	})
	m.RegisterGauge("people_counter_fps", "Processed frames per second", func() float64 {
		return w.Stats().FPS
	})
	m.RegisterGauge("people_counter_known_persons", "Persons held by the Re-ID ledger", func() float64 {
		return float64(w.Stats().KnownPersons)
	})
}

// Run processes frames until ctx is cancelled. Read and detection errors are
// logged and retried.
func (w *Worker) Run(ctx context.Context) error {
	log.Infof("CV worker started for camera '%s'", w.cfg.Camera)
	defer func() {
		w.setStatus(StatusStopped)
		log.Info("CV worker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, err := w.deps.Source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.inc(func(m *metrics.Metrics) { m.ReadErrors.Add(1) })
			if w.setStatus(StatusOffline) {
				log.Errorf("Failed to read frame from camera '%s': %v", w.cfg.Camera, err)
			}
			sleep(ctx, retryDelay)
			continue
		}
		if w.setStatus(StatusOnline) {
			log.Infof("Camera '%s' online", w.cfg.Camera)
		}
		w.inc(func(m *metrics.Metrics) { m.FramesRead.Add(1) })

		if err := w.ProcessFrame(ctx, frame); err != nil {
			log.Warnf("Frame processing failed: %v", err)
			sleep(ctx, retryDelay)
		}
	}
}

// ProcessFrame runs detection, tracking, counting and Re-ID for one frame.
func (w *Worker) ProcessFrame(ctx context.Context, frame Frame) error {
	start := w.now()

	dets, err := w.deps.Detector.Detect(ctx, frame)
	if err != nil {
		w.inc(func(m *metrics.Metrics) { m.DetectErrors.Add(1) })
		return fmt.Errorf("detect persons: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if frame.Image != nil {
		b := frame.Image.Bounds()
		w.frameWidth, w.frameHeight = b.Dx(), b.Dy()
	}
	if !w.lineSet && w.frameWidth > 0 {
		x := float64(w.frameWidth / 2)
		w.deps.Counter.UpdateLinePosition(x)
		w.lineSet = true
		log.Infof("Counting line set to frame center x=%v", x)
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = start
	}

	tracked := w.deps.Tracker.Update(dets)
	crossed := false
	for _, d := range tracked {
		if w.deps.Matcher != nil {
			if _, known := w.identified[d.TrackID]; !known {
				w.identify(d, frame, ts)
			}
		}

		dir := w.deps.Counter.ProcessDetection(d.TrackID, d.Box)
		if dir == counter.DirectionNone {
			continue
		}
		crossed = true

		ev := events.NewCrossingEvent(w.cfg.Camera, d.TrackID, dir, d.Box, ts)
		if w.deps.Matcher != nil {
			ev.PersonID = w.identify(d, frame, ts)
		}
		w.deps.Publisher.Publish(ev)
		w.inc(func(m *metrics.Metrics) {
			if dir == counter.DirectionIn {
				m.CrossingsIn.Add(1)
			} else {
				m.CrossingsOut.Add(1)
			}
		})
	}
	if crossed {
		w.publishStats(ts)
	}

	if w.now().Sub(w.lastCleanup) >= w.cfg.CleanupInterval {
		w.cleanupTracks()
		w.lastCleanup = w.now()
	}

	w.tickFPS()
	w.inc(func(m *metrics.Metrics) {
		m.FramesProcessed.Add(1)
		m.Detections.Add(uint64(len(tracked)))
		m.UpdateProcessLatency(w.now().Sub(start))
	})
	return nil
}

// identify runs Re-ID for d and returns the person id, or "" when the crop
// was unusable. Callers hold w.mu.
func (w *Worker) identify(d detection.Detection, frame Frame, ts time.Time) string {
	id, ok := w.deps.Matcher.Process(d.TrackID, d.Box, frame.Image)
	if !ok {
		return w.identified[d.TrackID]
	}
	w.identified[d.TrackID] = id.PersonID
	w.deps.Publisher.Publish(events.IdentityEvent{
		PersonID:   id.PersonID,
		TrackID:    d.TrackID,
		Similarity: id.Similarity,
		New:        id.New,
		Timestamp:  ts,
		Camera:     w.cfg.Camera,
	})
	w.inc(func(m *metrics.Metrics) {
		if id.New {
			m.ReIDRegistrations.Add(1)
		} else {
			m.ReIDMatches.Add(1)
		}
	})
	return id.PersonID
}

func (w *Worker) cleanupTracks() {
	if n := w.deps.Counter.CleanupOldTracks(); n > 0 {
		log.Debugf("Removed %d stale tracks", n)
	}
	for tid := range w.identified {
		if _, ok := w.deps.Counter.Track(tid); !ok {
			delete(w.identified, tid)
		}
	}
}

func (w *Worker) tickFPS() {
	now := w.now()
	if w.fpsWindow.IsZero() {
		w.fpsWindow = now
		return
	}
	w.fpsFrames++
	if elapsed := now.Sub(w.fpsWindow); elapsed >= time.Second {
		w.fps = float64(w.fpsFrames) / elapsed.Seconds()
		w.fpsFrames = 0
		w.fpsWindow = now
	}
}

func (w *Worker) publishStats(ts time.Time) {
	w.deps.Publisher.Publish(events.NewStatsEvent(w.cfg.Camera, w.deps.Counter.Stats(), ts))
}

// Reset zeroes the counts and forgets every track.
func (w *Worker) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.deps.Counter.ResetCounts()
	w.deps.Tracker.Reset()
	w.identified = make(map[int]string)
	log.Info("Counters reset")
	w.publishStats(w.now())
}

// SetLine moves the counting line and persists the new position.
func (w *Worker) SetLine(ctx context.Context, x float64) error {
	w.mu.Lock()
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 || (w.frameWidth > 0 && x > float64(w.frameWidth)) {
		w.mu.Unlock()
		return fmt.Errorf("%w: x=%v outside frame width %d", ErrInvalidLine, x, w.frameWidth)
	}
	w.deps.Counter.UpdateLinePosition(x)
	w.lineSet = true
	dirIn := string(w.deps.Counter.DirectionIn())
	w.publishStats(w.now())
	w.mu.Unlock()

	log.Infof("Counting line moved to x=%v", x)
	if w.deps.Settings == nil {
		return nil
	}
	if err := w.deps.Settings.SaveCameraSettings(ctx, w.cfg.Camera, x, dirIn); err != nil {
		return fmt.Errorf("line moved but not persisted: %w", err)
	}
	return nil
}

// Stats returns the current counts and camera state.
func (w *Worker) Stats() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.deps.Counter.Stats()
	snap := Snapshot{
		Stats:       s,
		Occupancy:   max(s.InCount-s.OutCount, 0),
		Status:      w.status,
		FPS:         w.fps,
		LineX:       w.deps.Counter.LineX(),
		DirectionIn: string(w.deps.Counter.DirectionIn()),
		FrameWidth:  w.frameWidth,
		FrameHeight: w.frameHeight,
		ReIDEnabled: w.deps.Matcher != nil,
		StartedAt:   w.startedAt,
	}
	if w.deps.Matcher != nil {
		snap.KnownPersons = w.deps.Matcher.Ledger().Len()
	}
	return snap
}

// Persons lists the Re-ID ledger. It is empty when Re-ID is disabled.
func (w *Worker) Persons() []reid.Person {
	if w.deps.Matcher == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deps.Matcher.Ledger().Persons()
}

// Person returns one ledger record.
func (w *Worker) Person(id string) (reid.Person, bool) {
	if w.deps.Matcher == nil {
		return reid.Person{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deps.Matcher.Ledger().Person(id)
}

// ResetPersons clears the Re-ID ledger.
func (w *Worker) ResetPersons() {
	if w.deps.Matcher == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.deps.Matcher.Ledger().Reset()
	w.identified = make(map[int]string)
}

// PrunePersons drops persons not seen for maxAge and returns how many.
func (w *Worker) PrunePersons(maxAge time.Duration) int {
	if w.deps.Matcher == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.deps.Matcher.Ledger().ClearOldPersons(maxAge)
	for tid, pid := range w.identified {
		if _, ok := w.deps.Matcher.Ledger().Person(pid); !ok {
			delete(w.identified, tid)
		}
	}
	return n
}

// setStatus reports whether the status changed.
func (w *Worker) setStatus(s Status) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == s {
		return false
	}
	w.status = s
	return true
}

func (w *Worker) inc(fn func(*metrics.Metrics)) {
	if w.deps.Metrics != nil {
		fn(w.deps.Metrics)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
