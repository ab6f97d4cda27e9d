package counter

import (
	"math"
	"testing"
	"time"

	"people-counter-go/internal/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCounter(t *testing.T, lineX, h float64, dirIn Orientation) (*Counter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(Config{
		LineX:        lineX,
		HysteresisPx: h,
		DirectionIn:  dirIn,
		MaxAge:       10 * time.Second,
	}, WithClock(clk.Now))
	require.NoError(t, err)
	return c, clk
}

func bb(x1, y1, x2, y2 float64) detection.BBox {
	return detection.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// box builds a 50px wide box centered on cx.
func box(cx float64) detection.BBox {
	return detection.BBox{X1: cx - 25, Y1: 100, X2: cx + 25, Y2: 200}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative hysteresis", Config{LineX: 500, HysteresisPx: -1, DirectionIn: LeftToRight, MaxAge: time.Second}},
		{"zero max age", Config{LineX: 500, HysteresisPx: 5, DirectionIn: LeftToRight}},
		{"unknown direction", Config{LineX: 500, HysteresisPx: 5, DirectionIn: "up", MaxAge: time.Second}},
		{"NaN line", Config{LineX: math.NaN(), HysteresisPx: 5, DirectionIn: LeftToRight, MaxAge: time.Second}},
		{"infinite line", Config{LineX: math.Inf(1), HysteresisPx: 5, DirectionIn: LeftToRight, MaxAge: time.Second}},
		{"NaN hysteresis", Config{LineX: 500, HysteresisPx: math.NaN(), DirectionIn: LeftToRight, MaxAge: time.Second}},
		{"infinite hysteresis", Config{LineX: 500, HysteresisPx: math.Inf(1), DirectionIn: LeftToRight, MaxAge: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_InitialState(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 10, LeftToRight)

	assert.Equal(t, 500.0, c.LineX())
	assert.Equal(t, 10.0, c.HysteresisPx())
	assert.Equal(t, LeftToRight, c.DirectionIn())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestProcessDetection_Scenarios(t *testing.T) {
	t.Parallel()

	t.Run("A left to right counts IN", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestCounter(t, 500, 10, LeftToRight)
		assert.Equal(t, DirectionNone, c.ProcessDetection(1, bb(400, 100, 450, 200)))
		assert.Equal(t, DirectionIn, c.ProcessDetection(1, bb(550, 100, 600, 200)))
		assert.Equal(t, 1, c.Stats().InCount)
		assert.Equal(t, 0, c.Stats().OutCount)
	})

	t.Run("B right to left counts OUT", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestCounter(t, 500, 10, LeftToRight)
		assert.Equal(t, DirectionNone, c.ProcessDetection(2, bb(600, 150, 650, 250)))
		assert.Equal(t, DirectionOut, c.ProcessDetection(2, bb(400, 150, 450, 250)))
		assert.Equal(t, 0, c.Stats().InCount)
		assert.Equal(t, 1, c.Stats().OutCount)
	})

	t.Run("C band stop then cross", func(t *testing.T) {
		t.Parallel()
		c, _ := newTestCounter(t, 500, 10, LeftToRight)
		assert.Equal(t, DirectionNone, c.ProcessDetection(3, bb(400, 100, 450, 200)))
		assert.Equal(t, DirectionNone, c.ProcessDetection(3, bb(495, 100, 505, 200)))
		assert.Equal(t, DirectionIn, c.ProcessDetection(3, bb(520, 100, 570, 200)))
		assert.Equal(t, 1, c.Stats().InCount)
	})
}

func TestProcessDetection_FirstDetectionNeverCrosses(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 10, LeftToRight)

	for id, cx := range []float64{0, 425, 489, 500, 511, 575, 1920} {
		assert.Equal(t, DirectionNone, c.ProcessDetection(id, box(cx)), "cx=%v", cx)
	}
	assert.Equal(t, Stats{ActiveTracks: 7}, c.Stats())
}

func TestProcessDetection_InBandNeverCrosses(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 10, LeftToRight)

	path := []float64{490, 510, 495, 505, 500, 490, 510}
	for _, cx := range path {
		assert.Equal(t, DirectionNone, c.ProcessDetection(7, box(cx)), "cx=%v", cx)
	}
	assert.Equal(t, 0, c.Stats().InCount)
	assert.Equal(t, 0, c.Stats().OutCount)
}

func TestProcessDetection_JitterOnFarSideCountsOnce(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 10, LeftToRight)

	c.ProcessDetection(1, box(450))
	assert.Equal(t, DirectionIn, c.ProcessDetection(1, box(515)))
	// oscillate between the band and the right side
	for _, cx := range []float64{505, 515, 498, 520, 509, 530} {
		assert.Equal(t, DirectionNone, c.ProcessDetection(1, box(cx)), "cx=%v", cx)
	}
	assert.Equal(t, 1, c.Stats().InCount)
	assert.Equal(t, 0, c.Stats().OutCount)
}

func TestProcessDetection_SameDirectionCountedOncePerTrack(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 5, LeftToRight)

	c.ProcessDetection(4, bb(400, 100, 450, 200))
	assert.Equal(t, DirectionIn, c.ProcessDetection(4, bb(550, 100, 600, 200)))

	// back to the left is an independent OUT crossing
	assert.Equal(t, DirectionOut, c.ProcessDetection(4, bb(400, 100, 450, 200)))

	// crossing right again is suppressed, so is left again
	assert.Equal(t, DirectionNone, c.ProcessDetection(4, bb(550, 100, 600, 200)))
	assert.Equal(t, DirectionNone, c.ProcessDetection(4, bb(400, 100, 450, 200)))

	assert.Equal(t, 1, c.Stats().InCount)
	assert.Equal(t, 1, c.Stats().OutCount)

	st, ok := c.Track(4)
	require.True(t, ok)
	assert.Equal(t, DirectionOut, st.CountedDirection)
	assert.Equal(t, SideLeft, st.LastSide)
}

func TestProcessDetection_MultipleTracksIndependent(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 5, LeftToRight)

	c.ProcessDetection(5, bb(400, 100, 450, 200))
	c.ProcessDetection(6, bb(420, 150, 470, 250))
	c.ProcessDetection(7, bb(580, 200, 630, 300))

	assert.Equal(t, DirectionIn, c.ProcessDetection(5, bb(550, 100, 600, 200)))
	assert.Equal(t, DirectionIn, c.ProcessDetection(6, bb(560, 150, 610, 250)))
	assert.Equal(t, DirectionOut, c.ProcessDetection(7, bb(420, 200, 470, 300)))

	assert.Equal(t, Stats{InCount: 2, OutCount: 1, ActiveTracks: 3}, c.Stats())
}

func TestProcessDetection_RightToLeftOrientation(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 10, RightToLeft)

	c.ProcessDetection(1, box(425))
	assert.Equal(t, DirectionOut, c.ProcessDetection(1, box(575)))

	c.ProcessDetection(2, box(625))
	assert.Equal(t, DirectionIn, c.ProcessDetection(2, box(425)))

	assert.Equal(t, 1, c.Stats().InCount)
	assert.Equal(t, 1, c.Stats().OutCount)
}

func TestProcessDetection_RegisteredOnLineAdoptsFirstSide(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 10, LeftToRight)

	assert.Equal(t, DirectionNone, c.ProcessDetection(1, box(500)))
	st, _ := c.Track(1)
	assert.Equal(t, SideNone, st.LastSide)

	// still on the line: nothing to adopt yet
	assert.Equal(t, DirectionNone, c.ProcessDetection(1, box(500)))
	// first off-line position only establishes the side
	assert.Equal(t, DirectionNone, c.ProcessDetection(1, box(520)))
	st, _ = c.Track(1)
	assert.Equal(t, SideRight, st.LastSide)

	assert.Equal(t, DirectionOut, c.ProcessDetection(1, box(470)))
}

func TestProcessDetection_ZeroHysteresis(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 0, LeftToRight)

	c.ProcessDetection(1, box(499))
	assert.Equal(t, DirectionNone, c.ProcessDetection(1, box(500)))
	assert.Equal(t, DirectionIn, c.ProcessDetection(1, box(501)))
}

func TestProcessDetection_UpdatesPositionEveryCall(t *testing.T) {
	t.Parallel()
	c, clk := newTestCounter(t, 500, 10, LeftToRight)

	c.ProcessDetection(1, bb(400, 100, 450, 200))
	clk.Advance(time.Second)
	c.ProcessDetection(1, bb(490, 120, 500, 220))

	st, ok := c.Track(1)
	require.True(t, ok)
	assert.Equal(t, 495.0, st.LastCenterX)
	assert.Equal(t, 170.0, st.LastCenterY)
	assert.Equal(t, clk.Now(), st.LastSeen)
	assert.Equal(t, SideLeft, st.LastSide)
}

func TestCrossingLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prev, curr Side
		dirIn      Orientation
		want       Direction
	}{
		{SideLeft, SideRight, LeftToRight, DirectionIn},
		{SideRight, SideLeft, LeftToRight, DirectionOut},
		{SideLeft, SideRight, RightToLeft, DirectionOut},
		{SideRight, SideLeft, RightToLeft, DirectionIn},
		{SideLeft, SideLeft, LeftToRight, DirectionNone},
		{SideRight, SideRight, RightToLeft, DirectionNone},
		{SideNone, SideRight, LeftToRight, DirectionNone},
		{SideLeft, SideNone, LeftToRight, DirectionNone},
	}
	for _, tt := range tests {
		got := crossingLabel(tt.prev, tt.curr, tt.dirIn)
		assert.Equal(t, tt.want, got, "%s -> %s with %s", tt.prev, tt.curr, tt.dirIn)
	}
}

func TestResetCounts(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 5, LeftToRight)

	c.ProcessDetection(9, bb(400, 100, 450, 200))
	c.ProcessDetection(9, bb(550, 100, 600, 200))
	c.ProcessDetection(10, box(700))
	c.ProcessDetection(10, box(300))
	require.Equal(t, Stats{InCount: 1, OutCount: 1, ActiveTracks: 2}, c.Stats())

	c.ResetCounts()
	assert.Equal(t, Stats{}, c.Stats())
	_, ok := c.Track(9)
	assert.False(t, ok)

	// a known id is fresh again after reset
	assert.Equal(t, DirectionNone, c.ProcessDetection(9, bb(550, 100, 600, 200)))
}

func TestUpdateLinePosition(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 5, LeftToRight)

	c.ProcessDetection(10, bb(400, 100, 450, 200))
	c.ProcessDetection(10, bb(550, 100, 600, 200))
	st, _ := c.Track(10)
	require.Equal(t, DirectionIn, st.CountedDirection)

	c.UpdateLinePosition(600)
	assert.Equal(t, 600.0, c.LineX())

	st, ok := c.Track(10)
	require.True(t, ok, "tracks survive a line move")
	assert.Equal(t, DirectionNone, st.CountedDirection)
	assert.Equal(t, SideLeft, st.LastSide, "575 is left of the new line")
	assert.Equal(t, 1, c.Stats().InCount, "totals survive a line move")

	// the same track may count IN again against the new line
	assert.Equal(t, DirectionIn, c.ProcessDetection(10, box(650)))
	assert.Equal(t, 2, c.Stats().InCount)
}

func TestCleanupOldTracks(t *testing.T) {
	t.Parallel()
	c, clk := newTestCounter(t, 500, 5, LeftToRight)

	c.ProcessDetection(1, box(400))
	c.ProcessDetection(2, box(600))
	clk.Advance(8 * time.Second)
	c.ProcessDetection(2, box(610))

	clk.Advance(3 * time.Second)
	assert.Equal(t, 1, c.CleanupOldTracks())
	_, ok := c.Track(1)
	assert.False(t, ok)
	_, ok = c.Track(2)
	assert.True(t, ok)

	assert.Equal(t, 0, c.CleanupOldTracks())
	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, c.CleanupOldTracks())
	assert.Equal(t, 0, c.Stats().ActiveTracks)
}

func TestStats_Idempotent(t *testing.T) {
	t.Parallel()
	c, _ := newTestCounter(t, 500, 5, LeftToRight)

	c.ProcessDetection(11, bb(400, 100, 450, 200))
	c.ProcessDetection(11, bb(550, 100, 600, 200))
	c.ProcessDetection(12, bb(600, 100, 650, 200))

	first := c.Stats()
	second := c.Stats()
	assert.Equal(t, first, second)
	assert.Equal(t, Stats{InCount: 1, OutCount: 0, ActiveTracks: 2}, first)
}

func TestParseOrientation(t *testing.T) {
	t.Parallel()

	o, err := ParseOrientation("R->L")
	require.NoError(t, err)
	assert.Equal(t, RightToLeft, o)

	_, err = ParseOrientation("left")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
