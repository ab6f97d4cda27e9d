package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"people-counter-go/internal/counter"
	"people-counter-go/internal/detection"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	name string
	mu   sync.Mutex
	got  []Event
	err  error
}

func (c *collector) Name() string { return c.name }

func (c *collector) Handle(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, e)
	return c.err
}

func (c *collector) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.got...)
}

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestDispatcher_DeliversToAllHandlersInOrder(t *testing.T) {
	t.Parallel()
	failing := &collector{name: "failing", err: errors.New("broker down")}
	ok := &collector{name: "ok"}

	d := NewDispatcher(16, failing)
	d.AddHandler(ok)
	d.Start()

	for i := 1; i <= 5; i++ {
		require.True(t, d.Publish(IdentityEvent{PersonID: "P0001", TrackID: i}))
	}
	d.Stop()

	for _, c := range []*collector{failing, ok} {
		got := c.events()
		require.Len(t, got, 5, c.name)
		for i, e := range got {
			assert.Equal(t, i+1, e.(IdentityEvent).TrackID)
		}
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(4)
	d.SetDurableWait(10 * time.Millisecond)

	// not started: nothing drains the queue
	for range 3 {
		assert.True(t, d.Publish(StatsEvent{}))
	}
	assert.False(t, d.Publish(IdentityEvent{}), "last slot is reserved for crossings")
	assert.True(t, d.Publish(CrossingEvent{TrackID: 1}))
	assert.False(t, d.Publish(CrossingEvent{TrackID: 2}), "dropped after the durable wait")
	assert.Equal(t, uint64(2), d.Dropped())
	assert.Equal(t, 4, d.Pending())
}

func TestDispatcher_CrossingWaitsForRoom(t *testing.T) {
	t.Parallel()
	c := &collector{name: "db"}
	d := NewDispatcher(4, c)
	d.SetDurableWait(5 * time.Second)

	for i := 1; i <= 4; i++ {
		require.True(t, d.Publish(CrossingEvent{TrackID: i}))
	}

	accepted := make(chan bool, 1)
	go func() { accepted <- d.Publish(CrossingEvent{TrackID: 5}) }()

	time.Sleep(20 * time.Millisecond)
	d.Start()

	select {
	case ok := <-accepted:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("publish still blocked after the queue drained")
	}
	d.Stop()

	got := c.events()
	require.Len(t, got, 5)
	assert.Zero(t, d.Dropped())
	assert.Equal(t, 5, got[4].(CrossingEvent).TrackID)
}

func TestDispatcher_StopReleasesWaitingCrossing(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(1)
	d.SetDurableWait(time.Minute)
	require.True(t, d.Publish(CrossingEvent{TrackID: 1}))

	accepted := make(chan bool, 1)
	go func() { accepted <- d.Publish(CrossingEvent{TrackID: 2}) }()
	time.Sleep(20 * time.Millisecond)

	// Stop without Start: nobody drains, the waiting publisher must give up
	d.Stop()
	select {
	case ok := <-accepted:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("publish not released by stop")
	}
}

func TestDispatcher_StopFlushesAndRejects(t *testing.T) {
	t.Parallel()
	c := &collector{name: "c"}
	d := NewDispatcher(8, c)

	d.Publish(StatsEvent{InCount: 1})
	d.Publish(StatsEvent{InCount: 2})
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()

	assert.Len(t, c.events(), 2)
	assert.False(t, d.Publish(StatsEvent{}), "closed dispatcher rejects events")
}

func TestHandlerFunc(t *testing.T) {
	t.Parallel()
	var seen string
	h := HandlerFunc{ID: "fn", Fn: func(e Event) error {
		seen = e.Kind()
		return nil
	}}
	assert.Equal(t, "fn", h.Name())
	require.NoError(t, h.Handle(CrossingEvent{}))
	assert.Equal(t, KindCrossing, seen)
}

func TestNewCrossingEvent(t *testing.T) {
	t.Parallel()
	box := detection.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}
	a := NewCrossingEvent("entrance", 7, counter.DirectionIn, box, ts)
	b := NewCrossingEvent("entrance", 7, counter.DirectionIn, box, ts)

	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 7, a.TrackID)
	assert.Equal(t, counter.DirectionIn, a.Direction)
	assert.Equal(t, box, a.BBox)
	assert.Equal(t, "entrance", a.Camera)
}

func TestNewStatsEvent_OccupancyNotNegative(t *testing.T) {
	t.Parallel()
	s := NewStatsEvent("cam", counter.Stats{InCount: 2, OutCount: 5, ActiveTracks: 1}, ts)
	assert.Zero(t, s.Occupancy)

	s = NewStatsEvent("cam", counter.Stats{InCount: 7, OutCount: 5}, ts)
	assert.Equal(t, 2, s.Occupancy)
}

func TestWrap_JSON(t *testing.T) {
	t.Parallel()
	e := NewCrossingEvent("cam", 3, counter.DirectionOut, detection.BBox{X2: 10, Y2: 20}, ts)
	e.PersonID = "P0002"

	data, err := json.Marshal(Wrap(e))
	require.NoError(t, err)

	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindCrossing, decoded.Type)
	assert.Equal(t, "OUT", decoded.Data["direction"])
	assert.Equal(t, "P0002", decoded.Data["person_id"])
	assert.Equal(t, e.ID.String(), decoded.Data["id"])
	assert.EqualValues(t, 3, decoded.Data["track_id"])
}
