package homeassistant

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"people-counter-go/internal/counter"
	"people-counter-go/internal/detection"
	"people-counter-go/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic   string
	payload []byte
	retain  bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
}

func (f *fakePublisher) PublishMessage(topic string, payload interface{}, retain bool) error {
	if f.err != nil {
		return f.err
	}
	var b []byte
	if s, ok := payload.(string); ok {
		b = []byte(s)
	} else {
		var err error
		if b, err = json.Marshal(payload); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic, b, retain})
	return nil
}

var ts = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func TestDiscovery_SensorConfigs(t *testing.T) {
	t.Parallel()
	dm := NewDiscoveryManager(&fakePublisher{}, "", "people-counter", "Front Door")

	configs := dm.SensorConfigs()
	require.Len(t, configs, 4)

	occ, ok := configs["homeassistant/sensor/people_counter_front_door/occupancy/config"]
	require.True(t, ok)
	assert.Equal(t, "people_counter_front_door_occupancy", occ.UniqueID)
	assert.Equal(t, "people-counter/front_door/state", occ.StateTopic)
	assert.Equal(t, "{{ value_json.occupancy }}", occ.ValueTemplate)
	assert.Equal(t, "people-counter/status", occ.AvailabilityTopic)
	assert.Equal(t, "measurement", occ.StateClass)
	require.NotNil(t, occ.Device)
	assert.Equal(t, []string{"people_counter_front_door"}, occ.Device.Identifiers)

	in := configs["homeassistant/sensor/people_counter_front_door/in_count/config"]
	assert.Equal(t, "total_increasing", in.StateClass)
	assert.Equal(t, "people", in.UnitOfMeasurement)
	assert.Empty(t, configs["homeassistant/sensor/people_counter_front_door/active_tracks/config"].UnitOfMeasurement)
}

func TestDiscovery_RegisterAndAvailability(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	dm := NewDiscoveryManager(pub, "ha", "pc", "entrance")

	require.NoError(t, dm.Register())
	require.Len(t, pub.messages, 4)
	for _, m := range pub.messages {
		assert.True(t, m.retain)
		assert.Contains(t, m.topic, "ha/sensor/people_counter_entrance/")
	}

	require.NoError(t, dm.PublishAvailability(true))
	require.NoError(t, dm.PublishAvailability(false))
	last := pub.messages[len(pub.messages)-2:]
	assert.Equal(t, message{"pc/status", []byte("online"), true}, last[0])
	assert.Equal(t, message{"pc/status", []byte("offline"), true}, last[1])

	failing := NewDiscoveryManager(&fakePublisher{err: errors.New("not connected")}, "ha", "pc", "entrance")
	assert.Error(t, failing.Register())
}

func TestPublisher_Handle(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	p := NewPublisher(pub, "pc")
	assert.Equal(t, "mqtt", p.Name())

	crossing := events.NewCrossingEvent("entrance", 7, counter.DirectionOut, detection.BBox{X2: 10, Y2: 20}, ts)
	require.NoError(t, p.Handle(crossing))
	require.NoError(t, p.Handle(events.IdentityEvent{PersonID: "P0001", TrackID: 7, Camera: "entrance", Timestamp: ts}))
	require.NoError(t, p.Handle(events.NewStatsEvent("entrance", counter.Stats{InCount: 3, OutCount: 1, ActiveTracks: 2}, ts)))

	require.Len(t, pub.messages, 3)
	assert.Equal(t, "pc/entrance/crossing", pub.messages[0].topic)
	assert.False(t, pub.messages[0].retain)
	assert.Equal(t, "pc/entrance/identity", pub.messages[1].topic)

	state := pub.messages[2]
	assert.Equal(t, "pc/entrance/state", state.topic)
	assert.True(t, state.retain)
	var got map[string]any
	require.NoError(t, json.Unmarshal(state.payload, &got))
	assert.EqualValues(t, 3, got["in_count"])
	assert.EqualValues(t, 2, got["occupancy"])

	failing := NewPublisher(&fakePublisher{err: errors.New("not connected")}, "pc")
	assert.ErrorContains(t, failing.Handle(crossing), "pc/entrance/crossing")
}

func TestSlug(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "front_door", slug(" Front Door "))
	assert.Equal(t, "cam_1", slug("cam-1"))
}
