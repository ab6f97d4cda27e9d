package reid

import (
	"testing"

	"people-counter-go/internal/detection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	l, _ := newTestLedger(t, defaultLedgerConfig())
	return NewMatcher(l)
}

func TestMatcher_RegistersThenRecognizes(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)
	frame := testFrame()

	first, ok := m.Process(1, personA, frame)
	require.True(t, ok)
	assert.True(t, first.New)
	assert.Equal(t, "P0001", first.PersonID)
	assert.Equal(t, 1.0, first.Similarity)

	again, ok := m.Process(2, personA, frame)
	require.True(t, ok)
	assert.False(t, again.New)
	assert.Equal(t, "P0001", again.PersonID)
	assert.InDelta(t, 1.0, again.Similarity, 1e-9)

	p, _ := m.Ledger().Person("P0001")
	assert.Equal(t, 2, p.AppearanceCount)
	assert.Equal(t, []int{1, 2}, p.TrackIDs)
	owner, _ := m.Ledger().OwnerOf(2)
	assert.Equal(t, "P0001", owner)
}

func TestMatcher_SeparatesDifferentPeople(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)
	frame := testFrame()

	a, ok := m.Process(1, personA, frame)
	require.True(t, ok)
	b, ok := m.Process(2, personB, frame)
	require.True(t, ok)

	assert.NotEqual(t, a.PersonID, b.PersonID)
	assert.True(t, b.New)
	assert.Equal(t, 2, m.Ledger().Len())

	tight, ok := m.Process(3, detection.BBox{X1: 402, Y1: 104, X2: 448, Y2: 296}, frame)
	require.True(t, ok)
	assert.Equal(t, b.PersonID, tight.PersonID)
}

func TestMatcher_DegenerateCropLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()
	m := newTestMatcher(t)

	_, ok := m.Process(1, detection.BBox{X1: 700, Y1: 10, X2: 760, Y2: 120}, testFrame())
	assert.False(t, ok)
	_, ok = m.Process(1, personA, nil)
	assert.False(t, ok)
	assert.Zero(t, m.Ledger().Len())
}
