package counter

import "fmt"

// Direction is the logical label of a counted crossing.
type Direction string

const (
	DirectionNone Direction = ""
	DirectionIn   Direction = "IN"
	DirectionOut  Direction = "OUT"
)

// Orientation names the geometric direction that counts as IN.
type Orientation string

const (
	LeftToRight Orientation = "L->R"
	RightToLeft Orientation = "R->L"
)

// ParseOrientation accepts the two configuration spellings of direction_in.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case LeftToRight, RightToLeft:
		return Orientation(s), nil
	}
	return "", fmt.Errorf("%w: direction_in must be %q or %q, got %q", ErrInvalidConfig, LeftToRight, RightToLeft, s)
}

// strictSide classifies cx against the line itself, without hysteresis.
func strictSide(cx, lineX float64) Side {
	switch {
	case cx < lineX:
		return SideLeft
	case cx > lineX:
		return SideRight
	}
	return SideNone
}

// bandSide classifies cx against the hysteresis band. Positions inside
// [lineX-h, lineX+h] report SideNone.
func bandSide(cx, lineX, h float64) Side {
	switch {
	case cx < lineX-h:
		return SideLeft
	case cx > lineX+h:
		return SideRight
	}
	return SideNone
}

// crossingLabel maps a geometric side change to IN or OUT.
func crossingLabel(prev, curr Side, dirIn Orientation) Direction {
	var leftToRight bool
	switch {
	case prev == SideLeft && curr == SideRight:
		leftToRight = true
	case prev == SideRight && curr == SideLeft:
		leftToRight = false
	default:
		return DirectionNone
	}
	if leftToRight == (dirIn == LeftToRight) {
		return DirectionIn
	}
	return DirectionOut
}

// detector applies the hysteresis and once-per-direction policy to a single
// track observation.
type detector struct {
	lineX      float64
	hysteresis float64
	dirIn      Orientation
}

// evaluate advances t's side state for a new center x and returns the label
// to count, if any. It never touches position or timestamps.
func (d *detector) evaluate(t *TrackState, cx float64) Direction {
	if t.LastSide == SideNone {
		// registered exactly on the line; adopt the first off-line side
		t.LastSide = strictSide(cx, d.lineX)
		return DirectionNone
	}

	curr := bandSide(cx, d.lineX, d.hysteresis)
	if curr == SideNone || curr == t.LastSide {
		return DirectionNone
	}

	label := crossingLabel(t.LastSide, curr, d.dirIn)
	t.LastSide = curr
	if t.hasCounted(label) {
		return DirectionNone
	}
	t.markCounted(label)
	return label
}
