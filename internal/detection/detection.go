// Package detection holds the types exchanged between the person detector,
// the tracker and the counting core.
package detection

import "image"

// BBox is an axis aligned bounding box in frame pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// FromRect converts an integer rectangle.
func FromRect(r image.Rectangle) BBox {
	return BBox{
		X1: float64(r.Min.X),
		Y1: float64(r.Min.Y),
		X2: float64(r.Max.X),
		Y2: float64(r.Max.Y),
	}
}

// Center returns the box center.
func (b BBox) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

func (b BBox) Width() float64  { return b.X2 - b.X1 }
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Area is zero for inverted boxes.
func (b BBox) Area() float64 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b BBox) float64 {
	inter := BBox{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	return inter / (a.Area() + b.Area() - inter)
}

// Detection is one person found in a frame. TrackID is zero until a tracker
// has assigned one.
type Detection struct {
	TrackID    int     `json:"track_id"`
	Box        BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}
