package core

import "math"

// Canvas extent: every object's bounding box must stay inside
// [0, CanvasExtent] on both axes after every mutation.
const (
	CanvasExtent  = 5000.0
	MinObjectSize = 1.0
)

// Point is a position on the canvas.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned bounding box with a top-left origin.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bounds returns the effective bounding box of o. This is the single place
// that converts between the circle center-point convention and the top-left
// convention used by rectangles and text.
func Bounds(o *CanvasObject) Rect {
	switch o.Type {
	case Circle:
		return Rect{
			X:      o.X - o.Radius,
			Y:      o.Y - o.Radius,
			Width:  2 * o.Radius,
			Height: 2 * o.Radius,
		}
	default:
		return Rect{X: o.X, Y: o.Y, Width: o.Width, Height: o.Height}
	}
}

// Sanitize normalizes rotation and clamps size and position so the bounding
// box stays within the canvas extent. Sanitizing an already-valid object is
// a no-op.
func (o *CanvasObject) Sanitize() {
	o.Rotation = NormalizeRotation(o.Rotation)

	switch o.Type {
	case Circle:
		o.Radius = clamp(o.Radius, MinObjectSize/2, CanvasExtent/2)
		o.X = clamp(o.X, o.Radius, CanvasExtent-o.Radius)
		o.Y = clamp(o.Y, o.Radius, CanvasExtent-o.Radius)
	default:
		o.Width = clamp(o.Width, MinObjectSize, CanvasExtent)
		o.Height = clamp(o.Height, MinObjectSize, CanvasExtent)
		o.X = clamp(o.X, 0, CanvasExtent-o.Width)
		o.Y = clamp(o.Y, 0, CanvasExtent-o.Height)
	}
}

// NormalizeRotation maps degrees onto [0, 360).
func NormalizeRotation(deg float64) float64 {
	r := math.Mod(deg, 360)
	if r < 0 {
		r += 360
	}
	return r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
