package objectdetection

import (
	"fmt"
	"image"
	"math"

	"go.viam.com/tinyyolo/utils"
)

// Rect is an axis aligned rectangle in normalized [0,1] image coordinates.
type Rect struct {
	X, Y, W, H float64
}

// UnitRect covers the whole image.
var UnitRect = Rect{0, 0, 1, 1}

// Area is W*H, or 0 for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.Empty() {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle lacks a positive width and height. NaN sizes are empty.
func (r Rect) Empty() bool {
	return !(r.W > 0 && r.H > 0)
}

// Intersect returns the overlap of r and s. The result is Empty when they do not overlap.
func (r Rect) Intersect(s Rect) Rect {
	x0 := math.Max(r.X, s.X)
	y0 := math.Max(r.Y, s.Y)
	x1 := math.Min(r.X+r.W, s.X+s.W)
	y1 := math.Min(r.Y+r.H, s.Y+s.H)
	// positive form so NaN corners yield an empty rect
	if !(x1 > x0 && y1 > y0) {
		return Rect{}
	}
	return Rect{x0, y0, x1 - x0, y1 - y0}
}

// Clip restricts r to the unit square.
func (r Rect) Clip() Rect {
	return r.Intersect(UnitRect)
}

// FlipY converts between bottom-left and top-left origins.
func (r Rect) FlipY() Rect {
	return Rect{r.X, 1 - r.Y - r.H, r.W, r.H}
}

// Center returns the normalized center point.
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Denormalize scales r to pixel coordinates of an image with the given bounds.
func (r Rect) Denormalize(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	x0 := utils.Clamp(int(math.Round(r.X*w)), 0, bounds.Dx())
	y0 := utils.Clamp(int(math.Round(r.Y*h)), 0, bounds.Dy())
	x1 := utils.Clamp(int(math.Round((r.X+r.W)*w)), 0, bounds.Dx())
	y1 := utils.Clamp(int(math.Round((r.Y+r.H)*h)), 0, bounds.Dy())
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min)
}

func (r Rect) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f, %.3f)", r.X, r.Y, r.W, r.H)
}

// IoU is the intersection over union of two rectangles. It is 0 when either one has no area or
// they do not overlap.
func IoU(a, b Rect) float64 {
	if a.Empty() || b.Empty() {
		return 0
	}
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := inter.Area()
	union := a.Area() + b.Area() - interArea
	if !(union > 0) {
		return 0
	}
	return interArea / union
}
