// Package boxes - bounding box geometry and encoding for two-stage
// detection: IoU, regression deltas, RoI tagging, NMS and result grouping.
package boxes

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Box is an axis-aligned box in (x1, y1, x2, y2) corner form. Coordinates
// are continuous pixel positions; X2/Y2 are inclusive of the far edge the
// way detector outputs conventionally are.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the box width.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns the box height.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the box area, never negative.
func (b Box) Area() float32 {
	return math32.Max(0, b.Width()) * math32.Max(0, b.Height())
}

// CenterX returns the horizontal center of the box.
func (b Box) CenterX() float32 { return (b.X1 + b.X2) * 0.5 }

// CenterY returns the vertical center of the box.
func (b Box) CenterY() float32 { return (b.Y1 + b.Y2) * 0.5 }

// Clip clamps the box to an image of the given height and width.
func (b Box) Clip(height, width float32) Box {
	return Box{
		X1: math32.Min(math32.Max(b.X1, 0), width),
		Y1: math32.Min(math32.Max(b.Y1, 0), height),
		X2: math32.Min(math32.Max(b.X2, 0), width),
		Y2: math32.Min(math32.Max(b.Y2, 0), height),
	}
}

// Scale multiplies every coordinate by f. Used to move detections between
// the test resolution and the original image resolution.
func (b Box) Scale(f float32) Box {
	return Box{X1: b.X1 * f, Y1: b.Y1 * f, X2: b.X2 * f, Y2: b.Y2 * f}
}

func (b Box) String() string {
	return fmt.Sprintf("(%.1f, %.1f)-(%.1f, %.1f)", b.X1, b.Y1, b.X2, b.Y2)
}

// IoU computes the Intersection over Union of two boxes. Non-overlapping
// boxes score 0; identical boxes score 1.
func IoU(a, b Box) float32 {
	ix1 := math32.Max(a.X1, b.X1)
	iy1 := math32.Max(a.Y1, b.Y1)
	ix2 := math32.Min(a.X2, b.X2)
	iy2 := math32.Min(a.Y2, b.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// IoF computes the intersection area over the area of a (the "foreground"
// box). Used to test proposals against ignore regions, where the question
// is how much of the proposal falls inside the region.
func IoF(a, b Box) float32 {
	ix1 := math32.Max(a.X1, b.X1)
	iy1 := math32.Max(a.Y1, b.Y1)
	ix2 := math32.Min(a.X2, b.X2)
	iy2 := math32.Min(a.Y2, b.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	areaA := a.Area()
	if areaA <= 0 {
		return 0
	}
	return interW * interH / areaA
}

// Detection is a final scored, labelled box. Label 0 is background and never
// appears in detection output; foreground labels start at 1.
type Detection struct {
	Box   Box
	Score float32
	Label int
}

func (d Detection) String() string {
	return fmt.Sprintf("label=%d score=%.3f box=%s", d.Label, d.Score, d.Box)
}
