package images

// Rect is a lightweight integer bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Dx returns the rectangle width.
func (r Rect) Dx() int { return r.X2 - r.X1 }

// Dy returns the rectangle height.
func (r Rect) Dy() int { return r.Y2 - r.Y1 }

// Clip clamps the rectangle to a width x height frame.
func (r Rect) Clip(width, height int) Rect {
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	return Rect{
		X1: clamp(r.X1, width),
		Y1: clamp(r.Y1, height),
		X2: clamp(r.X2, width),
		Y2: clamp(r.Y2, height),
	}
}

// CalculateIoU computes the Intersection over Union of two rectangles.
//
// The intersection corners come from the max of the starting coordinates
// and the min of the ending coordinates; a non-positive width or height
// means the rectangles do not overlap. The union uses inclusion-exclusion:
// Area(A) + Area(B) - Area(Intersection).
func CalculateIoU(r, o Rect) float32 {
	ix1 := max(r.X1, o.X1)
	iy1 := max(r.Y1, o.Y1)
	ix2 := min(r.X2, o.X2)
	iy2 := min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	areaR := (r.X2 - r.X1) * (r.Y2 - r.Y1)
	areaO := (o.X2 - o.X1) * (o.Y2 - o.Y1)
	unionArea := areaR + areaO - interArea

	return float32(interArea) / float32(unionArea)
}
