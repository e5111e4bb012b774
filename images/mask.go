package images

import "github.com/chewxy/math32"

// BinaryMask is a hard foreground indicator at image resolution, row-major,
// one byte per pixel (0 background, 1 foreground).
type BinaryMask struct {
	Width  int
	Height int
	Data   []uint8
}

// NewBinaryMask allocates an all-background mask.
func NewBinaryMask(width, height int) BinaryMask {
	return BinaryMask{Width: width, Height: height, Data: make([]uint8, width*height)}
}

// At reports the mask value at (x, y); out-of-range reads are background.
func (m BinaryMask) At(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Data[y*m.Width+x]
}

// Set writes the mask value at (x, y), ignoring out-of-range writes.
func (m BinaryMask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Data[y*m.Width+x] = v
}

// Empty reports whether the mask has no foreground pixel.
func (m BinaryMask) Empty() bool {
	for _, v := range m.Data {
		if v != 0 {
			return false
		}
	}
	return true
}

// CropResize samples the mask inside the (x1, y1, x2, y2) window and
// resizes the crop to a size x size grid, re-binarizing at 0.5. This is how
// ground-truth masks become fixed-size training targets for a region.
func (m BinaryMask) CropResize(x1, y1, x2, y2 float32, size int) []float32 {
	out := make([]float32, size*size)
	w := x2 - x1
	h := y2 - y1
	if w <= 0 || h <= 0 {
		return out
	}
	for gy := 0; gy < size; gy++ {
		sy := y1 + (float32(gy)+0.5)*h/float32(size) - 0.5
		for gx := 0; gx < size; gx++ {
			sx := x1 + (float32(gx)+0.5)*w/float32(size) - 0.5
			if m.sample(sx, sy) >= 0.5 {
				out[gy*size+gx] = 1
			}
		}
	}
	return out
}

// PasteProbMap thresholds a size x size probability patch and pastes it
// into a width x height mask inside the (x1, y1, x2, y2) window, resampling
// the patch bilinearly to the window size.
func PasteProbMap(patch []float32, size int, x1, y1, x2, y2, thr float32, width, height int) BinaryMask {
	out := NewBinaryMask(width, height)

	bx1 := int(math32.Floor(x1))
	by1 := int(math32.Floor(y1))
	bx2 := int(math32.Ceil(x2))
	by2 := int(math32.Ceil(y2))
	r := Rect{X1: bx1, Y1: by1, X2: bx2, Y2: by2}.Clip(width, height)
	boxW := x2 - x1
	boxH := y2 - y1
	if r.Dx() <= 0 || r.Dy() <= 0 || boxW <= 0 || boxH <= 0 {
		return out
	}

	for y := r.Y1; y < r.Y2; y++ {
		py := (float32(y) + 0.5 - y1) / boxH * float32(size) - 0.5
		for x := r.X1; x < r.X2; x++ {
			px := (float32(x) + 0.5 - x1) / boxW * float32(size) - 0.5
			if samplePatch(patch, size, px, py) >= thr {
				out.Set(x, y, 1)
			}
		}
	}
	return out
}

// sample reads the mask bilinearly at fractional coordinates, clamping to
// the border.
func (m BinaryMask) sample(x, y float32) float32 {
	get := func(ix, iy int) float32 {
		if ix < 0 {
			ix = 0
		}
		if iy < 0 {
			iy = 0
		}
		if ix > m.Width-1 {
			ix = m.Width - 1
		}
		if iy > m.Height-1 {
			iy = m.Height - 1
		}
		return float32(m.Data[iy*m.Width+ix])
	}
	x0 := int(math32.Floor(x))
	y0 := int(math32.Floor(y))
	fx := x - float32(x0)
	fy := y - float32(y0)
	top := get(x0, y0)*(1-fx) + get(x0+1, y0)*fx
	bottom := get(x0, y0+1)*(1-fx) + get(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}

func samplePatch(patch []float32, size int, x, y float32) float32 {
	get := func(ix, iy int) float32 {
		if ix < 0 {
			ix = 0
		}
		if iy < 0 {
			iy = 0
		}
		if ix > size-1 {
			ix = size - 1
		}
		if iy > size-1 {
			iy = size - 1
		}
		return patch[iy*size+ix]
	}
	x0 := int(math32.Floor(x))
	y0 := int(math32.Floor(y))
	fx := x - float32(x0)
	fy := y - float32(y0)
	top := get(x0, y0)*(1-fx) + get(x0+1, y0)*fx
	bottom := get(x0, y0+1)*(1-fx) + get(x0+1, y0+1)*fx
	return top*(1-fy) + bottom*fy
}
