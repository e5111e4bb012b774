package tensors

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Interpolate resizes the spatial dimensions of an NCHW tensor to
// (outH, outW) with bilinear sampling. Sample positions follow the
// half-pixel convention, so identity sizes reproduce the input exactly.
func Interpolate(t *tensor.Dense, outH, outW int) (*tensor.Dense, error) {
	n, c, h, w, err := Shape4(t)
	if err != nil {
		return nil, err
	}
	if outH <= 0 || outW <= 0 {
		return nil, errors.Errorf("interpolate: invalid target size %dx%d", outH, outW)
	}
	out := New4(n, c, outH, outW)
	src, dst := Data(t), Data(out)
	scaleY := float32(h) / float32(outH)
	scaleX := float32(w) / float32(outW)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			plane := src[(i*c+ch)*h*w : (i*c+ch+1)*h*w]
			for y := 0; y < outH; y++ {
				sy := (float32(y)+0.5)*scaleY - 0.5
				for x := 0; x < outW; x++ {
					sx := (float32(x)+0.5)*scaleX - 0.5
					dst[((i*c+ch)*outH+y)*outW+x] = bilinear(plane, h, w, sy, sx)
				}
			}
		}
	}
	return out, nil
}

// MaxPool2 applies a 2x2, stride-2 max pooling over the spatial dimensions.
// This is the fallback feature reduction used when no explicit refinement
// sampling policy is configured. Spatial sizes must be at least 2.
func MaxPool2(t *tensor.Dense) (*tensor.Dense, error) {
	n, c, h, w, err := Shape4(t)
	if err != nil {
		return nil, err
	}
	if h < 2 || w < 2 {
		return nil, errors.Errorf("maxpool: spatial size %dx%d too small", h, w)
	}
	outH, outW := h/2, w/2
	out := New4(n, c, outH, outW)
	src, dst := Data(t), Data(out)
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			plane := src[(i*c+ch)*h*w : (i*c+ch+1)*h*w]
			for y := 0; y < outH; y++ {
				for x := 0; x < outW; x++ {
					v := plane[(2*y)*w+2*x]
					v = math32.Max(v, plane[(2*y)*w+2*x+1])
					v = math32.Max(v, plane[(2*y+1)*w+2*x])
					v = math32.Max(v, plane[(2*y+1)*w+2*x+1])
					dst[((i*c+ch)*outH+y)*outW+x] = v
				}
			}
		}
	}
	return out, nil
}

// bilinear samples a single HxW plane at fractional position (y, x),
// clamping out-of-range coordinates to the border.
func bilinear(plane []float32, h, w int, y, x float32) float32 {
	y0 := int(math32.Floor(y))
	x0 := int(math32.Floor(x))
	fy := y - float32(y0)
	fx := x - float32(x0)

	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	y0c := clamp(y0, h-1)
	y1c := clamp(y0+1, h-1)
	x0c := clamp(x0, w-1)
	x1c := clamp(x0+1, w-1)

	top := plane[y0c*w+x0c]*(1-fx) + plane[y0c*w+x1c]*fx
	bottom := plane[y1c*w+x0c]*(1-fx) + plane[y1c*w+x1c]*fx
	return top*(1-fy) + bottom*fy
}
