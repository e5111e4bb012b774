// Package roipool - pools feature-pyramid regions into fixed-size tensors.
package roipool

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/tensors"
)

// Extractor pools pyramid features for a set of image-tagged regions into
// one (numRoIs, C, size, size) tensor, preserving RoI order.
type Extractor interface {
	// Pool extracts features for the regions. The pyramid slice must hold
	// at least NumInputs levels; extra levels are ignored.
	Pool(pyramid []*tensor.Dense, rois []boxes.RoI) (*tensor.Dense, error)
	// NumInputs reports how many pyramid levels the extractor consumes.
	NumInputs() int
	// OutputSize reports the spatial size of the pooled features.
	OutputSize() int
}

// SingleLevelConfig configures a SingleLevelExtractor.
type SingleLevelConfig struct {
	// Size is the pooled output resolution (e.g. 7 for box features,
	// 14 for mask features).
	Size int
	// FeatStrides maps pyramid level -> stride of that level relative to
	// the input image, finest first (e.g. 4, 8, 16, 32).
	FeatStrides []int
	// FinestScale is the box scale mapped to level 0; larger boxes go to
	// coarser levels by log2 of their relative size. Defaults to 56.
	FinestScale float32
}

// SingleLevelExtractor assigns each RoI to a single pyramid level based on
// its scale and RoI-aligns that level's features to a fixed grid.
type SingleLevelExtractor struct {
	cfg SingleLevelConfig
}

// NewSingleLevelExtractor validates the config and builds the extractor.
func NewSingleLevelExtractor(cfg SingleLevelConfig) (*SingleLevelExtractor, error) {
	if cfg.Size <= 0 {
		return nil, errors.Errorf("roi extractor: invalid output size %d", cfg.Size)
	}
	if len(cfg.FeatStrides) == 0 {
		return nil, errors.New("roi extractor: no feature strides configured")
	}
	for i, s := range cfg.FeatStrides {
		if s <= 0 {
			return nil, errors.Errorf("roi extractor: invalid stride %d at level %d", s, i)
		}
	}
	if cfg.FinestScale <= 0 {
		cfg.FinestScale = 56
	}
	return &SingleLevelExtractor{cfg: cfg}, nil
}

// NumInputs implements Extractor.
func (e *SingleLevelExtractor) NumInputs() int { return len(e.cfg.FeatStrides) }

// OutputSize implements Extractor.
func (e *SingleLevelExtractor) OutputSize() int { return e.cfg.Size }

// LevelFor maps a box to the pyramid level matching its scale:
// floor(log2(sqrt(area) / finestScale)), clamped to the level range.
func (e *SingleLevelExtractor) LevelFor(b boxes.Box) int {
	scale := math32.Sqrt(b.Area())
	lvl := int(math32.Floor(math32.Log2(scale/e.cfg.FinestScale + 1e-6)))
	if lvl < 0 {
		return 0
	}
	if lvl >= len(e.cfg.FeatStrides) {
		return len(e.cfg.FeatStrides) - 1
	}
	return lvl
}

// Pool implements Extractor. Zero regions yield an empty (0, C, size, size)
// tensor, keeping the degenerate path shape-consistent.
func (e *SingleLevelExtractor) Pool(pyramid []*tensor.Dense, rois []boxes.RoI) (*tensor.Dense, error) {
	if len(pyramid) < len(e.cfg.FeatStrides) {
		return nil, errors.Errorf("roi extractor: pyramid has %d levels, need %d", len(pyramid), len(e.cfg.FeatStrides))
	}

	batch, channels, _, _, err := tensors.Shape4(pyramid[0])
	if err != nil {
		return nil, errors.Wrap(err, "roi extractor: bad pyramid level 0")
	}
	for lvl := 1; lvl < len(e.cfg.FeatStrides); lvl++ {
		n, c, _, _, err := tensors.Shape4(pyramid[lvl])
		if err != nil {
			return nil, errors.Wrapf(err, "roi extractor: bad pyramid level %d", lvl)
		}
		if n != batch || c != channels {
			return nil, errors.Errorf("roi extractor: pyramid level %d shape disagrees (batch %d channels %d, want %d/%d)", lvl, n, c, batch, channels)
		}
	}

	out := tensors.New4(len(rois), channels, e.cfg.Size, e.cfg.Size)
	dst := tensors.Data(out)

	for ri, roi := range rois {
		if roi.ImageIndex < 0 || roi.ImageIndex >= batch {
			return nil, errors.Errorf("roi extractor: roi %d references image %d of a %d-image batch", ri, roi.ImageIndex, batch)
		}
		lvl := e.LevelFor(roi.Box)
		stride := float32(e.cfg.FeatStrides[lvl])
		_, _, fh, fw, _ := tensors.Shape4(pyramid[lvl])
		src := tensors.Data(pyramid[lvl])

		// Box in feature coordinates of the chosen level.
		x1 := roi.Box.X1 / stride
		y1 := roi.Box.Y1 / stride
		w := math32.Max(roi.Box.Width()/stride, 1e-3)
		h := math32.Max(roi.Box.Height()/stride, 1e-3)

		for c := 0; c < channels; c++ {
			plane := src[(roi.ImageIndex*channels+c)*fh*fw : (roi.ImageIndex*channels+c+1)*fh*fw]
			for gy := 0; gy < e.cfg.Size; gy++ {
				sy := y1 + (float32(gy)+0.5)*h/float32(e.cfg.Size) - 0.5
				for gx := 0; gx < e.cfg.Size; gx++ {
					sx := x1 + (float32(gx)+0.5)*w/float32(e.cfg.Size) - 0.5
					dst[((ri*channels+c)*e.cfg.Size+gy)*e.cfg.Size+gx] = bilinearAt(plane, fh, fw, sy, sx)
				}
			}
		}
	}
	return out, nil
}

func bilinearAt(plane []float32, h, w int, y, x float32) float32 {
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}
	y0 := int(math32.Floor(y))
	x0 := int(math32.Floor(x))
	fy := y - float32(y0)
	fx := x - float32(x0)

	y0c := clamp(y0, h-1)
	y1c := clamp(y0+1, h-1)
	x0c := clamp(x0, w-1)
	x1c := clamp(x0+1, w-1)

	top := plane[y0c*w+x0c]*(1-fx) + plane[y0c*w+x1c]*fx
	bottom := plane[y1c*w+x0c]*(1-fx) + plane[y1c*w+x1c]*fx
	return top*(1-fy) + bottom*fy
}
