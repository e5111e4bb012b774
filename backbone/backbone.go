// Package backbone - feature extraction collaborators that turn an image
// batch into a multi-level feature pyramid.
package backbone

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

// Backbone produces a feature pyramid from an image batch, finest level
// first. Level l has spatial size (H/stride[l], W/stride[l]).
type Backbone interface {
	ExtractFeatures(batch images.Batch) ([]*tensor.Dense, error)
	// Strides reports the image stride of each pyramid level.
	Strides() []int
	// Channels reports the channel count of every level.
	Channels() int
}

// ImagePyramidBackboneConfig sizes an ImagePyramidBackbone.
type ImagePyramidBackboneConfig struct {
	// FeatStrides are the pyramid strides, finest first.
	FeatStrides []int
	// OutChannels is the channel count of every produced level.
	OutChannels int
	// Seed initializes the channel projection deterministically.
	Seed int64
}

// ImagePyramidBackbone is a CPU stand-in backbone: each level is the input
// image bilinearly downsampled by its stride and projected from RGB to the
// configured channel count with a fixed random per-pixel projection. It is
// cheap enough for tests and demos and produces pyramid shapes identical to
// a real backbone's.
type ImagePyramidBackbone struct {
	cfg     ImagePyramidBackboneConfig
	weights []float32 // (OutChannels, 3) row-major
}

// NewImagePyramidBackbone creates a pyramid backbone.
func NewImagePyramidBackbone(cfg ImagePyramidBackboneConfig) (*ImagePyramidBackbone, error) {
	if len(cfg.FeatStrides) == 0 {
		return nil, errors.New("pyramid backbone: no strides configured")
	}
	for _, s := range cfg.FeatStrides {
		if s <= 0 {
			return nil, errors.Errorf("pyramid backbone: invalid stride %d", s)
		}
	}
	if cfg.OutChannels <= 0 {
		return nil, errors.Errorf("pyramid backbone: invalid channel count %d", cfg.OutChannels)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	weights := make([]float32, cfg.OutChannels*3)
	for i := range weights {
		weights[i] = float32(rng.NormFloat64())
	}
	return &ImagePyramidBackbone{cfg: cfg, weights: weights}, nil
}

// Strides implements Backbone.
func (b *ImagePyramidBackbone) Strides() []int { return b.cfg.FeatStrides }

// Channels implements Backbone.
func (b *ImagePyramidBackbone) Channels() int { return b.cfg.OutChannels }

// ExtractFeatures implements Backbone.
func (b *ImagePyramidBackbone) ExtractFeatures(batch images.Batch) ([]*tensor.Dense, error) {
	n, c, h, w, err := tensors.Shape4(batch.Tensor)
	if err != nil {
		return nil, errors.Wrap(err, "pyramid backbone")
	}
	if c != 3 {
		return nil, errors.Errorf("pyramid backbone: expected 3 input channels, got %d", c)
	}
	if n != batch.Size() {
		return nil, errors.Errorf("pyramid backbone: %d tensor rows vs %d metas", n, batch.Size())
	}

	pyramid := make([]*tensor.Dense, len(b.cfg.FeatStrides))
	for lvl, stride := range b.cfg.FeatStrides {
		fh := h / stride
		fw := w / stride
		if fh < 1 || fw < 1 {
			return nil, errors.Errorf("pyramid backbone: stride %d collapses a %dx%d image", stride, h, w)
		}
		down, err := tensors.Interpolate(batch.Tensor, fh, fw)
		if err != nil {
			return nil, errors.Wrapf(err, "pyramid backbone: level %d", lvl)
		}
		pyramid[lvl] = b.project(down, n, fh, fw)
	}
	return pyramid, nil
}

// project maps the 3 RGB channels of each pixel to OutChannels.
func (b *ImagePyramidBackbone) project(rgb *tensor.Dense, n, h, w int) *tensor.Dense {
	out := tensors.New4(n, b.cfg.OutChannels, h, w)
	src := tensors.Data(rgb)
	dst := tensors.Data(out)
	plane := h * w
	for i := 0; i < n; i++ {
		for o := 0; o < b.cfg.OutChannels; o++ {
			w0 := b.weights[o*3]
			w1 := b.weights[o*3+1]
			w2 := b.weights[o*3+2]
			for p := 0; p < plane; p++ {
				dst[(i*b.cfg.OutChannels+o)*plane+p] = w0*src[(i*3)*plane+p] +
					w1*src[(i*3+1)*plane+p] +
					w2*src[(i*3+2)*plane+p]
			}
		}
	}
	return out
}
