package heads

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

// LinearMaskHeadConfig sizes a LinearMaskHead.
type LinearMaskHeadConfig struct {
	// NumClasses includes background as channel 0.
	NumClasses int
	// InChannels is the channel count of pooled RoI features.
	InChannels int
	// MaskSize is the predicted mask resolution; it must match the mask RoI
	// extractor's output size.
	MaskSize int
	// Seed initializes the head's weights deterministically.
	Seed int64
}

// LinearMaskHead is the reference mask head: a per-pixel 1x1 projection
// from feature channels to class channels, preserving the spatial grid.
type LinearMaskHead struct {
	cfg     LinearMaskHeadConfig
	weights []float32 // (NumClasses, InChannels) row-major
	bias    []float32
}

// NewLinearMaskHead creates a mask head with small random weights.
func NewLinearMaskHead(cfg LinearMaskHeadConfig) (*LinearMaskHead, error) {
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("mask head: need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.InChannels <= 0 || cfg.MaskSize <= 0 {
		return nil, errors.Errorf("mask head: invalid channels %d or mask size %d", cfg.InChannels, cfg.MaskSize)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &LinearMaskHead{
		cfg:     cfg,
		weights: randomWeights(rng, cfg.NumClasses*cfg.InChannels),
		bias:    make([]float32, cfg.NumClasses),
	}, nil
}

// NumClasses implements MaskHead.
func (h *LinearMaskHead) NumClasses() int { return h.cfg.NumClasses }

// MaskSize implements MaskHead.
func (h *LinearMaskHead) MaskSize() int { return h.cfg.MaskSize }

// Forward implements MaskHead, mapping (N, C, M, M) features to
// (N, K, M, M) mask logits.
func (h *LinearMaskHead) Forward(feats *tensor.Dense) (*tensor.Dense, error) {
	n, c, hh, ww, err := tensors.Shape4(feats)
	if err != nil {
		return nil, errors.Wrap(err, "mask head")
	}
	if c != h.cfg.InChannels {
		return nil, errors.Errorf("mask head: expected %d channels, got %d", h.cfg.InChannels, c)
	}
	if hh != h.cfg.MaskSize || ww != h.cfg.MaskSize {
		return nil, errors.Errorf("mask head: expected %dx%d features, got %dx%d", h.cfg.MaskSize, h.cfg.MaskSize, hh, ww)
	}

	k := h.cfg.NumClasses
	out := tensors.New4(n, k, hh, ww)
	src := tensors.Data(feats)
	dst := tensors.Data(out)
	plane := hh * ww
	for i := 0; i < n; i++ {
		for cls := 0; cls < k; cls++ {
			w := h.weights[cls*c : (cls+1)*c]
			for p := 0; p < plane; p++ {
				sum := h.bias[cls]
				for ch := 0; ch < c; ch++ {
					sum += src[(i*c+ch)*plane+p] * w[ch]
				}
				dst[(i*k+cls)*plane+p] = sum
			}
		}
	}
	return out, nil
}

// GetTarget implements MaskHead.
//
// For each sampled positive, the matched ground-truth mask is cropped to
// the positive's box and resized to the mask resolution, yielding a
// foreground target and its background complement. gtMasks is indexed per
// image then per instance, aligned with the ground truths the sampler saw.
func (h *LinearMaskHead) GetTarget(results []assign.SamplingResult, gtMasks [][]images.BinaryMask) (*tensor.Dense, *tensor.Dense, error) {
	if len(results) != len(gtMasks) {
		return nil, nil, errors.Errorf("mask targets: %d sampling results vs %d mask sets", len(results), len(gtMasks))
	}
	total := 0
	for _, r := range results {
		total += r.NumPos()
	}
	size := h.cfg.MaskSize
	fg := tensors.New4(total, 1, size, size)
	bg := tensors.New4(total, 1, size, size)
	fgData := tensors.Data(fg)
	bgData := tensors.Data(bg)

	row := 0
	plane := size * size
	for img, r := range results {
		for i, box := range r.PosBoxes {
			gtIdx := r.PosGTIndices[i]
			if gtIdx < 0 || gtIdx >= len(gtMasks[img]) {
				return nil, nil, errors.Errorf("mask targets: image %d has no mask for ground truth %d", img, gtIdx)
			}
			target := gtMasks[img][gtIdx].CropResize(box.X1, box.Y1, box.X2, box.Y2, size)
			copy(fgData[row*plane:], target)
			for p, v := range target {
				bgData[row*plane+p] = 1 - v
			}
			row++
		}
	}
	return fg, bg, nil
}

// Loss implements MaskHead, returning loss_mask.
//
// Each positive row is supervised at two channels: its matched label's
// channel against the foreground target, and channel 0 against the
// background complement.
func (h *LinearMaskHead) Loss(maskPred, maskTargets, bgTargets *tensor.Dense, posLabels []int) (map[string]float32, error) {
	n, k, hh, ww, err := tensors.Shape4(maskPred)
	if err != nil {
		return nil, errors.Wrap(err, "mask loss")
	}
	if n != len(posLabels) || tensors.Rows(maskTargets) != n || tensors.Rows(bgTargets) != n {
		return nil, errors.Errorf("mask loss: %d predictions vs %d labels, %d fg targets, %d bg targets",
			n, len(posLabels), tensors.Rows(maskTargets), tensors.Rows(bgTargets))
	}
	if n == 0 {
		return map[string]float32{"loss_mask": 0}, nil
	}

	pred := tensors.Data(maskPred)
	fg := tensors.Data(maskTargets)
	bg := tensors.Data(bgTargets)
	plane := hh * ww

	var loss float32
	for i, label := range posLabels {
		if label < 1 || label >= k {
			return nil, errors.Errorf("mask loss: positive label %d out of range [1,%d)", label, k)
		}
		for p := 0; p < plane; p++ {
			loss += binaryCrossEntropy(pred[(i*k+label)*plane+p], fg[i*plane+p])
			loss += binaryCrossEntropy(pred[(i*k)*plane+p], bg[i*plane+p])
		}
	}
	loss /= float32(2 * n * plane)
	return map[string]float32{"loss_mask": loss}, nil
}

// DecodeSegmentation implements MaskHead.
//
// Detections must already be in original image coordinates; mask prediction
// rows align 1:1 with the detection list. The result groups masks by
// foreground class, index label-1.
func (h *LinearMaskHead) DecodeSegmentation(maskPred *tensor.Dense, dets []boxes.Detection, meta images.ImageMeta, thr float32) ([][]images.BinaryMask, error) {
	n, k, hh, ww, err := tensors.Shape4(maskPred)
	if err != nil {
		return nil, errors.Wrap(err, "decode segmentation")
	}
	if n != len(dets) {
		return nil, errors.Errorf("decode segmentation: %d mask rows vs %d detections", n, len(dets))
	}
	if hh != ww {
		return nil, errors.Errorf("decode segmentation: non-square mask %dx%d", hh, ww)
	}

	out := make([][]images.BinaryMask, h.cfg.NumClasses-1)
	for i := range out {
		out[i] = []images.BinaryMask{}
	}
	if n == 0 {
		return out, nil
	}

	pred := tensors.Data(maskPred)
	plane := hh * ww
	for i, det := range dets {
		if det.Label < 1 || det.Label >= k {
			return nil, errors.Errorf("decode segmentation: detection label %d out of range [1,%d)", det.Label, k)
		}
		patch := make([]float32, plane)
		for p := 0; p < plane; p++ {
			patch[p] = sigmoid(pred[(i*k+det.Label)*plane+p])
		}
		mask := images.PasteProbMap(patch, hh, det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2, thr, meta.OriWidth, meta.OriHeight)
		out[det.Label-1] = append(out[det.Label-1], mask)
	}
	return out, nil
}
