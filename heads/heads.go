// Package heads - the detection-head interface family (box, mask and
// mask-hint refinement heads) plus lightweight linear reference
// implementations that operate on pooled RoI features.
//
// Interface contract notes: heads never mutate their input tensors, and all
// of them tolerate a zero-region input, returning zero-row outputs so that
// empty proposal/detection sets flow through the whole pipeline.
package heads

import (
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/images"
)

// DecodeConfig controls how raw head outputs become detections.
type DecodeConfig struct {
	ScoreThreshold float32
	NMS            boxes.NMSConfig
	MaxPerImage    int
}

// SharedHead is an optional processing stage applied to pooled features
// before a head consumes them.
type SharedHead interface {
	Forward(feats *tensor.Dense) (*tensor.Dense, error)
}

// BoxHead classifies regions and regresses refined boxes.
type BoxHead interface {
	// NumClasses counts classes including background (label 0).
	NumClasses() int
	// Forward maps (N, C, S, S) pooled features to (N, K) class scores and
	// (N, 4K) per-class box deltas.
	Forward(feats *tensor.Dense) (scores, deltas *tensor.Dense, err error)
	// GetTarget assembles classification/regression targets for the
	// sampled regions, positives first per image, images in order.
	GetTarget(results []assign.SamplingResult, coder boxes.DeltaCoder) BoxTargets
	// Loss computes the head's loss terms against assembled targets.
	Loss(scores, deltas *tensor.Dense, targets BoxTargets) (map[string]float32, error)
	// DecodeDetections turns raw outputs for a set of RoIs into scored,
	// labelled boxes: per-class delta decode, clip, score threshold, NMS
	// and the per-image cap. With rescale set, boxes are mapped back to
	// the original image resolution.
	DecodeDetections(rois []boxes.RoI, scores, deltas *tensor.Dense, meta images.ImageMeta, rescale bool, cfg DecodeConfig) ([]boxes.Detection, error)
}

// MaskHead predicts per-class segmentation masks for positive regions.
type MaskHead interface {
	NumClasses() int
	// MaskSize is the spatial resolution of predicted masks.
	MaskSize() int
	// Forward maps (N, C, S, S) pooled features to (N, K, M, M) mask
	// logits, channel 0 being the background channel.
	Forward(feats *tensor.Dense) (*tensor.Dense, error)
	// GetTarget crops and resizes ground-truth masks to per-positive
	// foreground targets and their background complements.
	GetTarget(results []assign.SamplingResult, gtMasks [][]images.BinaryMask) (maskTargets, bgTargets *tensor.Dense, err error)
	// Loss scores mask predictions at the positive labels' channels.
	Loss(maskPred, maskTargets, bgTargets *tensor.Dense, posLabels []int) (map[string]float32, error)
	// DecodeSegmentation pastes thresholded mask probabilities into
	// original-resolution per-class binary masks. Detection boxes must be
	// in original image coordinates; mask predictions are row-aligned
	// with the detections.
	DecodeSegmentation(maskPred *tensor.Dense, dets []boxes.Detection, meta images.ImageMeta, thr float32) ([][]images.BinaryMask, error)
}

// RefineHead is the mask-hint second-pass box head: it re-scores and
// re-regresses regions from RoI features fused with a binarized mask
// prediction. The caller owns the feature/mask alignment contract (equal
// region counts in identical order).
type RefineHead interface {
	NumClasses() int
	Forward(feats, binarizedMask *tensor.Dense) (scores, deltas *tensor.Dense, err error)
	// GetTarget assembles box-style targets for the positive regions only,
	// matching the positive-only region set the head runs on.
	GetTarget(results []assign.SamplingResult, coder boxes.DeltaCoder) BoxTargets
	Loss(scores, deltas *tensor.Dense, targets BoxTargets) (map[string]float32, error)
}
