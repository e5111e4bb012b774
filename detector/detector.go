// Package detector - the Mask Hint R-CNN orchestrator. It sequences the
// backbone, proposal stage, assignment/sampling, RoI pooling and the box,
// mask and refinement heads into one training step and a three-stage
// inference chain in which predicted masks feed a second-pass box head.
package detector

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/backbone"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/heads"
	"github.com/vision-kit/maskhint/roipool"
	"github.com/vision-kit/maskhint/rpn"
	"github.com/vision-kit/maskhint/tensors"
)

// Components are the collaborators the orchestrator sequences. Backbone,
// Box and BoxRoI are mandatory; RPN, Shared, Mask, MaskRoI and Refine are
// optional capability slots, enabled by being non-nil.
type Components struct {
	Backbone backbone.Backbone
	RPN      rpn.Head
	BoxRoI   roipool.Extractor
	MaskRoI  roipool.Extractor
	Shared   heads.SharedHead
	Box      heads.BoxHead
	Mask     heads.MaskHead
	Refine   heads.RefineHead
}

// maskFeatureFn derives the mask head's input features for the positive
// regions, either by re-pooling or by selecting rows of the already-pooled
// box features. Chosen once at construction.
type maskFeatureFn func(pyramid []*tensor.Dense, posRoIs []boxes.RoI, boxFeats *tensor.Dense, posRows []int) (*tensor.Dense, error)

// Detector is the orchestrator.
type Detector struct {
	cfg       Config
	c         Components
	maskFeats maskFeatureFn
}

// New validates the head combination and builds the detector. Validation
// failures are ConfigurationErrors: every enabled head needs its extractor,
// a mask head needs the box head and the refinement head, and a configured
// mask head makes the RefineSample policy mandatory for both the train and
// test configs.
func New(cfg Config, c Components) (*Detector, error) {
	if c.Backbone == nil {
		return nil, configErrorf("backbone is required")
	}
	if c.Box == nil {
		return nil, configErrorf("box head is required")
	}
	if c.BoxRoI == nil {
		return nil, configErrorf("box head requires a box RoI extractor")
	}
	if c.Mask != nil {
		if c.Refine == nil {
			return nil, configErrorf("mask head requires the refinement head")
		}
		if !cfg.SharedRoIExtractor && c.MaskRoI == nil {
			return nil, configErrorf("mask head requires a mask RoI extractor (or shared extraction)")
		}
		if cfg.Train.RCNN.RefineSample == "" {
			return nil, configErrorf("refine_sample policy missing from train config")
		}
		if cfg.Test.RCNN.RefineSample == "" {
			return nil, configErrorf("refine_sample policy missing from test config")
		}
		if c.Mask.NumClasses() != c.Box.NumClasses() {
			return nil, configErrorf("mask head has %d classes, box head %d", c.Mask.NumClasses(), c.Box.NumClasses())
		}
	}
	if c.Refine != nil && c.Mask == nil {
		return nil, configErrorf("refinement head requires the mask head")
	}
	if cfg.Coder.WHRatioClip == 0 {
		cfg.Coder = boxes.DefaultDeltaCoder()
	}

	d := &Detector{cfg: cfg, c: c}
	if cfg.SharedRoIExtractor {
		d.maskFeats = func(_ []*tensor.Dense, _ []boxes.RoI, boxFeats *tensor.Dense, posRows []int) (*tensor.Dense, error) {
			return tensors.SelectRows(boxFeats, posRows)
		}
	} else if c.MaskRoI != nil {
		maskRoI := c.MaskRoI
		d.maskFeats = func(pyramid []*tensor.Dense, posRoIs []boxes.RoI, _ *tensor.Dense, _ []int) (*tensor.Dense, error) {
			return maskRoI.Pool(pyramid, posRoIs)
		}
	}
	return d, nil
}

// WithMask reports whether the segmentation path is configured.
func (d *Detector) WithMask() bool { return d.c.Mask != nil }

// sharedForward applies the optional shared secondary stage, identity when
// absent.
func (d *Detector) sharedForward(feats *tensor.Dense) (*tensor.Dense, error) {
	if d.c.Shared == nil {
		return feats, nil
	}
	return d.c.Shared.Forward(feats)
}

// refineFeatures derives the refinement head's input features under the
// given policy. candidates are the regions the mask was predicted for;
// maskFeats are their pooled mask-path features.
func (d *Detector) refineFeatures(policy string, pyramid []*tensor.Dense, candidates []boxes.RoI, maskFeats *tensor.Dense) (*tensor.Dense, error) {
	switch policy {
	case RefineSampleResample:
		feats, err := d.c.BoxRoI.Pool(pyramid, candidates)
		if err != nil {
			return nil, err
		}
		return d.sharedForward(feats)
	case RefineSampleInterpolate:
		size := d.c.BoxRoI.OutputSize()
		return tensors.Interpolate(maskFeats, size, size)
	default:
		return tensors.MaxPool2(maskFeats)
	}
}

// binarizeMaskHint turns raw mask logits into the hard foreground indicator
// the refinement head consumes: the background channel is dropped, logits
// become probabilities, and the probabilities are thresholded. Binarization
// is idempotent at a fixed threshold.
func binarizeMaskHint(maskPred *tensor.Dense, thr float32) (*tensor.Dense, error) {
	hint, err := tensors.DropLeadingChannel(maskPred)
	if err != nil {
		return nil, err
	}
	probs := tensors.Data(hint)
	for i, v := range probs {
		probs[i] = 1 / (1 + math32.Exp(-v))
	}
	return tensors.Binarize(hint, thr), nil
}

func mergeLosses(dst, src map[string]float32) {
	for k, v := range src {
		dst[k] = v
	}
}
