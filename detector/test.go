package detector

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

// Result is one image's inference output: final detections and, when
// requested and configured, per-foreground-class segmentation masks
// (indexed label-1) at original image resolution.
type Result struct {
	Detections   []boxes.Detection
	Segmentation [][]images.BinaryMask
}

// SimpleTest runs the three-stage inference chain on a single-image batch:
// propose, first-pass box decoding, mask-hint refinement, then optional
// segmentation. With rescale set, final boxes are in original image
// coordinates; segmentation masks are always at original resolution.
//
// proposals may be nil when a proposal head is configured. withSegmentation
// without a mask head is a configuration error.
func (d *Detector) SimpleTest(batch images.Batch, proposals []boxes.Box, rescale, withSegmentation bool) (Result, error) {
	if batch.Size() != 1 {
		return Result{}, configErrorf("inference is single-image, got batch of %d", batch.Size())
	}
	if withSegmentation && d.c.Mask == nil {
		return Result{}, configErrorf("segmentation requested without a mask head")
	}
	meta := batch.Metas[0]

	pyramid, err := d.c.Backbone.ExtractFeatures(batch)
	if err != nil {
		return Result{}, errors.Wrap(err, "extracting features")
	}

	// Stage 1: propose.
	if d.c.RPN != nil {
		raw, err := d.c.RPN.Forward(pyramid)
		if err != nil {
			return Result{}, errors.Wrap(err, "proposal forward")
		}
		perImage, err := d.c.RPN.DecodeProposals(raw, batch.Metas, d.cfg.Test.RPN)
		if err != nil {
			return Result{}, errors.Wrap(err, "decoding proposals")
		}
		proposals = perImage[0]
	} else if proposals == nil {
		return Result{}, configErrorf("no proposal head configured and no proposals supplied")
	}

	// Stage 2: first-pass box scoring. Without a mask head this is the
	// final stage and honors the caller's rescale flag; otherwise boxes stay
	// at test resolution for the refinement pass.
	rois := boxes.ToRoIs([][]boxes.Box{proposals})
	boxFeats, err := d.c.BoxRoI.Pool(pyramid, rois)
	if err != nil {
		return Result{}, errors.Wrap(err, "pooling box features")
	}
	boxFeats, err = d.sharedForward(boxFeats)
	if err != nil {
		return Result{}, errors.Wrap(err, "shared stage")
	}
	scores, deltas, err := d.c.Box.Forward(boxFeats)
	if err != nil {
		return Result{}, errors.Wrap(err, "box head forward")
	}

	if d.c.Mask == nil {
		dets, err := d.c.Box.DecodeDetections(rois, scores, deltas, meta, rescale, d.cfg.Test.RCNN.Decode)
		if err != nil {
			return Result{}, errors.Wrap(err, "decoding detections")
		}
		return Result{Detections: dets}, nil
	}

	provisional, err := d.c.Box.DecodeDetections(rois, scores, deltas, meta, false, d.cfg.Test.RCNN.Decode)
	if err != nil {
		return Result{}, errors.Wrap(err, "decoding provisional detections")
	}

	// Stage 3: mask-hint refinement.
	dets, err := d.refineTestBboxes(pyramid, provisional, meta, rescale)
	if err != nil {
		return Result{}, err
	}

	res := Result{Detections: dets}
	if withSegmentation {
		res.Segmentation, err = d.simpleTestMask(pyramid, dets, meta, rescale)
		if err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// refineTestBboxes re-scores and re-regresses provisional detections using
// the predicted mask as a shape hint. An empty provisional set flows
// through every stage as zero-row tensors and produces an empty result.
func (d *Detector) refineTestBboxes(pyramid []*tensor.Dense, provisional []boxes.Detection, meta images.ImageMeta, rescale bool) ([]boxes.Detection, error) {
	candBoxes := make([]boxes.Box, len(provisional))
	for i, det := range provisional {
		candBoxes[i] = det.Box
	}
	rois := boxes.ToRoIs([][]boxes.Box{candBoxes})

	maskFeats, err := d.poolMaskFeatures(pyramid, rois)
	if err != nil {
		return nil, errors.Wrap(err, "pooling mask features")
	}
	maskPred, err := d.c.Mask.Forward(maskFeats)
	if err != nil {
		return nil, errors.Wrap(err, "mask head forward")
	}

	refineFeats, err := d.refineFeatures(d.cfg.Test.RCNN.RefineSample, pyramid, rois, maskFeats)
	if err != nil {
		return nil, errors.Wrap(err, "deriving refinement features")
	}
	hint, err := binarizeMaskHint(maskPred, d.cfg.Test.RCNN.MaskThrBinary)
	if err != nil {
		return nil, errors.Wrap(err, "binarizing mask hint")
	}
	if tensors.Rows(refineFeats) != len(rois) {
		return nil, ShapeMismatchError{What: "refinement features vs candidates", Want: len(rois), Got: tensors.Rows(refineFeats)}
	}
	if tensors.Rows(hint) != len(rois) {
		return nil, ShapeMismatchError{What: "mask hint vs candidates", Want: len(rois), Got: tensors.Rows(hint)}
	}

	refScores, refDeltas, err := d.c.Refine.Forward(refineFeats, hint)
	if err != nil {
		return nil, errors.Wrap(err, "refinement head forward")
	}
	dets, err := d.c.Box.DecodeDetections(rois, refScores, refDeltas, meta, rescale, d.cfg.Test.RCNN.Decode)
	if err != nil {
		return nil, errors.Wrap(err, "decoding refined detections")
	}
	return dets, nil
}

// simpleTestMask predicts segmentation masks for the final detections. Mask
// pooling always happens at test resolution: when the detections were
// rescaled to original coordinates, their boxes are mapped back before
// pooling. A zero-detection input short-circuits to one empty list per
// foreground class.
func (d *Detector) simpleTestMask(pyramid []*tensor.Dense, dets []boxes.Detection, meta images.ImageMeta, rescaled bool) ([][]images.BinaryMask, error) {
	numClasses := d.c.Mask.NumClasses()
	if len(dets) == 0 {
		out := make([][]images.BinaryMask, numClasses-1)
		for i := range out {
			out[i] = []images.BinaryMask{}
		}
		return out, nil
	}

	poolBoxes := make([]boxes.Box, len(dets))
	oriDets := make([]boxes.Detection, len(dets))
	for i, det := range dets {
		if rescaled {
			poolBoxes[i] = det.Box.Scale(meta.ScaleFactor)
			oriDets[i] = det
		} else {
			poolBoxes[i] = det.Box
			oriDets[i] = det
			if meta.ScaleFactor != 0 {
				oriDets[i].Box = det.Box.Scale(1 / meta.ScaleFactor)
			}
		}
	}

	rois := boxes.ToRoIs([][]boxes.Box{poolBoxes})
	maskFeats, err := d.poolMaskFeatures(pyramid, rois)
	if err != nil {
		return nil, errors.Wrap(err, "pooling mask features")
	}
	maskPred, err := d.c.Mask.Forward(maskFeats)
	if err != nil {
		return nil, errors.Wrap(err, "mask head forward")
	}
	segm, err := d.c.Mask.DecodeSegmentation(maskPred, oriDets, meta, d.cfg.Test.RCNN.MaskThrBinary)
	if err != nil {
		return nil, errors.Wrap(err, "decoding segmentation")
	}
	return segm, nil
}

// poolMaskFeatures pools mask-path features at inference, where no pooled
// box features exist for row selection: the shared-extractor configuration
// pools with the box extractor instead.
func (d *Detector) poolMaskFeatures(pyramid []*tensor.Dense, rois []boxes.RoI) (*tensor.Dense, error) {
	if d.cfg.SharedRoIExtractor || d.c.MaskRoI == nil {
		return d.c.BoxRoI.Pool(pyramid, rois)
	}
	return d.c.MaskRoI.Pool(pyramid, rois)
}
