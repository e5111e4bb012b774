package detector

import (
	"github.com/pkg/errors"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/heads"
	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

// GroundTruth carries one batch's training annotations. Boxes, Labels and
// Masks are indexed per image in batch order; Ignore and Masks may be nil.
type GroundTruth struct {
	Boxes  [][]boxes.Box
	Labels [][]int
	Ignore [][]boxes.Box
	// Masks holds one mask per ground-truth instance, aligned with Boxes.
	// Required when the mask head is enabled.
	Masks [][]images.BinaryMask
}

// ForwardTrain runs one training step and returns the loss mapping. Keys
// cover exactly the enabled stages: loss_rpn_cls/loss_rpn_bbox when a
// proposal head is configured, loss_cls/loss_bbox for the box head, and
// loss_mask plus loss_refine_cls/loss_refine_bbox when the mask path is
// enabled. Disabled stages contribute no keys.
//
// proposals may be nil when a proposal head is configured; without one the
// caller must supply proposals for every image.
func (d *Detector) ForwardTrain(batch images.Batch, gt GroundTruth, proposals [][]boxes.Box) (map[string]float32, error) {
	if len(gt.Boxes) != batch.Size() || len(gt.Labels) != batch.Size() {
		return nil, ShapeMismatchError{What: "ground truth vs batch", Want: batch.Size(), Got: len(gt.Boxes)}
	}
	if d.c.Mask != nil && len(gt.Masks) != batch.Size() {
		return nil, configErrorf("mask head enabled but ground-truth masks cover %d of %d images", len(gt.Masks), batch.Size())
	}

	losses := make(map[string]float32)

	pyramid, err := d.c.Backbone.ExtractFeatures(batch)
	if err != nil {
		return nil, errors.Wrap(err, "extracting features")
	}

	// Proposal stage. The train proposal policy is resolved once: the
	// train-time override if present, else the test policy.
	if d.c.RPN != nil {
		raw, err := d.c.RPN.Forward(pyramid)
		if err != nil {
			return nil, errors.Wrap(err, "proposal forward")
		}
		rpnLosses, err := d.c.RPN.Loss(raw, gt.Boxes, batch.Metas)
		if err != nil {
			return nil, errors.Wrap(err, "proposal loss")
		}
		mergeLosses(losses, rpnLosses)

		policy := d.cfg.Test.RPN
		if d.cfg.Train.RPNProposal != nil {
			policy = *d.cfg.Train.RPNProposal
		}
		proposals, err = d.c.RPN.DecodeProposals(raw, batch.Metas, policy)
		if err != nil {
			return nil, errors.Wrap(err, "decoding proposals")
		}
	} else if proposals == nil {
		return nil, configErrorf("no proposal head configured and no proposals supplied")
	}
	if len(proposals) != batch.Size() {
		return nil, ShapeMismatchError{What: "proposals vs batch", Want: batch.Size(), Got: len(proposals)}
	}

	// Per-image assignment and sampling, accumulated in image order. Zero
	// ground truths or zero proposals yield empty positive sets, never an
	// error.
	assigner := assign.NewMaxIoUAssigner(d.cfg.Train.RCNN.Assigner)
	sampler := assign.NewRandomSampler(d.cfg.Train.RCNN.Sampler)
	results := make([]assign.SamplingResult, batch.Size())
	for img := 0; img < batch.Size(); img++ {
		var ignore []boxes.Box
		if img < len(gt.Ignore) {
			ignore = gt.Ignore[img]
		}
		assignment := assigner.Assign(proposals[img], gt.Boxes[img], ignore, gt.Labels[img])
		results[img] = sampler.Sample(assignment, proposals[img], gt.Boxes[img], gt.Labels[img], nil)
	}

	// Box head path: all sampled regions, positives first per image.
	sampled := make([][]boxes.Box, batch.Size())
	for img, r := range results {
		sampled[img] = r.Boxes()
	}
	rois := boxes.ToRoIs(sampled)
	boxFeats, err := d.c.BoxRoI.Pool(pyramid, rois)
	if err != nil {
		return nil, errors.Wrap(err, "pooling box features")
	}
	boxFeats, err = d.sharedForward(boxFeats)
	if err != nil {
		return nil, errors.Wrap(err, "shared stage")
	}
	scores, deltas, err := d.c.Box.Forward(boxFeats)
	if err != nil {
		return nil, errors.Wrap(err, "box head forward")
	}
	boxTargets := d.c.Box.GetTarget(results, d.cfg.Coder)
	boxLosses, err := d.c.Box.Loss(scores, deltas, boxTargets)
	if err != nil {
		return nil, errors.Wrap(err, "box head loss")
	}
	mergeLosses(losses, boxLosses)

	if d.c.Mask == nil {
		return losses, nil
	}

	// Mask head path: positive regions only. posRows are the positive rows
	// within the concatenated sample order, for the shared-extractor case.
	posBoxes := make([][]boxes.Box, batch.Size())
	var posRows []int
	offset := 0
	for img, r := range results {
		posBoxes[img] = r.PosBoxes
		for i := 0; i < r.NumPos(); i++ {
			posRows = append(posRows, offset+i)
		}
		offset += r.NumPos() + r.NumNeg()
	}
	posRoIs := boxes.ToRoIs(posBoxes)

	maskFeats, err := d.maskFeats(pyramid, posRoIs, boxFeats, posRows)
	if err != nil {
		return nil, errors.Wrap(err, "deriving mask features")
	}
	maskPred, err := d.c.Mask.Forward(maskFeats)
	if err != nil {
		return nil, errors.Wrap(err, "mask head forward")
	}
	fgTargets, bgTargets, err := d.c.Mask.GetTarget(results, gt.Masks)
	if err != nil {
		return nil, errors.Wrap(err, "mask targets")
	}
	posLabels := heads.PositiveLabels(results)
	maskLosses, err := d.c.Mask.Loss(maskPred, fgTargets, bgTargets, posLabels)
	if err != nil {
		return nil, errors.Wrap(err, "mask head loss")
	}
	mergeLosses(losses, maskLosses)

	// Refinement sub-step, always following the mask head. Features come
	// from the positive regions under the configured policy; the mask hint
	// is the binarized prediction with the background channel dropped.
	refineFeats, err := d.refineFeatures(d.cfg.Train.RCNN.RefineSample, pyramid, posRoIs, maskFeats)
	if err != nil {
		return nil, errors.Wrap(err, "deriving refinement features")
	}
	hint, err := binarizeMaskHint(maskPred, d.cfg.Train.RCNN.MaskThrBinary)
	if err != nil {
		return nil, errors.Wrap(err, "binarizing mask hint")
	}
	if tensors.Rows(refineFeats) != len(posLabels) {
		return nil, ShapeMismatchError{What: "refinement features vs positives", Want: len(posLabels), Got: tensors.Rows(refineFeats)}
	}
	if tensors.Rows(hint) != len(posLabels) {
		return nil, ShapeMismatchError{What: "mask hint vs positives", Want: len(posLabels), Got: tensors.Rows(hint)}
	}
	refScores, refDeltas, err := d.c.Refine.Forward(refineFeats, hint)
	if err != nil {
		return nil, errors.Wrap(err, "refinement head forward")
	}
	refTargets := d.c.Refine.GetTarget(results, d.cfg.Coder)
	refLosses, err := d.c.Refine.Loss(refScores, refDeltas, refTargets)
	if err != nil {
		return nil, errors.Wrap(err, "refinement head loss")
	}
	mergeLosses(losses, refLosses)

	return losses, nil
}
