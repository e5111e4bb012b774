package heads

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/tensors"
)

// LinearRefineHeadConfig sizes a LinearRefineHead.
type LinearRefineHeadConfig struct {
	// NumClasses includes background as class 0.
	NumClasses int
	// InChannels is the channel count of the RoI features fed to the head,
	// before the mask channels are appended.
	InChannels int
	// Seed initializes the head's weights deterministically.
	Seed int64
}

// LinearRefineHead is the reference mask-hint refinement head. It fuses RoI
// features with a binarized mask prediction by resizing the mask channels
// to the feature grid and concatenating them, then runs the same pooled
// linear classification and regression as the first-pass box head.
type LinearRefineHead struct {
	cfg        LinearRefineHeadConfig
	fused      int
	clsWeights []float32
	clsBias    []float32
	regWeights []float32
	regBias    []float32
}

// NewLinearRefineHead creates a refinement head with small random weights.
// The fused input has InChannels feature channels plus NumClasses-1 mask
// channels (the background channel is dropped before fusion).
func NewLinearRefineHead(cfg LinearRefineHeadConfig) (*LinearRefineHead, error) {
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("refine head: need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.InChannels <= 0 {
		return nil, errors.Errorf("refine head: invalid channel count %d", cfg.InChannels)
	}
	fused := cfg.InChannels + cfg.NumClasses - 1
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &LinearRefineHead{
		cfg:        cfg,
		fused:      fused,
		clsWeights: randomWeights(rng, cfg.NumClasses*fused),
		clsBias:    make([]float32, cfg.NumClasses),
		regWeights: randomWeights(rng, 4*cfg.NumClasses*fused),
		regBias:    make([]float32, 4*cfg.NumClasses),
	}, nil
}

// NumClasses implements RefineHead.
func (h *LinearRefineHead) NumClasses() int { return h.cfg.NumClasses }

// Forward implements RefineHead.
//
// feats and binarizedMask must carry the same number of regions in the same
// order; the mask is resized to the feature grid before concatenation.
func (h *LinearRefineHead) Forward(feats, binarizedMask *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	fn, fc, fh, fw, err := tensors.Shape4(feats)
	if err != nil {
		return nil, nil, errors.Wrap(err, "refine head")
	}
	mn, mc, _, _, err := tensors.Shape4(binarizedMask)
	if err != nil {
		return nil, nil, errors.Wrap(err, "refine head")
	}
	if fn != mn {
		return nil, nil, errors.Errorf("refine head: %d feature regions vs %d mask regions", fn, mn)
	}
	if fc != h.cfg.InChannels {
		return nil, nil, errors.Errorf("refine head: expected %d feature channels, got %d", h.cfg.InChannels, fc)
	}
	if mc != h.cfg.NumClasses-1 {
		return nil, nil, errors.Errorf("refine head: expected %d mask channels, got %d", h.cfg.NumClasses-1, mc)
	}

	resized := binarizedMask
	if fn > 0 {
		resized, err = tensors.Interpolate(binarizedMask, fh, fw)
		if err != nil {
			return nil, nil, errors.Wrap(err, "refine head")
		}
	} else {
		resized = tensors.New4(0, mc, fh, fw)
	}
	fusedFeats, err := tensors.ConcatChannels(feats, resized)
	if err != nil {
		return nil, nil, errors.Wrap(err, "refine head")
	}

	pooled, err := globalAveragePool(fusedFeats, h.fused)
	if err != nil {
		return nil, nil, errors.Wrap(err, "refine head")
	}
	scores := linearForward(pooled, fn, h.fused, h.clsWeights, h.clsBias)
	deltas := linearForward(pooled, fn, h.fused, h.regWeights, h.regBias)
	return scores, deltas, nil
}

// GetTarget implements RefineHead: targets cover the sampled positives
// only, matching the region set the head runs on.
func (h *LinearRefineHead) GetTarget(results []assign.SamplingResult, coder boxes.DeltaCoder) BoxTargets {
	return AssemblePositiveTargets(results, coder)
}

// Loss implements RefineHead, returning loss_refine_cls and
// loss_refine_bbox.
func (h *LinearRefineHead) Loss(scores, deltas *tensor.Dense, targets BoxTargets) (map[string]float32, error) {
	clsLoss, err := softmaxCrossEntropy(scores, targets.Labels, targets.LabelWeights)
	if err != nil {
		return nil, errors.Wrap(err, "refine head")
	}
	regLoss, err := smoothL1(deltas, targets)
	if err != nil {
		return nil, errors.Wrap(err, "refine head")
	}
	return map[string]float32{"loss_refine_cls": clsLoss, "loss_refine_bbox": regLoss}, nil
}
