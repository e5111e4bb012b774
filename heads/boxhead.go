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

// LinearBoxHeadConfig sizes a LinearBoxHead.
type LinearBoxHeadConfig struct {
	// NumClasses includes background as class 0.
	NumClasses int
	// InChannels is the channel count of pooled RoI features.
	InChannels int
	// Coder decodes predicted deltas; zero value means the default coder.
	Coder boxes.DeltaCoder
	// Seed initializes the head's weights deterministically.
	Seed int64
}

// LinearBoxHead is the reference box head: global-average-pooled RoI
// features feed two linear layers, one for class scores and one for
// per-class box deltas.
type LinearBoxHead struct {
	cfg        LinearBoxHeadConfig
	clsWeights []float32 // (NumClasses, InChannels) row-major
	clsBias    []float32
	regWeights []float32 // (4*NumClasses, InChannels) row-major
	regBias    []float32
}

// NewLinearBoxHead creates a box head with small random weights.
func NewLinearBoxHead(cfg LinearBoxHeadConfig) (*LinearBoxHead, error) {
	if cfg.NumClasses < 2 {
		return nil, errors.Errorf("box head: need at least 2 classes, got %d", cfg.NumClasses)
	}
	if cfg.InChannels <= 0 {
		return nil, errors.Errorf("box head: invalid channel count %d", cfg.InChannels)
	}
	if cfg.Coder.WHRatioClip == 0 {
		cfg.Coder = boxes.DefaultDeltaCoder()
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	h := &LinearBoxHead{
		cfg:        cfg,
		clsWeights: randomWeights(rng, cfg.NumClasses*cfg.InChannels),
		clsBias:    make([]float32, cfg.NumClasses),
		regWeights: randomWeights(rng, 4*cfg.NumClasses*cfg.InChannels),
		regBias:    make([]float32, 4*cfg.NumClasses),
	}
	return h, nil
}

func randomWeights(rng *rand.Rand, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(rng.NormFloat64()) * 0.01
	}
	return w
}

// NumClasses implements BoxHead.
func (h *LinearBoxHead) NumClasses() int { return h.cfg.NumClasses }

// Forward implements BoxHead. Zero-row inputs produce zero-row outputs.
func (h *LinearBoxHead) Forward(feats *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	pooled, err := globalAveragePool(feats, h.cfg.InChannels)
	if err != nil {
		return nil, nil, errors.Wrap(err, "box head")
	}
	n := len(pooled) / h.cfg.InChannels
	scores := linearForward(pooled, n, h.cfg.InChannels, h.clsWeights, h.clsBias)
	deltas := linearForward(pooled, n, h.cfg.InChannels, h.regWeights, h.regBias)
	return scores, deltas, nil
}

// GetTarget implements BoxHead.
func (h *LinearBoxHead) GetTarget(results []assign.SamplingResult, coder boxes.DeltaCoder) BoxTargets {
	return AssembleBoxTargets(results, coder)
}

// Loss implements BoxHead, returning loss_cls and loss_bbox.
func (h *LinearBoxHead) Loss(scores, deltas *tensor.Dense, targets BoxTargets) (map[string]float32, error) {
	clsLoss, err := softmaxCrossEntropy(scores, targets.Labels, targets.LabelWeights)
	if err != nil {
		return nil, errors.Wrap(err, "box head")
	}
	regLoss, err := smoothL1(deltas, targets)
	if err != nil {
		return nil, errors.Wrap(err, "box head")
	}
	return map[string]float32{"loss_cls": clsLoss, "loss_bbox": regLoss}, nil
}

// DecodeDetections implements BoxHead.
//
// Every RoI must belong to the image described by meta. Scores pass through
// a softmax; each foreground class decodes its own delta slice against the
// RoI box, boxes are clipped to the padded image, then score thresholding,
// class-aware NMS and the per-image cap apply. With rescale set, final
// boxes are divided by the meta scale factor back to original resolution.
func (h *LinearBoxHead) DecodeDetections(rois []boxes.RoI, scores, deltas *tensor.Dense, meta images.ImageMeta, rescale bool, cfg DecodeConfig) ([]boxes.Detection, error) {
	n, k, err := tensors.Shape2(scores)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	dn, dw, err := tensors.Shape2(deltas)
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if n != len(rois) || dn != len(rois) {
		return nil, errors.Errorf("decode: %d rois vs %d score rows, %d delta rows", len(rois), n, dn)
	}
	if k != h.cfg.NumClasses || dw != 4*h.cfg.NumClasses {
		return nil, errors.Errorf("decode: output widths (%d, %d) do not match %d classes", k, dw, h.cfg.NumClasses)
	}
	if n == 0 {
		return nil, nil
	}

	coder := h.cfg.Coder
	scoreData := tensors.Data(scores)
	deltaData := tensors.Data(deltas)

	var candidates []boxes.Detection
	for i, roi := range rois {
		probs := softmaxRow(scoreData[i*k : (i+1)*k])
		for label := 1; label < k; label++ {
			if probs[label] < cfg.ScoreThreshold {
				continue
			}
			var d boxes.Delta
			copy(d[:], deltaData[i*dw+4*label:i*dw+4*label+4])
			box := coder.Decode(roi.Box, d, float32(meta.Height), float32(meta.Width))
			candidates = append(candidates, boxes.Detection{
				Box:   box,
				Score: probs[label],
				Label: label,
			})
		}
	}

	kept := boxes.ApplyGreedyNMS(candidates, cfg.NMS)
	if cfg.MaxPerImage > 0 && len(kept) > cfg.MaxPerImage {
		kept = kept[:cfg.MaxPerImage]
	}
	if rescale && meta.ScaleFactor != 0 {
		for i := range kept {
			kept[i].Box = kept[i].Box.Scale(1 / meta.ScaleFactor)
		}
	}
	return kept, nil
}

// globalAveragePool reduces (N, C, H, W) features to a flat (N*C) slice of
// per-channel means.
func globalAveragePool(feats *tensor.Dense, wantChannels int) ([]float32, error) {
	n, c, hh, ww, err := tensors.Shape4(feats)
	if err != nil {
		return nil, err
	}
	if c != wantChannels {
		return nil, errors.Errorf("expected %d channels, got %d", wantChannels, c)
	}
	out := make([]float32, n*c)
	data := tensors.Data(feats)
	plane := hh * ww
	if plane == 0 {
		return out, nil
	}
	for i := 0; i < n*c; i++ {
		var sum float32
		for p := 0; p < plane; p++ {
			sum += data[i*plane+p]
		}
		out[i] = sum / float32(plane)
	}
	return out, nil
}

// linearForward applies y = xW^T + b row by row.
func linearForward(x []float32, n, in int, weights, bias []float32) *tensor.Dense {
	outDim := len(bias)
	out := tensors.New2(n, outDim)
	dst := tensors.Data(out)
	for i := 0; i < n; i++ {
		row := x[i*in : (i+1)*in]
		for o := 0; o < outDim; o++ {
			sum := bias[o]
			w := weights[o*in : (o+1)*in]
			for j, v := range row {
				sum += v * w[j]
			}
			dst[i*outDim+o] = sum
		}
	}
	return out
}
