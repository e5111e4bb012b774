package rpn

import (
	"math/rand"
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

// AnchorHeadConfig sizes an AnchorHead.
type AnchorHeadConfig struct {
	// InChannels is the channel count of every pyramid level.
	InChannels int
	// Strides maps pyramid levels to image strides, finest first.
	Strides []int
	// AnchorScale sets the square anchor side to stride * AnchorScale per
	// level. Zero means 8.
	AnchorScale float32
	// Assigner is the anchor-to-ground-truth matching policy used by Loss.
	Assigner assign.Config
	// Coder decodes predicted deltas; zero value means the default coder.
	Coder boxes.DeltaCoder
	// Seed initializes the head's weights deterministically.
	Seed int64
}

// AnchorHead is the reference proposal head: a shared per-pixel linear
// projection from feature channels to one objectness logit and four box
// deltas, with one square anchor per cell.
type AnchorHead struct {
	cfg        AnchorHeadConfig
	clsWeights []float32 // (1, InChannels)
	clsBias    float32
	regWeights []float32 // (4, InChannels)
	regBias    []float32
}

// NewAnchorHead creates a proposal head with small random weights.
func NewAnchorHead(cfg AnchorHeadConfig) (*AnchorHead, error) {
	if cfg.InChannels <= 0 {
		return nil, errors.Errorf("anchor head: invalid channel count %d", cfg.InChannels)
	}
	if len(cfg.Strides) == 0 {
		return nil, errors.New("anchor head: no pyramid strides configured")
	}
	if cfg.AnchorScale == 0 {
		cfg.AnchorScale = 8
	}
	if cfg.Coder.WHRatioClip == 0 {
		cfg.Coder = boxes.DefaultDeltaCoder()
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &AnchorHead{
		cfg:        cfg,
		clsWeights: randomWeights(rng, cfg.InChannels),
		regWeights: randomWeights(rng, 4*cfg.InChannels),
		regBias:    make([]float32, 4),
	}, nil
}

func randomWeights(rng *rand.Rand, n int) []float32 {
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(rng.NormFloat64()) * 0.01
	}
	return w
}

// Forward implements Head. The pyramid must have one level per configured
// stride, all with the configured channel count.
func (h *AnchorHead) Forward(features []*tensor.Dense) (RawOutputs, error) {
	if len(features) != len(h.cfg.Strides) {
		return RawOutputs{}, errors.Errorf("anchor head: %d pyramid levels vs %d strides", len(features), len(h.cfg.Strides))
	}
	out := RawOutputs{
		Scores: make([]*tensor.Dense, len(features)),
		Deltas: make([]*tensor.Dense, len(features)),
	}
	for lvl, feat := range features {
		b, c, fh, fw, err := tensors.Shape4(feat)
		if err != nil {
			return RawOutputs{}, errors.Wrapf(err, "anchor head: level %d", lvl)
		}
		if c != h.cfg.InChannels {
			return RawOutputs{}, errors.Errorf("anchor head: level %d has %d channels, expected %d", lvl, c, h.cfg.InChannels)
		}
		scores := tensors.New4(b, 1, fh, fw)
		deltas := tensors.New4(b, 4, fh, fw)
		src := tensors.Data(feat)
		sd := tensors.Data(scores)
		dd := tensors.Data(deltas)
		plane := fh * fw
		for i := 0; i < b; i++ {
			for p := 0; p < plane; p++ {
				cls := h.clsBias
				var reg [4]float32
				copy(reg[:], h.regBias)
				for ch := 0; ch < c; ch++ {
					v := src[(i*c+ch)*plane+p]
					cls += v * h.clsWeights[ch]
					for j := 0; j < 4; j++ {
						reg[j] += v * h.regWeights[j*c+ch]
					}
				}
				sd[i*plane+p] = cls
				for j := 0; j < 4; j++ {
					dd[(i*4+j)*plane+p] = reg[j]
				}
			}
		}
		out.Scores[lvl] = scores
		out.Deltas[lvl] = deltas
	}
	return out, nil
}

// anchorsForLevel lays one square anchor per cell of an fh x fw grid.
func (h *AnchorHead) anchorsForLevel(lvl, fh, fw int) []boxes.Box {
	stride := float32(h.cfg.Strides[lvl])
	side := stride * h.cfg.AnchorScale
	anchors := make([]boxes.Box, 0, fh*fw)
	for y := 0; y < fh; y++ {
		cy := (float32(y) + 0.5) * stride
		for x := 0; x < fw; x++ {
			cx := (float32(x) + 0.5) * stride
			anchors = append(anchors, boxes.Box{
				X1: cx - side*0.5,
				Y1: cy - side*0.5,
				X2: cx + side*0.5,
				Y2: cy + side*0.5,
			})
		}
	}
	return anchors
}

// Loss implements Head, returning loss_rpn_cls and loss_rpn_bbox.
//
// Anchors across all levels of one image are matched to that image's ground
// truths; positives get a binary objectness target of 1 and a box delta
// target, backgrounds get 0, ignored anchors do not contribute.
func (h *AnchorHead) Loss(raw RawOutputs, gts [][]boxes.Box, metas []images.ImageMeta) (map[string]float32, error) {
	if raw.Levels() != len(h.cfg.Strides) {
		return nil, errors.Errorf("anchor head: %d output levels vs %d strides", raw.Levels(), len(h.cfg.Strides))
	}
	assigner := assign.NewMaxIoUAssigner(h.cfg.Assigner)

	var clsLoss, regLoss float32
	clsCount, regCount := 0, 0

	for img := range metas {
		if img >= len(gts) {
			return nil, errors.Errorf("anchor head: no ground truths for image %d", img)
		}
		anchors, scores, deltas, err := h.flattenImage(raw, img)
		if err != nil {
			return nil, err
		}
		res := assigner.Assign(anchors, gts[img], nil, nil)
		for i, gtIdx := range res.GTIndices {
			switch {
			case gtIdx > 0:
				clsLoss += binaryCrossEntropy(scores[i], 1)
				clsCount++
				target := h.cfg.Coder.Encode(anchors[i], gts[img][gtIdx-1])
				for j := 0; j < 4; j++ {
					diff := math32.Abs(deltas[i][j] - target[j])
					if diff < 1 {
						regLoss += 0.5 * diff * diff
					} else {
						regLoss += diff - 0.5
					}
				}
				regCount++
			case gtIdx == assign.AssignedBackground:
				clsLoss += binaryCrossEntropy(scores[i], 0)
				clsCount++
			}
		}
	}

	losses := map[string]float32{"loss_rpn_cls": 0, "loss_rpn_bbox": 0}
	if clsCount > 0 {
		losses["loss_rpn_cls"] = clsLoss / float32(clsCount)
	}
	if regCount > 0 {
		losses["loss_rpn_bbox"] = regLoss / float32(regCount)
	}
	return losses, nil
}

// DecodeProposals implements Head.
func (h *AnchorHead) DecodeProposals(raw RawOutputs, metas []images.ImageMeta, policy ProposalPolicy) ([][]boxes.Box, error) {
	if raw.Levels() != len(h.cfg.Strides) {
		return nil, errors.Errorf("anchor head: %d output levels vs %d strides", raw.Levels(), len(h.cfg.Strides))
	}
	out := make([][]boxes.Box, len(metas))
	for img, meta := range metas {
		anchors, scores, deltas, err := h.flattenImage(raw, img)
		if err != nil {
			return nil, err
		}

		candidates := make([]boxes.Detection, 0, len(anchors))
		for i, anchor := range anchors {
			score := sigmoid(scores[i])
			if score < policy.MinScore {
				continue
			}
			box := h.cfg.Coder.Decode(anchor, deltas[i], float32(meta.Height), float32(meta.Width))
			if box.Width() <= 0 || box.Height() <= 0 {
				continue
			}
			candidates = append(candidates, boxes.Detection{Box: box, Score: score})
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
		if policy.PreNMSLimit > 0 && len(candidates) > policy.PreNMSLimit {
			candidates = candidates[:policy.PreNMSLimit]
		}
		kept := boxes.ApplyGreedyNMS(candidates, boxes.NMSConfig{IoUThreshold: policy.NMSThreshold})
		if policy.MaxProposals > 0 && len(kept) > policy.MaxProposals {
			kept = kept[:policy.MaxProposals]
		}

		proposals := make([]boxes.Box, len(kept))
		for i, d := range kept {
			proposals[i] = d.Box
		}
		out[img] = proposals
	}
	return out, nil
}

// flattenImage collects one image's anchors, objectness logits and deltas
// across all pyramid levels in level order.
func (h *AnchorHead) flattenImage(raw RawOutputs, img int) ([]boxes.Box, []float32, []boxes.Delta, error) {
	var anchors []boxes.Box
	var scores []float32
	var deltas []boxes.Delta

	for lvl := range raw.Scores {
		b, _, fh, fw, err := tensors.Shape4(raw.Scores[lvl])
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "level %d scores", lvl)
		}
		if img >= b {
			return nil, nil, nil, errors.Errorf("image %d out of range for batch of %d", img, b)
		}
		db, dc, dh, dw, err := tensors.Shape4(raw.Deltas[lvl])
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "level %d deltas", lvl)
		}
		if db != b || dc != 4 || dh != fh || dw != fw {
			return nil, nil, nil, errors.Errorf("level %d: delta shape (%d,%d,%d,%d) does not match scores (%d,1,%d,%d)", lvl, db, dc, dh, dw, b, fh, fw)
		}

		anchors = append(anchors, h.anchorsForLevel(lvl, fh, fw)...)
		sd := tensors.Data(raw.Scores[lvl])
		dd := tensors.Data(raw.Deltas[lvl])
		plane := fh * fw
		for p := 0; p < plane; p++ {
			scores = append(scores, sd[img*plane+p])
			var d boxes.Delta
			for j := 0; j < 4; j++ {
				d[j] = dd[(img*4+j)*plane+p]
			}
			deltas = append(deltas, d)
		}
	}
	return anchors, scores, deltas, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func binaryCrossEntropy(logit, target float32) float32 {
	p := sigmoid(logit)
	p = math32.Min(math32.Max(p, 1e-7), 1-1e-7)
	return -(target*math32.Log(p) + (1-target)*math32.Log(1-p))
}
