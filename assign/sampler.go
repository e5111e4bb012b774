package assign

import (
	"math/rand"

	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/boxes"
)

// SamplerConfig controls the size and balance of the sampled region set.
type SamplerConfig struct {
	// Num is the total number of regions sampled per image.
	Num int
	// PosFraction is the target share of positives in the sample.
	PosFraction float32
	// AddGTAsProposals appends the ground-truth boxes to the proposal set
	// before sampling, guaranteeing at least one high-quality positive per
	// ground truth.
	AddGTAsProposals bool
	// Seed makes subsampling reproducible.
	Seed int64
}

// SamplingResult partitions one image's proposals into the sampled
// positive and negative subsets, with back-references to the matched
// ground truth per positive. It lives for one training step.
type SamplingResult struct {
	PosIndices []int
	NegIndices []int
	PosBoxes   []boxes.Box
	NegBoxes   []boxes.Box
	// PosGTBoxes, PosGTLabels and PosGTIndices are aligned 1:1 with
	// PosBoxes; PosGTIndices holds the matched ground-truth index within
	// the image, for looking up per-instance data such as masks.
	PosGTBoxes   []boxes.Box
	PosGTLabels  []int
	PosGTIndices []int
}

// Boxes returns the sampled boxes, positives first. Downstream RoI
// concatenation relies on this ordering.
func (r SamplingResult) Boxes() []boxes.Box {
	out := make([]boxes.Box, 0, len(r.PosBoxes)+len(r.NegBoxes))
	out = append(out, r.PosBoxes...)
	out = append(out, r.NegBoxes...)
	return out
}

// NumPos returns the number of sampled positives.
func (r SamplingResult) NumPos() int { return len(r.PosBoxes) }

// NumNeg returns the number of sampled negatives.
func (r SamplingResult) NumNeg() int { return len(r.NegBoxes) }

// Sampler subsamples an assignment into a training-sized region set.
// Context features are accepted for samplers that rank candidates by
// feature statistics; RandomSampler ignores them.
type Sampler interface {
	Sample(assignment Result, proposals, gts []boxes.Box, gtLabels []int, feats *tensor.Dense) SamplingResult
}

// RandomSampler draws positives and negatives uniformly at random, capping
// positives at Num*PosFraction and filling the remainder with negatives.
type RandomSampler struct {
	cfg SamplerConfig
	rng *rand.Rand
}

// NewRandomSampler creates a sampler with the given budget and seed.
func NewRandomSampler(cfg SamplerConfig) *RandomSampler {
	return &RandomSampler{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Sample implements Sampler.
//
// Degenerate inputs (no positives, no negatives, or both) produce empty
// subsets rather than errors; the empty SamplingResult flows through target
// assembly untouched.
func (s *RandomSampler) Sample(assignment Result, proposals, gts []boxes.Box, gtLabels []int, _ *tensor.Dense) SamplingResult {
	if s.cfg.AddGTAsProposals && len(gts) > 0 {
		proposals = append(append([]boxes.Box{}, proposals...), gts...)
		extra := Result{
			GTIndices:   append(append([]int{}, assignment.GTIndices...), make([]int, len(gts))...),
			MaxOverlaps: append(append([]float32{}, assignment.MaxOverlaps...), make([]float32, len(gts))...),
			Labels:      append(append([]int{}, assignment.Labels...), make([]int, len(gts))...),
		}
		for g := range gts {
			i := len(assignment.GTIndices) + g
			extra.GTIndices[i] = g + 1
			extra.MaxOverlaps[i] = 1
			if g < len(gtLabels) {
				extra.Labels[i] = gtLabels[g]
			}
		}
		assignment = extra
	}

	var posPool, negPool []int
	for i, gtIdx := range assignment.GTIndices {
		switch {
		case gtIdx > 0:
			posPool = append(posPool, i)
		case gtIdx == AssignedBackground:
			negPool = append(negPool, i)
		}
	}

	wantPos := int(float32(s.cfg.Num)*s.cfg.PosFraction + 0.5)
	posIndices := s.subsample(posPool, wantPos)
	negIndices := s.subsample(negPool, s.cfg.Num-len(posIndices))

	res := SamplingResult{
		PosIndices:   posIndices,
		NegIndices:   negIndices,
		PosBoxes:     make([]boxes.Box, 0, len(posIndices)),
		NegBoxes:     make([]boxes.Box, 0, len(negIndices)),
		PosGTBoxes:   make([]boxes.Box, 0, len(posIndices)),
		PosGTLabels:  make([]int, 0, len(posIndices)),
		PosGTIndices: make([]int, 0, len(posIndices)),
	}
	for _, i := range posIndices {
		gtIdx := assignment.GTIndices[i] - 1
		res.PosBoxes = append(res.PosBoxes, proposals[i])
		res.PosGTBoxes = append(res.PosGTBoxes, gts[gtIdx])
		res.PosGTLabels = append(res.PosGTLabels, assignment.Labels[i])
		res.PosGTIndices = append(res.PosGTIndices, gtIdx)
	}
	for _, i := range negIndices {
		res.NegBoxes = append(res.NegBoxes, proposals[i])
	}
	return res
}

// subsample picks up to want indices from the pool without replacement,
// preserving pool order when no subsampling is needed.
func (s *RandomSampler) subsample(pool []int, want int) []int {
	if want < 0 {
		want = 0
	}
	if len(pool) <= want {
		return append([]int{}, pool...)
	}
	perm := s.rng.Perm(len(pool))[:want]
	out := make([]int, want)
	for i, p := range perm {
		out[i] = pool[p]
	}
	return out
}
