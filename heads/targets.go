package heads

import (
	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
)

// BoxTargets are assembled classification and regression targets for a
// block of sampled regions. Rows follow sampling order: per image,
// positives then negatives, images concatenated in batch order, the same
// order the corresponding RoI features were pooled in.
type BoxTargets struct {
	Labels       []int
	LabelWeights []float32
	Deltas       []boxes.Delta
	DeltaWeights []float32
}

// Len returns the number of target rows.
func (t BoxTargets) Len() int { return len(t.Labels) }

// NumPositive counts rows with a positive regression weight.
func (t BoxTargets) NumPositive() int {
	n := 0
	for _, w := range t.DeltaWeights {
		if w > 0 {
			n++
		}
	}
	return n
}

// AssembleBoxTargets builds targets for all sampled regions: positives get
// their matched label and encoded box delta, negatives get the background
// label and zero regression weight.
func AssembleBoxTargets(results []assign.SamplingResult, coder boxes.DeltaCoder) BoxTargets {
	total := 0
	for _, r := range results {
		total += r.NumPos() + r.NumNeg()
	}
	t := BoxTargets{
		Labels:       make([]int, 0, total),
		LabelWeights: make([]float32, 0, total),
		Deltas:       make([]boxes.Delta, 0, total),
		DeltaWeights: make([]float32, 0, total),
	}
	for _, r := range results {
		for i := range r.PosBoxes {
			t.Labels = append(t.Labels, r.PosGTLabels[i])
			t.LabelWeights = append(t.LabelWeights, 1)
			t.Deltas = append(t.Deltas, coder.Encode(r.PosBoxes[i], r.PosGTBoxes[i]))
			t.DeltaWeights = append(t.DeltaWeights, 1)
		}
		for range r.NegBoxes {
			t.Labels = append(t.Labels, 0)
			t.LabelWeights = append(t.LabelWeights, 1)
			t.Deltas = append(t.Deltas, boxes.Delta{})
			t.DeltaWeights = append(t.DeltaWeights, 0)
		}
	}
	return t
}

// AssemblePositiveTargets builds targets for the positive regions only, in
// the same per-image order as AssembleBoxTargets restricted to positives.
// This matches the region set the refinement head runs on.
func AssemblePositiveTargets(results []assign.SamplingResult, coder boxes.DeltaCoder) BoxTargets {
	total := 0
	for _, r := range results {
		total += r.NumPos()
	}
	t := BoxTargets{
		Labels:       make([]int, 0, total),
		LabelWeights: make([]float32, 0, total),
		Deltas:       make([]boxes.Delta, 0, total),
		DeltaWeights: make([]float32, 0, total),
	}
	for _, r := range results {
		for i := range r.PosBoxes {
			t.Labels = append(t.Labels, r.PosGTLabels[i])
			t.LabelWeights = append(t.LabelWeights, 1)
			t.Deltas = append(t.Deltas, coder.Encode(r.PosBoxes[i], r.PosGTBoxes[i]))
			t.DeltaWeights = append(t.DeltaWeights, 1)
		}
	}
	return t
}

// PositiveLabels concatenates the matched labels of all positives in image
// order.
func PositiveLabels(results []assign.SamplingResult) []int {
	var labels []int
	for _, r := range results {
		labels = append(labels, r.PosGTLabels...)
	}
	return labels
}
