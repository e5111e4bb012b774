package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vision-kit/maskhint/boxes"
)

func testConfig() Config {
	return Config{
		PosIoUThreshold: 0.5,
		NegIoUThreshold: 0.5,
		MinPosIoU:       0,
	}
}

// Scenario from the refinement protocol contract: 3 proposals, 1 ground
// truth overlapping only proposal #2 above the positive threshold. The
// sample must contain exactly that positive, and negatives only from the
// remaining proposals.
func TestAssignAndSampleScenario(t *testing.T) {
	proposals := []boxes.Box{
		{X1: 200, Y1: 200, X2: 260, Y2: 260},
		{X1: 0, Y1: 0, X2: 10, Y2: 10},
		{X1: 48, Y1: 52, X2: 152, Y2: 148}, // IoU with gt well above 0.5
	}
	gts := []boxes.Box{{X1: 50, Y1: 50, X2: 150, Y2: 150}}
	gtLabels := []int{3}

	assigner := NewMaxIoUAssigner(testConfig())
	result := assigner.Assign(proposals, gts, nil, gtLabels)

	require.Equal(t, 3, result.NumProposals())
	assert.Equal(t, AssignedBackground, result.GTIndices[0])
	assert.Equal(t, AssignedBackground, result.GTIndices[1])
	assert.Equal(t, 1, result.GTIndices[2])
	assert.Equal(t, 3, result.Labels[2])

	sampler := NewRandomSampler(SamplerConfig{Num: 8, PosFraction: 0.25, Seed: 42})
	sample := sampler.Sample(result, proposals, gts, gtLabels, nil)

	require.Equal(t, 1, sample.NumPos())
	assert.Equal(t, proposals[2], sample.PosBoxes[0])
	assert.Equal(t, gts[0], sample.PosGTBoxes[0])
	assert.Equal(t, []int{3}, sample.PosGTLabels)
	assert.LessOrEqual(t, sample.NumNeg(), 7)
	for _, i := range sample.NegIndices {
		assert.Contains(t, []int{0, 1}, i)
	}
}

func TestAssignZeroGroundTruth(t *testing.T) {
	proposals := []boxes.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	assigner := NewMaxIoUAssigner(testConfig())

	result := assigner.Assign(proposals, nil, nil, nil)
	assert.Equal(t, AssignedBackground, result.GTIndices[0])

	sampler := NewRandomSampler(SamplerConfig{Num: 4, PosFraction: 0.5, Seed: 1})
	sample := sampler.Sample(result, proposals, nil, nil, nil)
	assert.Equal(t, 0, sample.NumPos())
	assert.Equal(t, 1, sample.NumNeg())
}

func TestAssignZeroProposals(t *testing.T) {
	assigner := NewMaxIoUAssigner(testConfig())
	result := assigner.Assign(nil, []boxes.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}, nil, []int{1})
	assert.Equal(t, 0, result.NumProposals())

	sampler := NewRandomSampler(SamplerConfig{Num: 4, PosFraction: 0.5, Seed: 1})
	sample := sampler.Sample(result, nil, []boxes.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}, []int{1}, nil)
	assert.Equal(t, 0, sample.NumPos())
	assert.Equal(t, 0, sample.NumNeg())
}

func TestAssignIgnoreBand(t *testing.T) {
	// Overlap between the neg and pos thresholds is ignored, not sampled.
	cfg := Config{PosIoUThreshold: 0.7, NegIoUThreshold: 0.3}
	assigner := NewMaxIoUAssigner(cfg)

	proposals := []boxes.Box{{X1: 0, Y1: 0, X2: 100, Y2: 50}} // IoU 0.5 with gt
	gts := []boxes.Box{{X1: 0, Y1: 0, X2: 100, Y2: 100}}

	result := assigner.Assign(proposals, gts, nil, []int{1})
	assert.Equal(t, AssignedIgnore, result.GTIndices[0])

	sampler := NewRandomSampler(SamplerConfig{Num: 4, PosFraction: 0.5, Seed: 1})
	sample := sampler.Sample(result, proposals, gts, []int{1}, nil)
	assert.Equal(t, 0, sample.NumPos()+sample.NumNeg())
}

func TestAssignLowQualityRescue(t *testing.T) {
	cfg := Config{PosIoUThreshold: 0.7, NegIoUThreshold: 0.3, MinPosIoU: 0.4}
	assigner := NewMaxIoUAssigner(cfg)

	proposals := []boxes.Box{{X1: 0, Y1: 0, X2: 100, Y2: 50}} // IoU 0.5, below pos thr
	gts := []boxes.Box{{X1: 0, Y1: 0, X2: 100, Y2: 100}}

	result := assigner.Assign(proposals, gts, nil, []int{2})
	assert.Equal(t, 1, result.GTIndices[0])
	assert.Equal(t, 2, result.Labels[0])
}

func TestAssignIgnoreRegions(t *testing.T) {
	cfg := testConfig()
	cfg.IgnoreIoFThreshold = 0.5
	assigner := NewMaxIoUAssigner(cfg)

	proposals := []boxes.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}}
	ignore := []boxes.Box{{X1: 0, Y1: 0, X2: 50, Y2: 50}}

	result := assigner.Assign(proposals, nil, ignore, nil)
	assert.Equal(t, AssignedIgnore, result.GTIndices[0])
}

func TestSamplerPosFractionCap(t *testing.T) {
	// 10 positives available, budget allows 4.
	proposals := make([]boxes.Box, 10)
	gts := []boxes.Box{{X1: 0, Y1: 0, X2: 100, Y2: 100}}
	assignment := Result{
		GTIndices:   make([]int, 10),
		MaxOverlaps: make([]float32, 10),
		Labels:      make([]int, 10),
	}
	for i := range assignment.GTIndices {
		assignment.GTIndices[i] = 1
		assignment.Labels[i] = 1
	}

	sampler := NewRandomSampler(SamplerConfig{Num: 16, PosFraction: 0.25, Seed: 7})
	sample := sampler.Sample(assignment, proposals, gts, []int{1}, nil)
	assert.Equal(t, 4, sample.NumPos())
	assert.Equal(t, 0, sample.NumNeg())
}

func TestSamplerAddGTAsProposals(t *testing.T) {
	gts := []boxes.Box{{X1: 10, Y1: 10, X2: 20, Y2: 20}}
	assignment := Result{GTIndices: []int{}, MaxOverlaps: []float32{}, Labels: []int{}}

	sampler := NewRandomSampler(SamplerConfig{Num: 4, PosFraction: 0.5, AddGTAsProposals: true, Seed: 3})
	sample := sampler.Sample(assignment, nil, gts, []int{5}, nil)

	require.Equal(t, 1, sample.NumPos())
	assert.Equal(t, gts[0], sample.PosBoxes[0])
	assert.Equal(t, []int{5}, sample.PosGTLabels)
}

func TestSamplerDeterministic(t *testing.T) {
	proposals := make([]boxes.Box, 30)
	assignment := Result{
		GTIndices:   make([]int, 30),
		MaxOverlaps: make([]float32, 30),
		Labels:      make([]int, 30),
	}

	a := NewRandomSampler(SamplerConfig{Num: 8, PosFraction: 0.25, Seed: 99})
	b := NewRandomSampler(SamplerConfig{Num: 8, PosFraction: 0.25, Seed: 99})
	sa := a.Sample(assignment, proposals, nil, nil, nil)
	sb := b.Sample(assignment, proposals, nil, nil, nil)
	assert.Equal(t, sa.NegIndices, sb.NegIndices)
}
