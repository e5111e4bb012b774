package heads

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

func TestSoftmaxCrossEntropy(t *testing.T) {
	scores := tensors.New2(2, 2)
	loss, err := softmaxCrossEntropy(scores, []int{0, 1}, []float32{1, 1})
	require.NoError(t, err)
	// Uniform logits over two classes: -log(0.5) per row.
	assert.InDelta(t, 0.6931, loss, 1e-3)

	_, err = softmaxCrossEntropy(scores, []int{0}, []float32{1})
	assert.Error(t, err)

	empty := tensors.New2(0, 2)
	loss, err = softmaxCrossEntropy(empty, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, loss)
}

func TestSmoothL1(t *testing.T) {
	coder := boxes.DefaultDeltaCoder()
	result := assign.SamplingResult{
		PosBoxes:     []boxes.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		PosGTBoxes:   []boxes.Box{{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		PosGTLabels:  []int{1},
		PosGTIndices: []int{0},
		NegBoxes:     []boxes.Box{{X1: 20, Y1: 20, X2: 30, Y2: 30}},
	}
	targets := AssembleBoxTargets([]assign.SamplingResult{result}, coder)
	require.Equal(t, 2, targets.Len())
	require.Equal(t, 1, targets.NumPositive())

	// Identity match encodes to a zero delta; predict 0.5 off per component.
	deltas := tensors.New2(2, 8)
	data := tensors.Data(deltas)
	for j := 0; j < 4; j++ {
		data[4+j] = 0.5
	}
	loss, err := smoothL1(deltas, targets)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, loss, 1e-5)
}

func TestBoxTargetOrdering(t *testing.T) {
	coder := boxes.DefaultDeltaCoder()
	results := []assign.SamplingResult{
		{
			PosBoxes:     []boxes.Box{{X2: 1, Y2: 1}},
			PosGTBoxes:   []boxes.Box{{X2: 1, Y2: 1}},
			PosGTLabels:  []int{2},
			PosGTIndices: []int{0},
			NegBoxes:     []boxes.Box{{X2: 2, Y2: 2}},
		},
		{
			PosBoxes:     []boxes.Box{{X2: 3, Y2: 3}},
			PosGTBoxes:   []boxes.Box{{X2: 3, Y2: 3}},
			PosGTLabels:  []int{1},
			PosGTIndices: []int{0},
		},
	}
	targets := AssembleBoxTargets(results, coder)
	assert.Equal(t, []int{2, 0, 1}, targets.Labels)
	assert.Equal(t, []float32{1, 0, 1}, targets.DeltaWeights)

	posOnly := AssemblePositiveTargets(results, coder)
	assert.Equal(t, []int{2, 1}, posOnly.Labels)
	assert.Equal(t, []int{2, 1}, PositiveLabels(results))
}

func TestLinearBoxHeadForwardShapes(t *testing.T) {
	head, err := NewLinearBoxHead(LinearBoxHeadConfig{NumClasses: 3, InChannels: 8, Seed: 1})
	require.NoError(t, err)

	feats := tensors.New4(5, 8, 7, 7)
	scores, deltas, err := head.Forward(feats)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 3}, []int(scores.Shape()))
	assert.Equal(t, []int{5, 12}, []int(deltas.Shape()))

	empty := tensors.New4(0, 8, 7, 7)
	scores, deltas, err = head.Forward(empty)
	require.NoError(t, err)
	assert.Equal(t, 0, tensors.Rows(scores))
	assert.Equal(t, 0, tensors.Rows(deltas))
}

func TestLinearBoxHeadLossKeys(t *testing.T) {
	head, err := NewLinearBoxHead(LinearBoxHeadConfig{NumClasses: 3, InChannels: 4, Seed: 1})
	require.NoError(t, err)

	scores := tensors.New2(0, 3)
	deltas := tensors.New2(0, 12)
	losses, err := head.Loss(scores, deltas, BoxTargets{})
	require.NoError(t, err)
	assert.Contains(t, losses, "loss_cls")
	assert.Contains(t, losses, "loss_bbox")
}

func TestDecodeDetections(t *testing.T) {
	head, err := NewLinearBoxHead(LinearBoxHeadConfig{NumClasses: 3, InChannels: 4, Seed: 1})
	require.NoError(t, err)

	rois := []boxes.RoI{
		{ImageIndex: 0, Box: boxes.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}},
		{ImageIndex: 0, Box: boxes.Box{X1: 60, Y1: 60, X2: 90, Y2: 90}},
	}
	scores := tensors.New2(2, 3)
	sd := tensors.Data(scores)
	sd[1] = 5 // first region: confident class 1
	sd[3] = 5 // second region: confident background
	deltas := tensors.New2(2, 12)

	meta := images.ImageMeta{OriHeight: 50, OriWidth: 50, Height: 100, Width: 100, ScaleFactor: 2}
	cfg := DecodeConfig{
		ScoreThreshold: 0.3,
		NMS:            boxes.NMSConfig{IoUThreshold: 0.5, ClassAware: true},
		MaxPerImage:    100,
	}

	dets, err := head.DecodeDetections(rois, scores, deltas, meta, false, cfg)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].Label)
	assert.InDelta(t, 10, dets[0].Box.X1, 1e-4)
	assert.InDelta(t, 50, dets[0].Box.X2, 1e-4)
	assert.Greater(t, dets[0].Score, float32(0.9))

	rescaled, err := head.DecodeDetections(rois, scores, deltas, meta, true, cfg)
	require.NoError(t, err)
	require.Len(t, rescaled, 1)
	assert.InDelta(t, 5, rescaled[0].Box.X1, 1e-4)
	assert.InDelta(t, 25, rescaled[0].Box.X2, 1e-4)
}

func TestDecodeDetectionsEmpty(t *testing.T) {
	head, err := NewLinearBoxHead(LinearBoxHeadConfig{NumClasses: 3, InChannels: 4, Seed: 1})
	require.NoError(t, err)

	dets, err := head.DecodeDetections(nil, tensors.New2(0, 3), tensors.New2(0, 12), images.ImageMeta{}, false, DecodeConfig{})
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestDecodeDetectionsShapeMismatch(t *testing.T) {
	head, err := NewLinearBoxHead(LinearBoxHeadConfig{NumClasses: 3, InChannels: 4, Seed: 1})
	require.NoError(t, err)

	rois := []boxes.RoI{{Box: boxes.Box{X2: 10, Y2: 10}}}
	_, err = head.DecodeDetections(rois, tensors.New2(2, 3), tensors.New2(2, 12), images.ImageMeta{Height: 100, Width: 100}, false, DecodeConfig{})
	assert.Error(t, err)
}

func TestLinearMaskHeadForward(t *testing.T) {
	head, err := NewLinearMaskHead(LinearMaskHeadConfig{NumClasses: 3, InChannels: 4, MaskSize: 14, Seed: 2})
	require.NoError(t, err)

	feats := tensors.New4(2, 4, 14, 14)
	pred, err := head.Forward(feats)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 14, 14}, []int(pred.Shape()))

	wrong := tensors.New4(2, 4, 7, 7)
	_, err = head.Forward(wrong)
	assert.Error(t, err)
}

func TestMaskTargets(t *testing.T) {
	head, err := NewLinearMaskHead(LinearMaskHeadConfig{NumClasses: 2, InChannels: 4, MaskSize: 14, Seed: 2})
	require.NoError(t, err)

	// Ground truth: left half of a 28x28 image is foreground.
	gt := images.NewBinaryMask(28, 28)
	for y := 0; y < 28; y++ {
		for x := 0; x < 14; x++ {
			gt.Set(x, y, 1)
		}
	}
	results := []assign.SamplingResult{{
		PosBoxes:     []boxes.Box{{X1: 0, Y1: 0, X2: 14, Y2: 28}},
		PosGTBoxes:   []boxes.Box{{X1: 0, Y1: 0, X2: 14, Y2: 28}},
		PosGTLabels:  []int{1},
		PosGTIndices: []int{0},
	}}

	fg, bg, err := head.GetTarget(results, [][]images.BinaryMask{{gt}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 14, 14}, []int(fg.Shape()))
	for _, v := range tensors.Data(fg) {
		assert.Equal(t, float32(1), v)
	}
	for _, v := range tensors.Data(bg) {
		assert.Equal(t, float32(0), v)
	}
}

func TestMaskTargetsNoPositives(t *testing.T) {
	head, err := NewLinearMaskHead(LinearMaskHeadConfig{NumClasses: 2, InChannels: 4, MaskSize: 14, Seed: 2})
	require.NoError(t, err)

	fg, bg, err := head.GetTarget([]assign.SamplingResult{{}}, [][]images.BinaryMask{{}})
	require.NoError(t, err)
	assert.Equal(t, 0, tensors.Rows(fg))
	assert.Equal(t, 0, tensors.Rows(bg))
}

func TestMaskLoss(t *testing.T) {
	head, err := NewLinearMaskHead(LinearMaskHeadConfig{NumClasses: 2, InChannels: 4, MaskSize: 2, Seed: 2})
	require.NoError(t, err)

	pred := tensors.New4(1, 2, 2, 2)
	fg := tensors.New4(1, 1, 2, 2)
	bg := tensors.New4(1, 1, 2, 2)
	for i := range tensors.Data(fg) {
		tensors.Data(fg)[i] = 1
	}

	// Zero logits predict 0.5 everywhere: -log(0.5) per supervised pixel.
	losses, err := head.Loss(pred, fg, bg, []int{1})
	require.NoError(t, err)
	assert.InDelta(t, 0.6931, losses["loss_mask"], 1e-3)

	losses, err = head.Loss(tensors.New4(0, 2, 2, 2), tensors.New4(0, 1, 2, 2), tensors.New4(0, 1, 2, 2), nil)
	require.NoError(t, err)
	assert.Zero(t, losses["loss_mask"])
}

func TestDecodeSegmentation(t *testing.T) {
	head, err := NewLinearMaskHead(LinearMaskHeadConfig{NumClasses: 3, InChannels: 4, MaskSize: 4, Seed: 2})
	require.NoError(t, err)

	pred := tensors.New4(1, 3, 4, 4)
	data := tensors.Data(pred)
	// Strong positive logits on the class-2 channel.
	for p := 0; p < 16; p++ {
		data[2*16+p] = 10
	}
	dets := []boxes.Detection{{Box: boxes.Box{X1: 2, Y1: 2, X2: 8, Y2: 8}, Score: 0.9, Label: 2}}
	meta := images.ImageMeta{OriHeight: 10, OriWidth: 10, Height: 10, Width: 10, ScaleFactor: 1}

	masks, err := head.DecodeSegmentation(pred, dets, meta, 0.5)
	require.NoError(t, err)
	require.Len(t, masks, 2)
	assert.Empty(t, masks[0])
	require.Len(t, masks[1], 1)
	m := masks[1][0]
	assert.Equal(t, uint8(1), m.At(4, 4))
	assert.Equal(t, uint8(0), m.At(0, 0))
}

func TestDecodeSegmentationEmpty(t *testing.T) {
	head, err := NewLinearMaskHead(LinearMaskHeadConfig{NumClasses: 3, InChannels: 4, MaskSize: 4, Seed: 2})
	require.NoError(t, err)

	masks, err := head.DecodeSegmentation(tensors.New4(0, 3, 4, 4), nil, images.ImageMeta{}, 0.5)
	require.NoError(t, err)
	require.Len(t, masks, 2)
	assert.Empty(t, masks[0])
	assert.Empty(t, masks[1])
}

func TestLinearRefineHeadForward(t *testing.T) {
	head, err := NewLinearRefineHead(LinearRefineHeadConfig{NumClasses: 3, InChannels: 8, Seed: 3})
	require.NoError(t, err)

	feats := tensors.New4(4, 8, 7, 7)
	mask := tensors.New4(4, 2, 14, 14)
	scores, deltas, err := head.Forward(feats, mask)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, []int(scores.Shape()))
	assert.Equal(t, []int{4, 12}, []int(deltas.Shape()))
}

func TestLinearRefineHeadRegionMismatch(t *testing.T) {
	head, err := NewLinearRefineHead(LinearRefineHeadConfig{NumClasses: 3, InChannels: 8, Seed: 3})
	require.NoError(t, err)

	feats := tensors.New4(4, 8, 7, 7)
	mask := tensors.New4(3, 2, 14, 14)
	_, _, err = head.Forward(feats, mask)
	assert.Error(t, err)
}

func TestLinearRefineHeadEmpty(t *testing.T) {
	head, err := NewLinearRefineHead(LinearRefineHeadConfig{NumClasses: 3, InChannels: 8, Seed: 3})
	require.NoError(t, err)

	scores, deltas, err := head.Forward(tensors.New4(0, 8, 7, 7), tensors.New4(0, 2, 14, 14))
	require.NoError(t, err)
	assert.Equal(t, 0, tensors.Rows(scores))
	assert.Equal(t, 0, tensors.Rows(deltas))
}

func TestLinearRefineHeadLossKeys(t *testing.T) {
	head, err := NewLinearRefineHead(LinearRefineHeadConfig{NumClasses: 3, InChannels: 8, Seed: 3})
	require.NoError(t, err)

	losses, err := head.Loss(tensors.New2(0, 3), tensors.New2(0, 12), BoxTargets{})
	require.NoError(t, err)
	assert.Contains(t, losses, "loss_refine_cls")
	assert.Contains(t, losses, "loss_refine_bbox")
}
