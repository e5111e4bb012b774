package boxes

import (
	"math"
	"testing"
)

// TestIoU_Correctness validates the IoU implementation against known cases.
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		a        Box
		b        Box
		expected float32
		epsilon  float32
	}{
		{
			name:     "Identical boxes",
			a:        Box{0, 0, 100, 100},
			b:        Box{0, 0, 100, 100},
			expected: 1.0,
			epsilon:  0.001,
		},
		{
			name:     "No overlap",
			a:        Box{0, 0, 100, 100},
			b:        Box{200, 200, 300, 300},
			expected: 0.0,
			epsilon:  0.001,
		},
		{
			name:     "Touching edges",
			a:        Box{0, 0, 100, 100},
			b:        Box{100, 0, 200, 100},
			expected: 0.0,
			epsilon:  0.001,
		},
		{
			name:     "Half overlap",
			a:        Box{0, 0, 100, 100},
			b:        Box{50, 50, 150, 150},
			expected: 0.142857, // 2500 / (10000+10000-2500)
			epsilon:  0.001,
		},
		{
			name:     "One inside other",
			a:        Box{0, 0, 100, 100},
			b:        Box{25, 25, 75, 75},
			expected: 0.25,
			epsilon:  0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IoU(tt.a, tt.b)
			if math.Abs(float64(result-tt.expected)) > float64(tt.epsilon) {
				t.Errorf("IoU() = %v, expected %v (±%v)", result, tt.expected, tt.epsilon)
			}

			// IoU(A, B) must equal IoU(B, A).
			reverse := IoU(tt.b, tt.a)
			if math.Abs(float64(result-reverse)) > float64(tt.epsilon) {
				t.Errorf("IoU not symmetric: %v != %v", result, reverse)
			}
		})
	}
}

func TestIoF(t *testing.T) {
	a := Box{0, 0, 10, 10}
	region := Box{0, 0, 100, 100}
	if got := IoF(a, region); math.Abs(float64(got-1)) > 1e-6 {
		t.Errorf("IoF of contained box = %v, expected 1", got)
	}
	if got := IoF(region, a); got > 0.011 || got < 0.009 {
		t.Errorf("IoF of containing box = %v, expected 0.01", got)
	}
}

func TestClip(t *testing.T) {
	b := Box{-10, -5, 150, 90}.Clip(100, 120)
	want := Box{0, 0, 120, 90}
	if b != want {
		t.Errorf("Clip() = %v, want %v", b, want)
	}
}

// TestDeltaRoundTrip checks that encode followed by decode reproduces the
// target box, and decode followed by encode reproduces the deltas.
func TestDeltaRoundTrip(t *testing.T) {
	coder := DefaultDeltaCoder()
	proposals := []Box{
		{10, 10, 60, 90},
		{0, 0, 30, 30},
		{100, 50, 180, 200},
	}
	targets := []Box{
		{12, 8, 70, 100},
		{5, 5, 25, 40},
		{90, 60, 200, 190},
	}

	const tol = 1e-3
	for i := range proposals {
		delta := coder.Encode(proposals[i], targets[i])
		decoded := coder.Decode(proposals[i], delta, 1000, 1000)
		for _, diff := range []float32{
			decoded.X1 - targets[i].X1, decoded.Y1 - targets[i].Y1,
			decoded.X2 - targets[i].X2, decoded.Y2 - targets[i].Y2,
		} {
			if math.Abs(float64(diff)) > tol {
				t.Fatalf("decode(encode(%v)) = %v, want %v", targets[i], decoded, targets[i])
			}
		}

		reencoded := coder.Encode(proposals[i], decoded)
		for j := 0; j < 4; j++ {
			if math.Abs(float64(reencoded[j]-delta[j])) > tol {
				t.Fatalf("encode(decode(delta)) = %v, want %v", reencoded, delta)
			}
		}
	}
}

func TestDeltaNormalization(t *testing.T) {
	coder := DeltaCoder{
		Means:       [4]float32{0, 0, 0, 0},
		Stds:        [4]float32{0.1, 0.1, 0.2, 0.2},
		WHRatioClip: 16.0 / 1000.0,
	}
	proposal := Box{0, 0, 100, 100}
	delta := coder.Encode(proposal, proposal)
	for j := 0; j < 4; j++ {
		if delta[j] != 0 {
			t.Fatalf("identity delta not zero: %v", delta)
		}
	}

	decoded := coder.Decode(proposal, Delta{0, 0, 0, 0}, 200, 200)
	if decoded != proposal {
		t.Fatalf("zero delta moved box: %v", decoded)
	}
}

func TestToRoIsPreservesImageOrder(t *testing.T) {
	perImage := [][]Box{
		{{0, 0, 10, 10}, {5, 5, 15, 15}},
		{},
		{{20, 20, 40, 40}},
	}
	rois := ToRoIs(perImage)
	if len(rois) != 3 {
		t.Fatalf("got %d rois, want 3", len(rois))
	}
	wantImages := []int{0, 0, 2}
	for i, r := range rois {
		if r.ImageIndex != wantImages[i] {
			t.Errorf("roi %d tagged image %d, want %d", i, r.ImageIndex, wantImages[i])
		}
	}
}

func TestApplyGreedyNMS(t *testing.T) {
	dets := []Detection{
		{Box: Box{0, 0, 100, 100}, Score: 0.9, Label: 1},
		{Box: Box{5, 5, 105, 105}, Score: 0.8, Label: 1},  // suppressed by first
		{Box: Box{200, 200, 300, 300}, Score: 0.7, Label: 1},
	}
	kept := ApplyGreedyNMS(dets, NMSConfig{IoUThreshold: 0.5})
	if len(kept) != 2 {
		t.Fatalf("kept %d detections, want 2", len(kept))
	}
	if kept[0].Score != 0.9 || kept[1].Score != 0.7 {
		t.Errorf("unexpected survivors: %v", kept)
	}

	if got := ApplyGreedyNMS(nil, NMSConfig{IoUThreshold: 0.5}); got != nil {
		t.Errorf("empty input should return nil, got %v", got)
	}
}

func TestApplyGreedyNMSClassAware(t *testing.T) {
	dets := []Detection{
		{Box: Box{0, 0, 100, 100}, Score: 0.9, Label: 1},
		{Box: Box{0, 0, 100, 100}, Score: 0.8, Label: 2},
	}
	kept := ApplyGreedyNMS(dets, NMSConfig{IoUThreshold: 0.5, ClassAware: true})
	if len(kept) != 2 {
		t.Fatalf("class-aware NMS suppressed across classes: %v", kept)
	}
}

func TestSplitByClass(t *testing.T) {
	dets := []Detection{
		{Score: 0.9, Label: 1},
		{Score: 0.8, Label: 3},
		{Score: 0.7, Label: 1},
	}
	split := SplitByClass(dets, 4) // 3 foreground classes
	if len(split) != 3 {
		t.Fatalf("got %d classes, want 3", len(split))
	}
	if len(split[0]) != 2 || len(split[1]) != 0 || len(split[2]) != 1 {
		t.Errorf("unexpected grouping: %v", split)
	}

	empty := SplitByClass(nil, 4)
	for i, lst := range empty {
		if lst == nil || len(lst) != 0 {
			t.Errorf("class %d should be empty non-nil, got %v", i, lst)
		}
	}
}
