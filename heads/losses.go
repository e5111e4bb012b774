package heads

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/tensors"
)

// softmaxRow computes a numerically stable softmax of one logit row.
func softmaxRow(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxVal := logits[0]
	for _, v := range logits {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxVal)
		sum += out[i]
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// softmaxCrossEntropy averages -log p(label) over rows, weighted by the
// per-row label weights. Zero rows yield zero loss.
func softmaxCrossEntropy(scores *tensor.Dense, labels []int, weights []float32) (float32, error) {
	n, k, err := tensors.Shape2(scores)
	if err != nil {
		return 0, err
	}
	if n != len(labels) || n != len(weights) {
		return 0, errors.Errorf("cross entropy: %d score rows vs %d labels, %d weights", n, len(labels), len(weights))
	}
	if n == 0 {
		return 0, nil
	}

	data := tensors.Data(scores)
	var loss, totalWeight float32
	for i := 0; i < n; i++ {
		label := labels[i]
		if label < 0 || label >= k {
			return 0, errors.Errorf("cross entropy: label %d out of range [0,%d)", label, k)
		}
		probs := softmaxRow(data[i*k : (i+1)*k])
		p := math32.Max(probs[label], 1e-12)
		loss += -math32.Log(p) * weights[i]
		totalWeight += weights[i]
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return loss / totalWeight, nil
}

// smoothL1 is the standard Huber-style regression loss on the delta slice
// of each row's target class, averaged over positive rows.
func smoothL1(deltas *tensor.Dense, targets BoxTargets) (float32, error) {
	n, width, err := tensors.Shape2(deltas)
	if err != nil {
		return 0, err
	}
	if n != targets.Len() {
		return 0, errors.Errorf("smooth l1: %d delta rows vs %d targets", n, targets.Len())
	}
	if n == 0 {
		return 0, nil
	}

	data := tensors.Data(deltas)
	var loss float32
	positives := 0
	for i := 0; i < n; i++ {
		if targets.DeltaWeights[i] == 0 {
			continue
		}
		label := targets.Labels[i]
		offset := i*width + 4*label
		if 4*label+4 > width {
			return 0, errors.Errorf("smooth l1: label %d exceeds delta width %d", label, width)
		}
		for j := 0; j < 4; j++ {
			diff := math32.Abs(data[offset+j] - targets.Deltas[i][j])
			if diff < 1 {
				loss += 0.5 * diff * diff
			} else {
				loss += diff - 0.5
			}
		}
		positives++
	}
	if positives == 0 {
		return 0, nil
	}
	return loss / float32(positives), nil
}

// sigmoid maps a logit to (0, 1).
func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// binaryCrossEntropy scores a sigmoid logit against a {0,1} target.
func binaryCrossEntropy(logit, target float32) float32 {
	p := sigmoid(logit)
	p = math32.Min(math32.Max(p, 1e-7), 1-1e-7)
	return -(target*math32.Log(p) + (1-target)*math32.Log(1-p))
}
