// Package assign - matches proposals to ground-truth boxes and subsamples
// balanced positive/negative training regions.
package assign

import (
	"github.com/vision-kit/maskhint/boxes"
)

// AssignedIgnore and AssignedBackground are the non-positive assignment
// states. Positive assignments store the matched ground-truth index + 1.
const (
	AssignedIgnore     = -1
	AssignedBackground = 0
)

// Config controls the max-IoU assignment policy.
type Config struct {
	// PosIoUThreshold is the minimum overlap for a proposal to count as a
	// positive match.
	PosIoUThreshold float32
	// NegIoUThreshold is the overlap below which a proposal is background.
	// Proposals between the two thresholds are ignored.
	NegIoUThreshold float32
	// MinPosIoU enables the low-quality match rescue: every ground truth
	// claims its best-overlapping proposal if that overlap is at least
	// MinPosIoU, even when it is under PosIoUThreshold. Zero disables it.
	MinPosIoU float32
	// IgnoreIoFThreshold marks proposals whose intersection-over-foreground
	// with any ignore region exceeds this value as ignored. Zero disables
	// ignore-region filtering.
	IgnoreIoFThreshold float32
}

// Result is the per-proposal assignment: matched ground-truth index + 1,
// background, or ignore, plus the matched overlap and label.
type Result struct {
	// GTIndices has one entry per proposal: AssignedIgnore,
	// AssignedBackground, or gtIndex+1.
	GTIndices []int
	// MaxOverlaps is the best IoU each proposal achieved over all gts.
	MaxOverlaps []float32
	// Labels is the matched ground-truth label per proposal, 0 for
	// non-positives.
	Labels []int
}

// NumProposals returns the number of assigned proposals.
func (r Result) NumProposals() int { return len(r.GTIndices) }

// MaxIoUAssigner assigns each proposal to the ground truth it overlaps
// most, subject to the configured thresholds.
type MaxIoUAssigner struct {
	cfg Config
}

// NewMaxIoUAssigner creates an assigner with the given policy.
func NewMaxIoUAssigner(cfg Config) *MaxIoUAssigner {
	return &MaxIoUAssigner{cfg: cfg}
}

// Assign labels every proposal against the ground-truth set.
//
// Zero proposals or zero ground truths are not errors: the result simply
// has no positive entries (every proposal becomes background when there is
// nothing to match).
func (a *MaxIoUAssigner) Assign(proposals, gts []boxes.Box, ignore []boxes.Box, gtLabels []int) Result {
	n := len(proposals)
	res := Result{
		GTIndices:   make([]int, n),
		MaxOverlaps: make([]float32, n),
		Labels:      make([]int, n),
	}
	if n == 0 {
		return res
	}

	// Pass 1: best ground truth per proposal.
	bestGT := make([]int, n)
	for i := range bestGT {
		bestGT[i] = -1
	}
	for i, p := range proposals {
		for g, gt := range gts {
			iou := boxes.IoU(p, gt)
			if iou > res.MaxOverlaps[i] {
				res.MaxOverlaps[i] = iou
				bestGT[i] = g
			}
		}
	}

	for i := range proposals {
		switch {
		case res.MaxOverlaps[i] >= a.cfg.PosIoUThreshold && bestGT[i] >= 0:
			res.GTIndices[i] = bestGT[i] + 1
		case res.MaxOverlaps[i] < a.cfg.NegIoUThreshold:
			res.GTIndices[i] = AssignedBackground
		default:
			res.GTIndices[i] = AssignedIgnore
		}
	}

	// Pass 2: low-quality rescue. Each gt claims its best proposal so no
	// ground truth goes unmatched when a reasonable candidate exists.
	if a.cfg.MinPosIoU > 0 {
		for g, gt := range gts {
			bestIoU := float32(0)
			bestIdx := -1
			for i, p := range proposals {
				iou := boxes.IoU(p, gt)
				if iou > bestIoU {
					bestIoU = iou
					bestIdx = i
				}
			}
			if bestIdx >= 0 && bestIoU >= a.cfg.MinPosIoU {
				res.GTIndices[bestIdx] = g + 1
				if bestIoU > res.MaxOverlaps[bestIdx] {
					res.MaxOverlaps[bestIdx] = bestIoU
				}
			}
		}
	}

	// Pass 3: ignore regions override everything but keep overlaps for
	// debugging.
	if a.cfg.IgnoreIoFThreshold > 0 && len(ignore) > 0 {
		for i, p := range proposals {
			for _, ig := range ignore {
				if boxes.IoF(p, ig) > a.cfg.IgnoreIoFThreshold {
					res.GTIndices[i] = AssignedIgnore
					break
				}
			}
		}
	}

	for i, gtIdx := range res.GTIndices {
		if gtIdx > 0 && gtIdx-1 < len(gtLabels) {
			res.Labels[i] = gtLabels[gtIdx-1]
		}
	}
	return res
}
