// Package rpn - the region proposal stage: per-level objectness and box
// delta prediction over a feature pyramid, decoded into per-image proposal
// lists under a configurable policy.
package rpn

import (
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/images"
)

// ProposalPolicy controls how raw proposal outputs become proposal boxes.
type ProposalPolicy struct {
	// PreNMSLimit caps the number of top-scoring candidates kept per image
	// before NMS. Zero means no cap.
	PreNMSLimit int
	// MaxProposals caps the proposals surviving NMS. Zero means no cap.
	MaxProposals int
	// NMSThreshold is the IoU above which a lower-scored candidate is
	// suppressed.
	NMSThreshold float32
	// MinScore drops candidates below this objectness probability.
	MinScore float32
}

// RawOutputs are the per-level head outputs before decoding: one objectness
// tensor (B, 1, H, W) and one delta tensor (B, 4, H, W) per pyramid level.
type RawOutputs struct {
	Scores []*tensor.Dense
	Deltas []*tensor.Dense
}

// Levels returns the number of pyramid levels in the outputs.
func (r RawOutputs) Levels() int { return len(r.Scores) }

// Head is the proposal head contract the detector orchestrates.
type Head interface {
	// Forward runs the head over a feature pyramid.
	Forward(features []*tensor.Dense) (RawOutputs, error)
	// Loss scores raw outputs against per-image ground-truth boxes.
	Loss(raw RawOutputs, gts [][]boxes.Box, metas []images.ImageMeta) (map[string]float32, error)
	// DecodeProposals turns raw outputs into per-image proposal lists under
	// the given policy. Output is aligned with metas.
	DecodeProposals(raw RawOutputs, metas []images.ImageMeta, policy ProposalPolicy) ([][]boxes.Box, error)
}
