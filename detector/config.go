package detector

import (
	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/heads"
	"github.com/vision-kit/maskhint/rpn"
)

// Refinement feature sampling policies. Any other non-empty value falls
// back to a 2x2 max-pool reduction of the mask features; this fallback is
// documented behavior, not an error.
const (
	RefineSampleResample    = "resample"
	RefineSampleInterpolate = "interpolate"
)

// RCNNConfig is the second-stage policy bundle shared by training and
// testing, each with its own instance.
type RCNNConfig struct {
	// Assigner matches proposals to ground truth (training only).
	Assigner assign.Config
	// Sampler subsamples the assignment (training only).
	Sampler assign.SamplerConfig
	// RefineSample selects how refinement-input features are derived:
	// RefineSampleResample re-pools box-style features from the candidate
	// boxes, RefineSampleInterpolate resizes the mask features to the box
	// resolution, anything else reduces the mask features by max-pooling.
	// Required whenever a mask head is configured.
	RefineSample string
	// MaskThrBinary is the probability threshold that turns the mask
	// prediction into the hard foreground indicator fed to the refinement
	// head.
	MaskThrBinary float32
	// Decode controls detection decoding (testing only).
	Decode heads.DecodeConfig
}

// TrainConfig is the training-time policy set.
type TrainConfig struct {
	// RPNProposal overrides the proposal policy during training. Nil means
	// the test policy applies.
	RPNProposal *rpn.ProposalPolicy
	RCNN        RCNNConfig
}

// TestConfig is the inference-time policy set.
type TestConfig struct {
	RPN  rpn.ProposalPolicy
	RCNN RCNNConfig
}

// Config wires the orchestrator's policies together.
type Config struct {
	// Coder is the box delta parameterization shared by target assembly and
	// decoding. Zero value means the default coder.
	Coder boxes.DeltaCoder
	// SharedRoIExtractor reuses pooled box features for the mask path via a
	// positive-row selection instead of re-pooling with the mask extractor.
	SharedRoIExtractor bool
	Train              TrainConfig
	Test               TestConfig
}
