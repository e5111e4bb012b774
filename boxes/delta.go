package boxes

import "github.com/chewxy/math32"

// DeltaCoder encodes boxes as regression targets relative to a proposal and
// decodes predicted deltas back into boxes. The parameterization is the
// standard (dx, dy, dw, dh) form: center offsets normalized by the proposal
// size and log size ratios, optionally mean/std normalized.
//
// Encode and Decode are exact inverses for any proposal with positive width
// and height, as long as the decoded size ratio stays under WHRatioClip.
type DeltaCoder struct {
	Means [4]float32
	Stds  [4]float32
	// WHRatioClip bounds the decoded width/height ratio, keeping exp() from
	// blowing up on early, badly scaled predictions.
	WHRatioClip float32
}

// Delta is one encoded regression target.
type Delta [4]float32

// DefaultDeltaCoder returns the coder with zero means, unit stds and the
// conventional 16/1000 ratio clip.
func DefaultDeltaCoder() DeltaCoder {
	return DeltaCoder{
		Means:       [4]float32{0, 0, 0, 0},
		Stds:        [4]float32{1, 1, 1, 1},
		WHRatioClip: 16.0 / 1000.0,
	}
}

// Encode produces the delta that maps proposal onto target.
func (c DeltaCoder) Encode(proposal, target Box) Delta {
	pw := math32.Max(proposal.Width(), 1)
	ph := math32.Max(proposal.Height(), 1)

	dx := (target.CenterX() - proposal.CenterX()) / pw
	dy := (target.CenterY() - proposal.CenterY()) / ph
	dw := math32.Log(math32.Max(target.Width(), 1) / pw)
	dh := math32.Log(math32.Max(target.Height(), 1) / ph)

	return Delta{
		(dx - c.Means[0]) / c.Stds[0],
		(dy - c.Means[1]) / c.Stds[1],
		(dw - c.Means[2]) / c.Stds[2],
		(dh - c.Means[3]) / c.Stds[3],
	}
}

// Decode applies a predicted delta to a proposal and clips the result to
// the image bounds.
func (c DeltaCoder) Decode(proposal Box, delta Delta, imgHeight, imgWidth float32) Box {
	dx := delta[0]*c.Stds[0] + c.Means[0]
	dy := delta[1]*c.Stds[1] + c.Means[1]
	dw := delta[2]*c.Stds[2] + c.Means[2]
	dh := delta[3]*c.Stds[3] + c.Means[3]

	maxRatio := math32.Abs(math32.Log(c.WHRatioClip))
	dw = math32.Min(math32.Max(dw, -maxRatio), maxRatio)
	dh = math32.Min(math32.Max(dh, -maxRatio), maxRatio)

	pw := math32.Max(proposal.Width(), 1)
	ph := math32.Max(proposal.Height(), 1)

	cx := proposal.CenterX() + dx*pw
	cy := proposal.CenterY() + dy*ph
	w := pw * math32.Exp(dw)
	h := ph * math32.Exp(dh)

	out := Box{
		X1: cx - w*0.5,
		Y1: cy - h*0.5,
		X2: cx + w*0.5,
		Y2: cy + h*0.5,
	}
	return out.Clip(imgHeight, imgWidth)
}
