// Package tensors - helpers for dense NCHW float32 tensors.
//
// Every operation in this package allocates a fresh tensor; inputs are never
// mutated in place. The feature pyramid and pooled RoI tensors are shared
// read-only across heads, so in-place edits would corrupt sibling consumers.
package tensors

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// New4 creates a zero-filled rank-4 float32 tensor with shape (n, c, h, w).
//
// A zero leading dimension is valid and represents an empty region set: the
// backing slice is empty and the tensor still carries channel and spatial
// sizes so downstream shape checks keep working.
func New4(n, c, h, w int) *tensor.Dense {
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(n, c, h, w),
		tensor.WithBacking(make([]float32, n*c*h*w)),
	)
}

// New2 creates a zero-filled rank-2 float32 tensor with shape (n, c).
func New2(n, c int) *tensor.Dense {
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(n, c),
		tensor.WithBacking(make([]float32, n*c)),
	)
}

// Shape2 returns the (n, c) dimensions of a rank-2 tensor.
func Shape2(t *tensor.Dense) (n, c int, err error) {
	s := t.Shape()
	if len(s) != 2 {
		return 0, 0, errors.Errorf("expected rank-2 tensor, got shape %v", s)
	}
	return s[0], s[1], nil
}

// Shape4 returns the (n, c, h, w) dimensions of a rank-4 tensor.
func Shape4(t *tensor.Dense) (n, c, h, w int, err error) {
	s := t.Shape()
	if len(s) != 4 {
		return 0, 0, 0, 0, errors.Errorf("expected rank-4 tensor, got shape %v", s)
	}
	return s[0], s[1], s[2], s[3], nil
}

// Rows returns the leading (region count) dimension of a tensor.
func Rows(t *tensor.Dense) int {
	s := t.Shape()
	if len(s) == 0 {
		return 0
	}
	return s[0]
}

// Data returns the raw float32 backing slice of a dense tensor.
func Data(t *tensor.Dense) []float32 {
	return t.Data().([]float32)
}

// ConcatRows concatenates rank-4 tensors along the leading dimension.
//
// All inputs must agree on channel and spatial sizes. An empty input list is
// rejected; inputs with zero rows contribute nothing but still participate
// in the shape agreement check.
func ConcatRows(ts ...*tensor.Dense) (*tensor.Dense, error) {
	if len(ts) == 0 {
		return nil, errors.New("concat: no tensors given")
	}
	_, c, h, w, err := Shape4(ts[0])
	if err != nil {
		return nil, err
	}
	total := 0
	for _, t := range ts {
		n, tc, th, tw, err := Shape4(t)
		if err != nil {
			return nil, err
		}
		if tc != c || th != h || tw != w {
			return nil, errors.Errorf("concat: shape mismatch (%d,%d,%d) vs (%d,%d,%d)", tc, th, tw, c, h, w)
		}
		total += n
	}
	out := New4(total, c, h, w)
	dst := Data(out)
	offset := 0
	for _, t := range ts {
		src := Data(t)
		copy(dst[offset:], src)
		offset += len(src)
	}
	return out, nil
}

// SelectRows copies the given rows of a rank-4 tensor, in index order, into
// a new tensor. Indices must be in range; an empty index list yields an
// empty tensor with the same trailing shape.
func SelectRows(t *tensor.Dense, indices []int) (*tensor.Dense, error) {
	n, c, h, w, err := Shape4(t)
	if err != nil {
		return nil, err
	}
	out := New4(len(indices), c, h, w)
	src := Data(t)
	dst := Data(out)
	rowSize := c * h * w
	for i, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, errors.Errorf("select: row %d out of range [0,%d)", idx, n)
		}
		copy(dst[i*rowSize:(i+1)*rowSize], src[idx*rowSize:(idx+1)*rowSize])
	}
	return out, nil
}

// ConcatChannels concatenates two rank-4 tensors along the channel
// dimension. Row counts and spatial sizes must match.
func ConcatChannels(a, b *tensor.Dense) (*tensor.Dense, error) {
	an, ac, ah, aw, err := Shape4(a)
	if err != nil {
		return nil, err
	}
	bn, bc, bh, bw, err := Shape4(b)
	if err != nil {
		return nil, err
	}
	if an != bn || ah != bh || aw != bw {
		return nil, errors.Errorf("concat channels: (%d,_,%d,%d) vs (%d,_,%d,%d)", an, ah, aw, bn, bh, bw)
	}
	out := New4(an, ac+bc, ah, aw)
	srcA, srcB, dst := Data(a), Data(b), Data(out)
	plane := ah * aw
	for n := 0; n < an; n++ {
		copy(dst[n*(ac+bc)*plane:], srcA[n*ac*plane:(n+1)*ac*plane])
		copy(dst[n*(ac+bc)*plane+ac*plane:], srcB[n*bc*plane:(n+1)*bc*plane])
	}
	return out, nil
}

// DropLeadingChannel removes channel 0 from an NCHW tensor. This is how a
// class-wise mask prediction sheds its background channel before it is fed
// to the refinement head.
func DropLeadingChannel(t *tensor.Dense) (*tensor.Dense, error) {
	n, c, h, w, err := Shape4(t)
	if err != nil {
		return nil, err
	}
	if c < 1 {
		return nil, errors.Errorf("drop channel: tensor has %d channels", c)
	}
	out := New4(n, c-1, h, w)
	src, dst := Data(t), Data(out)
	plane := h * w
	for i := 0; i < n; i++ {
		copy(dst[i*(c-1)*plane:], src[i*c*plane+plane:(i+1)*c*plane])
	}
	return out, nil
}

// Binarize thresholds every element against thr, producing a hard {0, 1}
// indicator tensor. Binarizing an already-binary tensor at the same
// threshold (for thr in (0, 1]) returns an identical tensor.
func Binarize(t *tensor.Dense, thr float32) *tensor.Dense {
	src := Data(t)
	backing := make([]float32, len(src))
	for i, v := range src {
		if v >= thr {
			backing[i] = 1
		}
	}
	shape := t.Shape().Clone()
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(shape...),
		tensor.WithBacking(backing),
	)
}
