// Package images - image batch assembly, per-image metadata and binary mask
// utilities for detection and instance segmentation.
package images

import "gorgonia.org/tensor"

// ImageMeta carries the per-image geometry the detector needs to move
// coordinates between the original image and the resized test resolution.
type ImageMeta struct {
	// OriHeight and OriWidth are the image dimensions before resizing.
	OriHeight int
	OriWidth  int
	// Height and Width are the dimensions after resizing (the resolution
	// the feature pyramid and all RoI pooling operate at).
	Height int
	Width  int
	// ScaleFactor is the resize ratio: resized = original * ScaleFactor.
	ScaleFactor float32
}

// Batch is an ordered set of images packed into a single NCHW tensor,
// plus the per-image metadata in the same order.
type Batch struct {
	Tensor *tensor.Dense
	Metas  []ImageMeta
}

// Size returns the number of images in the batch.
func (b Batch) Size() int { return len(b.Metas) }
