package images

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// FromImages resizes a set of images to a common (targetHeight, targetWidth)
// resolution and packs them into a normalized NCHW float32 batch tensor.
//
// Pixel values are scaled to [0, 1]. The recorded ScaleFactor is the width
// ratio; callers should pick targets that preserve aspect ratio if they need
// a single uniform scale for coordinate mapping.
func FromImages(imgs []image.Image, targetHeight, targetWidth int) (Batch, error) {
	if len(imgs) == 0 {
		return Batch{}, errors.New("batch: no images given")
	}
	if targetHeight <= 0 || targetWidth <= 0 {
		return Batch{}, errors.Errorf("batch: invalid target size %dx%d", targetHeight, targetWidth)
	}

	backing := make([]float32, len(imgs)*3*targetHeight*targetWidth)
	metas := make([]ImageMeta, len(imgs))

	for n, img := range imgs {
		bounds := img.Bounds().Canon()
		oriW := bounds.Dx()
		oriH := bounds.Dy()

		resized := resize.Resize(uint(targetWidth), uint(targetHeight), img, resize.Bilinear)

		base := n * 3 * targetHeight * targetWidth
		plane := targetHeight * targetWidth
		for y := 0; y < targetHeight; y++ {
			for x := 0; x < targetWidth; x++ {
				r, g, b, _ := resized.At(x, y).RGBA()
				idx := y*targetWidth + x
				backing[base+idx] = float32(r>>8) / 255.0
				backing[base+plane+idx] = float32(g>>8) / 255.0
				backing[base+2*plane+idx] = float32(b>>8) / 255.0
			}
		}

		metas[n] = ImageMeta{
			OriHeight:   oriH,
			OriWidth:    oriW,
			Height:      targetHeight,
			Width:       targetWidth,
			ScaleFactor: float32(targetWidth) / float32(oriW),
		}
	}

	return Batch{
		Tensor: tensor.New(
			tensor.Of(tensor.Float32),
			tensor.WithShape(len(imgs), 3, targetHeight, targetWidth),
			tensor.WithBacking(backing),
		),
		Metas: metas,
	}, nil
}
