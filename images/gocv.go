package images

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// FromMats converts decoded OpenCV frames into a batch, resizing every
// frame to the target resolution. Empty mats are rejected.
func FromMats(mats []gocv.Mat, targetHeight, targetWidth int) (Batch, error) {
	imgs := make([]image.Image, len(mats))
	for i, m := range mats {
		if m.Empty() {
			return Batch{}, errors.Errorf("batch: mat %d is empty", i)
		}
		img, err := m.ToImage()
		if err != nil {
			return Batch{}, errors.Wrapf(err, "batch: converting mat %d", i)
		}
		imgs[i] = img
	}
	return FromImages(imgs, targetHeight, targetWidth)
}
