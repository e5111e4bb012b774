// Package util - filesystem helpers for feeding frame sequences to the
// detector.
package util

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Frame is one image file of a frame sequence.
type Frame struct {
	// Path is the path to the image file.
	Path string
	// Index is the frame number parsed from the file name.
	Index int
}

// ListFrameFiles scans a directory for frame images named like
// frame-<n>.jpg and returns them ordered by frame number. Files without a
// parseable frame number are skipped.
func ListFrameFiles(dir string) ([]Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing frames in %s", dir)
	}

	var frames []Frame
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
		default:
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ext)
		idx, err := strconv.Atoi(strings.TrimPrefix(stem, "frame-"))
		if err != nil {
			continue
		}
		frames = append(frames, Frame{
			Path:  filepath.Join(dir, entry.Name()),
			Index: idx,
		})
	}

	sort.Slice(frames, func(i, j int) bool {
		return frames[i].Index < frames[j].Index
	})
	return frames, nil
}

// ReadFrameImage decodes one frame file.
func ReadFrameImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return img, nil
}
