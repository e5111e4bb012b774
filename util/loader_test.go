package util

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFrame(t *testing.T, dir, name string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))))
}

func TestListFrameFiles(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "frame-10.png")
	writeFrame(t, dir, "frame-2.png")
	writeFrame(t, dir, "notes.txt")
	writeFrame(t, dir, "cover.png")

	frames, err := ListFrameFiles(dir)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	// Numeric order, not lexicographic.
	assert.Equal(t, 2, frames[0].Index)
	assert.Equal(t, 10, frames[1].Index)
}

func TestListFrameFilesMissingDir(t *testing.T) {
	_, err := ListFrameFiles(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestReadFrameImage(t *testing.T) {
	dir := t.TempDir()
	writeFrame(t, dir, "frame-1.png")

	img, err := ReadFrameImage(filepath.Join(dir, "frame-1.png"))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = ReadFrameImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}
