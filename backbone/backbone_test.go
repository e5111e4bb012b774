package backbone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

func TestImagePyramidBackboneShapes(t *testing.T) {
	b, err := NewImagePyramidBackbone(ImagePyramidBackboneConfig{
		FeatStrides: []int{4, 8, 16},
		OutChannels: 8,
		Seed:        1,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 8, 16}, b.Strides())
	assert.Equal(t, 8, b.Channels())

	batch := images.Batch{
		Tensor: tensors.New4(2, 3, 64, 48),
		Metas: []images.ImageMeta{
			{Height: 64, Width: 48},
			{Height: 64, Width: 48},
		},
	}
	pyramid, err := b.ExtractFeatures(batch)
	require.NoError(t, err)
	require.Len(t, pyramid, 3)
	assert.Equal(t, []int{2, 8, 16, 12}, []int(pyramid[0].Shape()))
	assert.Equal(t, []int{2, 8, 8, 6}, []int(pyramid[1].Shape()))
	assert.Equal(t, []int{2, 8, 4, 3}, []int(pyramid[2].Shape()))
}

func TestImagePyramidBackboneDeterministic(t *testing.T) {
	cfg := ImagePyramidBackboneConfig{FeatStrides: []int{4}, OutChannels: 4, Seed: 9}
	b1, err := NewImagePyramidBackbone(cfg)
	require.NoError(t, err)
	b2, err := NewImagePyramidBackbone(cfg)
	require.NoError(t, err)

	batch := images.Batch{
		Tensor: tensors.New4(1, 3, 16, 16),
		Metas:  []images.ImageMeta{{Height: 16, Width: 16}},
	}
	data := tensors.Data(batch.Tensor)
	for i := range data {
		data[i] = float32(i%7) * 0.1
	}

	p1, err := b1.ExtractFeatures(batch)
	require.NoError(t, err)
	p2, err := b2.ExtractFeatures(batch)
	require.NoError(t, err)
	assert.Equal(t, tensors.Data(p1[0]), tensors.Data(p2[0]))
}

func TestImagePyramidBackboneValidation(t *testing.T) {
	_, err := NewImagePyramidBackbone(ImagePyramidBackboneConfig{OutChannels: 4})
	assert.Error(t, err)

	_, err = NewImagePyramidBackbone(ImagePyramidBackboneConfig{FeatStrides: []int{0}, OutChannels: 4})
	assert.Error(t, err)

	b, err := NewImagePyramidBackbone(ImagePyramidBackboneConfig{FeatStrides: []int{64}, OutChannels: 4})
	require.NoError(t, err)
	batch := images.Batch{
		Tensor: tensors.New4(1, 3, 16, 16),
		Metas:  []images.ImageMeta{{Height: 16, Width: 16}},
	}
	_, err = b.ExtractFeatures(batch)
	assert.Error(t, err)
}

func TestONNXBackboneConfigValidation(t *testing.T) {
	_, err := NewONNXBackbone(ONNXBackboneConfig{
		OutputNames: []string{"feat0"},
		FeatStrides: []int{8, 16},
	})
	assert.Error(t, err)

	_, err = NewONNXBackbone(ONNXBackboneConfig{
		OutputNames:  []string{"feat0"},
		FeatStrides:  []int{8},
		FeatChannels: 0,
		Width:        64,
		Height:       64,
	})
	assert.Error(t, err)
}
