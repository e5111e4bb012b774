package backbone

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/tensors"
)

var ortInitOnce sync.Once

// ONNXBackboneConfig describes an exported backbone network with one output
// per pyramid level.
type ONNXBackboneConfig struct {
	// ModelPath is the ONNX model file.
	ModelPath string
	// InputName is the model's image input, expected as (1, 3, Height, Width).
	InputName string
	// OutputNames name the pyramid level outputs, finest first.
	OutputNames []string
	// Width and Height fix the session's input resolution.
	Width  int
	Height int
	// FeatStrides are the image strides of the outputs, aligned with
	// OutputNames.
	FeatStrides []int
	// FeatChannels is the channel count of every output level.
	FeatChannels int
	// SharedLibPath overrides the platform-default onnxruntime library
	// location.
	SharedLibPath string
}

// ONNXBackbone runs an exported backbone through onnxruntime. Sessions are
// single-image: the input tensor is bound once at (1, 3, H, W) and reused
// across calls, so callers batch by looping.
type ONNXBackbone struct {
	cfg     ONNXBackboneConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// NewONNXBackbone initializes the onnxruntime environment (once per
// process) and builds a session with pre-bound input and output tensors.
// The caller must Destroy the backbone when done.
func NewONNXBackbone(cfg ONNXBackboneConfig) (*ONNXBackbone, error) {
	if len(cfg.OutputNames) == 0 || len(cfg.OutputNames) != len(cfg.FeatStrides) {
		return nil, errors.Errorf("onnx backbone: %d output names vs %d strides", len(cfg.OutputNames), len(cfg.FeatStrides))
	}
	if cfg.FeatChannels <= 0 || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, errors.Errorf("onnx backbone: invalid dimensions %dx%d, %d channels", cfg.Width, cfg.Height, cfg.FeatChannels)
	}

	libPath := cfg.SharedLibPath
	if libPath == "" {
		libPath = defaultSharedLibPath()
	}
	var initErr error
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, errors.Wrap(initErr, "onnx backbone: initializing environment")
	}

	inputShape := ort.NewShape(1, 3, int64(cfg.Height), int64(cfg.Width))
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "onnx backbone: creating input tensor")
	}

	outputs := make([]*ort.Tensor[float32], len(cfg.FeatStrides))
	for i, stride := range cfg.FeatStrides {
		fh := cfg.Height / stride
		fw := cfg.Width / stride
		shape := ort.NewShape(1, int64(cfg.FeatChannels), int64(fh), int64(fw))
		out, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			input.Destroy()
			for j := 0; j < i; j++ {
				outputs[j].Destroy()
			}
			return nil, errors.Wrapf(err, "onnx backbone: creating output tensor %d", i)
		}
		outputs[i] = out
	}

	outputTensors := make([]ort.ArbitraryTensor, len(outputs))
	for i, t := range outputs {
		outputTensors[i] = t
	}
	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		cfg.OutputNames,
		[]ort.ArbitraryTensor{input},
		outputTensors,
		nil,
	)
	if err != nil {
		input.Destroy()
		for _, t := range outputs {
			t.Destroy()
		}
		return nil, errors.Wrap(err, "onnx backbone: creating session")
	}

	return &ONNXBackbone{cfg: cfg, session: session, input: input, outputs: outputs}, nil
}

// Strides implements Backbone.
func (b *ONNXBackbone) Strides() []int { return b.cfg.FeatStrides }

// Channels implements Backbone.
func (b *ONNXBackbone) Channels() int { return b.cfg.FeatChannels }

// ExtractFeatures implements Backbone. Only single-image batches matching
// the session resolution are accepted.
func (b *ONNXBackbone) ExtractFeatures(batch images.Batch) ([]*tensor.Dense, error) {
	n, c, h, w, err := tensors.Shape4(batch.Tensor)
	if err != nil {
		return nil, errors.Wrap(err, "onnx backbone")
	}
	if n != 1 {
		return nil, errors.Errorf("onnx backbone: session is single-image, got batch of %d", n)
	}
	if c != 3 || h != b.cfg.Height || w != b.cfg.Width {
		return nil, errors.Errorf("onnx backbone: batch shape (%d,%d,%d) does not match session (3,%d,%d)", c, h, w, b.cfg.Height, b.cfg.Width)
	}

	copy(b.input.GetData(), tensors.Data(batch.Tensor))
	if err := b.session.Run(); err != nil {
		return nil, errors.Wrap(err, "onnx backbone: running session")
	}

	pyramid := make([]*tensor.Dense, len(b.outputs))
	for lvl, out := range b.outputs {
		stride := b.cfg.FeatStrides[lvl]
		fh := b.cfg.Height / stride
		fw := b.cfg.Width / stride
		level := tensors.New4(1, b.cfg.FeatChannels, fh, fw)
		copy(tensors.Data(level), out.GetData())
		pyramid[lvl] = level
	}
	return pyramid, nil
}

// Destroy releases the session and its bound tensors.
func (b *ONNXBackbone) Destroy() {
	b.session.Destroy()
	b.input.Destroy()
	for _, t := range b.outputs {
		t.Destroy()
	}
}

func defaultSharedLibPath() string {
	if runtime.GOOS == "darwin" {
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.dylib"
		}
		return "third_party/onnxruntime_amd64.dylib"
	}
	if runtime.GOOS == "windows" {
		return "third_party/onnxruntime.dll"
	}
	if runtime.GOARCH == "arm64" {
		return "third_party/onnxruntime_arm64.so"
	}
	return "third_party/onnxruntime.so"
}
