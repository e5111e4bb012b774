// Command maskhint runs the mask-hint detector over a directory of frame
// images and writes annotated copies next to the originals.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/vision-kit/maskhint/assign"
	"github.com/vision-kit/maskhint/backbone"
	"github.com/vision-kit/maskhint/boxes"
	"github.com/vision-kit/maskhint/detector"
	"github.com/vision-kit/maskhint/heads"
	"github.com/vision-kit/maskhint/images"
	"github.com/vision-kit/maskhint/roipool"
	"github.com/vision-kit/maskhint/rpn"
	"github.com/vision-kit/maskhint/util"
)

var (
	framesDir  = flag.String("frames", "frames", "directory of frame-<n>.jpg images")
	outDir     = flag.String("out", "", "directory for annotated frames (default: alongside input)")
	modelPath  = flag.String("model", "", "ONNX backbone model; empty uses the CPU pyramid backbone")
	numClasses = flag.Int("classes", 3, "number of classes including background")
	inputSize  = flag.Int("size", 320, "square input resolution")
	scoreThr   = flag.Float64("score", 0.3, "detection score threshold")
)

func main() {
	flag.Parse()

	frames, err := util.ListFrameFiles(*framesDir)
	if err != nil {
		log.Fatalf("listing frames: %v", err)
	}
	if len(frames) == 0 {
		log.Fatalf("no frames found in %s", *framesDir)
	}

	d, cleanup, err := buildDetector()
	if err != nil {
		log.Fatalf("building detector: %v", err)
	}
	defer cleanup()

	var total time.Duration
	for _, frame := range frames {
		mat := gocv.IMRead(frame.Path, gocv.IMReadColor)
		if mat.Empty() {
			log.Printf("skipping unreadable frame %s", frame.Path)
			continue
		}

		batch, err := images.FromMats([]gocv.Mat{mat}, *inputSize, *inputSize)
		if err != nil {
			mat.Close()
			log.Fatalf("frame %d: %v", frame.Index, err)
		}

		start := time.Now()
		res, err := d.SimpleTest(batch, nil, true, d.WithMask())
		elapsed := time.Since(start)
		if err != nil {
			mat.Close()
			log.Fatalf("frame %d: %v", frame.Index, err)
		}
		total += elapsed

		fmt.Printf("frame %d: %d detections in %s\n", frame.Index, len(res.Detections), elapsed)
		for _, det := range res.Detections {
			fmt.Printf("  class %d score %.3f box %s\n", det.Label, det.Score, det.Box)
		}

		drawDetections(&mat, res.Detections)
		outPath := annotatedPath(frame.Path)
		if *outDir != "" {
			outPath = filepath.Join(*outDir, filepath.Base(outPath))
		}
		if ok := gocv.IMWrite(outPath, mat); !ok {
			log.Printf("writing %s failed", outPath)
		}
		mat.Close()
	}

	fmt.Printf("processed %d frames, avg %s/frame\n", len(frames), total/time.Duration(len(frames)))
}

func buildDetector() (*detector.Detector, func(), error) {
	const channels = 64
	strides := []int{4, 8, 16, 32}

	var bb backbone.Backbone
	cleanup := func() {}
	if *modelPath != "" {
		onnx, err := backbone.NewONNXBackbone(backbone.ONNXBackboneConfig{
			ModelPath:    *modelPath,
			InputName:    "images",
			OutputNames:  []string{"feat0", "feat1", "feat2", "feat3"},
			Width:        *inputSize,
			Height:       *inputSize,
			FeatStrides:  strides,
			FeatChannels: channels,
		})
		if err != nil {
			return nil, nil, err
		}
		bb = onnx
		cleanup = onnx.Destroy
	} else {
		pyr, err := backbone.NewImagePyramidBackbone(backbone.ImagePyramidBackboneConfig{
			FeatStrides: strides,
			OutChannels: channels,
			Seed:        1,
		})
		if err != nil {
			return nil, nil, err
		}
		bb = pyr
	}

	proposalHead, err := rpn.NewAnchorHead(rpn.AnchorHeadConfig{
		InChannels: channels,
		Strides:    strides,
		Assigner: assign.Config{
			PosIoUThreshold: 0.7,
			NegIoUThreshold: 0.3,
			MinPosIoU:       0.3,
		},
		Seed: 2,
	})
	if err != nil {
		return nil, nil, err
	}

	boxRoI, err := roipool.NewSingleLevelExtractor(roipool.SingleLevelConfig{Size: 7, FeatStrides: strides})
	if err != nil {
		return nil, nil, err
	}
	maskRoI, err := roipool.NewSingleLevelExtractor(roipool.SingleLevelConfig{Size: 14, FeatStrides: strides})
	if err != nil {
		return nil, nil, err
	}

	boxHead, err := heads.NewLinearBoxHead(heads.LinearBoxHeadConfig{NumClasses: *numClasses, InChannels: channels, Seed: 3})
	if err != nil {
		return nil, nil, err
	}
	maskHead, err := heads.NewLinearMaskHead(heads.LinearMaskHeadConfig{NumClasses: *numClasses, InChannels: channels, MaskSize: 14, Seed: 4})
	if err != nil {
		return nil, nil, err
	}
	refineHead, err := heads.NewLinearRefineHead(heads.LinearRefineHeadConfig{NumClasses: *numClasses, InChannels: channels, Seed: 5})
	if err != nil {
		return nil, nil, err
	}

	rcnn := detector.RCNNConfig{
		Assigner:      assign.Config{PosIoUThreshold: 0.5, NegIoUThreshold: 0.5, MinPosIoU: 0.3},
		Sampler:       assign.SamplerConfig{Num: 256, PosFraction: 0.25, AddGTAsProposals: true, Seed: 6},
		RefineSample:  detector.RefineSampleResample,
		MaskThrBinary: 0.5,
		Decode: heads.DecodeConfig{
			ScoreThreshold: float32(*scoreThr),
			NMS:            boxes.NMSConfig{IoUThreshold: 0.5, ClassAware: true},
			MaxPerImage:    100,
		},
	}

	d, err := detector.New(detector.Config{
		Train: detector.TrainConfig{RCNN: rcnn},
		Test: detector.TestConfig{
			RPN: rpn.ProposalPolicy{
				PreNMSLimit:  1000,
				MaxProposals: 300,
				NMSThreshold: 0.7,
				MinScore:     0.1,
			},
			RCNN: rcnn,
		},
	}, detector.Components{
		Backbone: bb,
		RPN:      proposalHead,
		BoxRoI:   boxRoI,
		MaskRoI:  maskRoI,
		Box:      boxHead,
		Mask:     maskHead,
		Refine:   refineHead,
	})
	if err != nil {
		return nil, nil, err
	}
	return d, cleanup, nil
}

func drawDetections(mat *gocv.Mat, dets []boxes.Detection) {
	green := color.RGBA{G: 255}
	for _, det := range dets {
		rect := image.Rect(int(det.Box.X1), int(det.Box.Y1), int(det.Box.X2), int(det.Box.Y2))
		gocv.Rectangle(mat, rect, green, 2)
		label := fmt.Sprintf("%d %.2f", det.Label, det.Score)
		gocv.PutText(mat, label, image.Pt(int(det.Box.X1), int(det.Box.Y1)-4),
			gocv.FontHersheyPlain, 1.0, green, 1)
	}
}

func annotatedPath(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + "-det" + ext
}
