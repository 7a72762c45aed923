// Package cvnn runs object detection models through OpenCV
package cvnn

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/videoio"
	"gocv.io/x/gocv"
)

// YOLODetector runs a YOLOv8 model that was exported to ONNX.
// The model output is expected to have the shape [1, 4+classes, N], where the
// first four rows are box center x, center y, width, height, in model input pixels.
type YOLODetector struct {
	net    gocv.Net
	config nn.ModelConfig
}

// Default config, when a model has no JSON file next to it
func DefaultPlateModelConfig() nn.ModelConfig {
	return nn.ModelConfig{
		Architecture: "yolov8",
		Width:        640,
		Height:       640,
		Classes:      []string{"license_plate"},
	}
}

// Load an ONNX model. If a file with the same name and a .json extension
// exists, it is read as the nn.ModelConfig.
func NewYOLODetector(onnxFile string) (*YOLODetector, error) {
	config := DefaultPlateModelConfig()
	configFile := strings.TrimSuffix(onnxFile, ".onnx") + ".json"
	if _, err := os.Stat(configFile); err == nil {
		c, err := nn.LoadModelConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("Failed to load model config %v: %w", configFile, err)
		}
		config = *c
	}

	net := gocv.ReadNetFromONNX(onnxFile)
	if net.Empty() {
		return nil, fmt.Errorf("Failed to load ONNX model %v", onnxFile)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &YOLODetector{
		net:    net,
		config: config,
	}, nil
}

func (d *YOLODetector) Close() {
	d.net.Close()
}

func (d *YOLODetector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *YOLODetector) DetectObjects(img *image.RGBA, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	probThreshold, nmsThreshold := params.Thresholds()
	bounds := img.Bounds()

	mat, err := videoio.RGBAToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// Stretch to the model size. The boxes are scaled back independently on each axis.
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.config.Width, d.config.Height), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("Unexpected YOLO output shape %v", dims)
	}
	nAttrib := dims[1]
	nBoxes := dims[2]
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, err
	}

	scaleX := float32(bounds.Dx()) / float32(d.config.Width)
	scaleY := float32(bounds.Dy()) / float32(d.config.Height)

	objects := []nn.ObjectDetection{}
	for i := 0; i < nBoxes; i++ {
		bestClass := 0
		bestScore := float32(0)
		for c := 4; c < nAttrib; c++ {
			score := data[c*nBoxes+i]
			if score > bestScore {
				bestScore = score
				bestClass = c - 4
			}
		}
		if bestScore < probThreshold {
			continue
		}
		cx := data[0*nBoxes+i] * scaleX
		cy := data[1*nBoxes+i] * scaleY
		w := data[2*nBoxes+i] * scaleX
		h := data[3*nBoxes+i] * scaleY
		box := nn.RectFromFloatCorners(cx-w/2, cy-h/2, cx+w/2, cy+h/2)
		if !params.Unclipped {
			box = nn.ClampToFrame(box, bounds.Dx(), bounds.Dy())
		}
		objects = append(objects, nn.ObjectDetection{
			Class:      bestClass,
			Confidence: math32.Min(bestScore, 1),
			Box:        box,
		})
	}

	return nn.SuppressOverlaps(objects, nmsThreshold), nil
}
