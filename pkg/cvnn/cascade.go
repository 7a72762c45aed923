package cvnn

import (
	"fmt"
	"image"

	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/videoio"
	"gocv.io/x/gocv"
)

// CascadeDetector uses a Haar cascade, such as haarcascade_russian_plate_number.xml.
// Cascades produce no score, so every detection has a confidence of 1.
type CascadeDetector struct {
	classifier   gocv.CascadeClassifier
	config       nn.ModelConfig
	ScaleFactor  float64
	MinNeighbors int
	MinSize      image.Point
}

func NewCascadeDetector(xmlFile string) (*CascadeDetector, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(xmlFile) {
		classifier.Close()
		return nil, fmt.Errorf("Failed to load cascade %v", xmlFile)
	}
	return &CascadeDetector{
		classifier: classifier,
		config: nn.ModelConfig{
			Architecture: "haar",
			Classes:      []string{"license_plate"},
		},
		ScaleFactor:  1.1,
		MinNeighbors: 4,
	}, nil
}

func (d *CascadeDetector) Close() {
	d.classifier.Close()
}

func (d *CascadeDetector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *CascadeDetector) DetectObjects(img *image.RGBA, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	mat, err := videoio.RGBAToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	rects := d.classifier.DetectMultiScaleWithParams(gray, d.ScaleFactor, d.MinNeighbors, 0, d.MinSize, image.Point{})
	objects := make([]nn.ObjectDetection, 0, len(rects))
	for _, r := range rects {
		objects = append(objects, nn.ObjectDetection{
			Confidence: 1,
			Box:        nn.RectFromImageRect(r),
		})
	}
	return objects, nil
}
