package nn

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync/atomic"
)

var ErrDetectorClosed = errors.New("Detector is closed")

// FixedDetector returns the same set of detections for every image.
// It is useful for tests, and for exercising the rest of the pipeline without a model.
type FixedDetector struct {
	Objects []ObjectDetection
	config  ModelConfig
	calls   atomic.Int64
	closed  atomic.Bool
}

func NewFixedDetector(objects ...ObjectDetection) *FixedDetector {
	return &FixedDetector{
		Objects: objects,
		config: ModelConfig{
			Architecture: "fixed",
			Width:        1 << 16,
			Height:       1 << 16,
			Classes:      []string{"license_plate"},
		},
	}
}

// Parse a stub detector description of the form "x1,y1,x2,y2,confidence".
// Multiple boxes are separated by ';'.
func ParseFixedDetector(desc string) (*FixedDetector, error) {
	objects := []ObjectDetection{}
	for _, box := range strings.Split(desc, ";") {
		box = strings.TrimSpace(box)
		if box == "" {
			continue
		}
		parts := strings.Split(box, ",")
		if len(parts) != 5 {
			return nil, fmt.Errorf("Invalid stub box '%v'. Expected x1,y1,x2,y2,confidence", box)
		}
		v := [4]int{}
		for i := 0; i < 4; i++ {
			n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
			if err != nil {
				return nil, fmt.Errorf("Invalid stub box '%v': %w", box, err)
			}
			v[i] = n
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(parts[4]), 32)
		if err != nil {
			return nil, fmt.Errorf("Invalid stub box confidence '%v': %w", box, err)
		}
		// Don't normalize the corners. Malformed boxes are valid detector output.
		objects = append(objects, ObjectDetection{
			Confidence: float32(conf),
			Box:        Rect{X: v[0], Y: v[1], Width: v[2] - v[0], Height: v[3] - v[1]},
		})
	}
	return NewFixedDetector(objects...), nil
}

func (f *FixedDetector) Close() {
	f.closed.Store(true)
}

func (f *FixedDetector) Closed() bool {
	return f.closed.Load()
}

// Number of times DetectObjects has been called
func (f *FixedDetector) Calls() int64 {
	return f.calls.Load()
}

func (f *FixedDetector) Config() *ModelConfig {
	return &f.config
}

func (f *FixedDetector) DetectObjects(img *image.RGBA, params *DetectionParams) ([]ObjectDetection, error) {
	if f.closed.Load() {
		return nil, ErrDetectorClosed
	}
	f.calls.Add(1)
	out := make([]ObjectDetection, len(f.Objects))
	copy(out, f.Objects)
	return out, nil
}
