package nn

import (
	"bufio"
	"encoding/json"
	"image"
	"os"
	"strings"
)

// Package nn is a Neural Network interface layer
// To load a model, use the nnload package.

const DefaultProbabilityThreshold = 0.5
const DefaultNmsIouThreshold = 0.45

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
	Unclipped            bool    // If true, don't clip boxes to the image boundaries
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
		Unclipped:            false,
	}
}

// Return the threshold values, substituting defaults for zero values
func (p *DetectionParams) Thresholds() (prob, nms float32) {
	prob = p.ProbabilityThreshold
	nms = p.NmsIouThreshold
	if prob == 0 {
		prob = DefaultProbabilityThreshold
	}
	if nms == 0 {
		nms = DefaultNmsIouThreshold
	}
	return
}

// ModelSetup controls how nnload constructs a detector
type ModelSetup struct {
	Tiled    bool   // Wrap the model in a TiledDetector, for frames much larger than the model input
	Threads  int    // Number of tiles to run concurrently (only relevant when Tiled is true)
	CacheDir string // Where downloaded model files are stored
}

func NewModelSetup() *ModelSetup {
	return &ModelSetup{
		Threads: 1,
	}
}

// ObjectDetector is given an image, and returns zero or more detected objects
type ObjectDetector interface {
	// Close closes the detector (you MUST call this when finished, because some
	// backends own C++ objects underneath)
	Close()

	// DetectObjects returns a list of objects detected in the image.
	// Box coordinates are relative to img.Bounds().Min, so a sub-image
	// produces results in the coordinate space of that sub-image.
	// The image is not modified.
	// You can create a default DetectionParams with NewDetectionParams()
	DetectObjects(img *image.RGBA, params *DetectionParams) ([]ObjectDetection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["license_plate"]
}

// Return the name of the class, or "" if the class index is out of range
func (c *ModelConfig) ClassName(cls int) string {
	if cls < 0 || cls >= len(c.Classes) {
		return ""
	}
	return c.Classes[cls]
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
