// Package overlay applies visual effects to detected regions of a frame
package overlay

import (
	"fmt"
	"image"
	"strings"

	"github.com/cyclopcam/plateblur/pkg/nn"
)

// Mode selects which effect is applied to every detection
type Mode string

const (
	ModeMark   Mode = "mark"   // Draw a box and a confidence label
	ModeRedact Mode = "redact" // Blur the region
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMark, "":
		return ModeMark, nil
	case ModeRedact, "blur":
		return ModeRedact, nil
	}
	return "", fmt.Errorf("Unknown mode '%v'. Valid modes are 'mark' and 'redact'", s)
}

// Transform mutates 'img' in place for one detection.
// 'region' must already be clamped to the image bounds. Empty regions are ignored.
// Frames are expected to have their origin at (0,0).
type Transform interface {
	Apply(img *image.RGBA, region nn.Rect, det nn.ObjectDetection)
}

// Create the transform for a mode, with default styling.
// 'tag' is the label text used by ModeMark.
func New(mode Mode, tag string) (Transform, error) {
	switch mode {
	case ModeMark:
		return NewMarker(tag), nil
	case ModeRedact:
		return NewRedactor(StreamBlur), nil
	}
	return nil, fmt.Errorf("Unknown mode '%v'", mode)
}
