package pipeline

import (
	"fmt"

	"github.com/cyclopcam/plateblur/pkg/overlay"
)

const DefaultReportEveryNFrames = 30
const DefaultConfidenceThreshold = 0.5

// RunConfig is fixed for the duration of a run
type RunConfig struct {
	ConfidenceThreshold float32      `json:"confidence"` // Detections below this are ignored entirely
	Mode                overlay.Mode `json:"mode"`
	ShowLive            bool         `json:"showLive"`
	ReportEveryNFrames  int          `json:"reportEvery"` // Zero uses DefaultReportEveryNFrames
	Tag                 string       `json:"tag"`         // Label text for ModeMark. Empty uses overlay.DefaultTag
}

func NewRunConfig() RunConfig {
	return RunConfig{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		Mode:                overlay.ModeMark,
		ReportEveryNFrames:  DefaultReportEveryNFrames,
	}
}

// Return a copy of the config with defaults filled in, or an error if the config is invalid
func (c RunConfig) Normalized() (RunConfig, error) {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return c, fmt.Errorf("Confidence threshold %v is outside the range [0,1]", c.ConfidenceThreshold)
	}
	if c.ReportEveryNFrames < 0 {
		return c, fmt.Errorf("Invalid progress interval %v", c.ReportEveryNFrames)
	}
	if c.ReportEveryNFrames == 0 {
		c.ReportEveryNFrames = DefaultReportEveryNFrames
	}
	mode, err := overlay.ParseMode(string(c.Mode))
	if err != nil {
		return c, err
	}
	c.Mode = mode
	if c.Tag == "" {
		c.Tag = overlay.DefaultTag
	}
	return c, nil
}
