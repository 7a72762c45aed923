package pipeline

import (
	"time"

	"github.com/cyclopcam/plateblur/pkg/perfstats"
	"github.com/cyclopcam/plateblur/pkg/progress"
)

// RunStats accumulates the results of a run.
// It is only mutated by the goroutine executing the run. Other goroutines
// see copies, via Run.Stats().
type RunStats struct {
	State             State         `json:"state"`
	Reason            string        `json:"reason,omitempty"`
	FramesProcessed   int64         `json:"framesProcessed"`
	DetectionsTotal   int64         `json:"detectionsTotal"`   // Every detection at or above the threshold, including empty regions
	DetectionsSkipped int64         `json:"detectionsSkipped"` // Detections that clamped to zero area, and were not drawn
	TotalFrames       int64         `json:"totalFrames"`       // As reported by the source. Zero when unknown.
	Truncated         bool          `json:"truncated"`         // Source stopped early because of a read failure
	Output            string        `json:"output,omitempty"`
	Elapsed           time.Duration `json:"elapsed"`
	EventsDropped     int64         `json:"eventsDropped"`

	DetectTime    perfstats.TimeAccumulator `json:"detectTime"`
	TransformTime perfstats.TimeAccumulator `json:"transformTime"`
	WriteTime     perfstats.TimeAccumulator `json:"writeTime"`
}

func (s *RunStats) completion(runID string) progress.Completion {
	return progress.Completion{
		RunID:             runID,
		State:             s.State.String(),
		Reason:            s.Reason,
		FramesProcessed:   s.FramesProcessed,
		DetectionsTotal:   s.DetectionsTotal,
		DetectionsSkipped: s.DetectionsSkipped,
		TotalFrames:       s.TotalFrames,
		Truncated:         s.Truncated,
		Output:            s.Output,
		Elapsed:           s.Elapsed,
	}
}
