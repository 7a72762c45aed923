// Package frame defines the boundaries of the frame pipeline: where frames
// come from, and where they go.
package frame

import (
	"errors"
	"image"
)

// ErrEndOfStream is returned by Source.Next when a finite source has no more frames
var ErrEndOfStream = errors.New("End of stream")

// SourceInfo describes the frames produced by a Source
type SourceInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	FPS         float64 `json:"fps"`
	TotalFrames int64   `json:"totalFrames"` // Zero when unknown (live sources, or containers without a frame count)
	Live        bool    `json:"live"`        // True for cameras and network streams, which never reach ErrEndOfStream
}

// Return true if we know how many frames the source will produce
func (s SourceInfo) HasTotal() bool {
	return !s.Live && s.TotalFrames > 0
}

// Source produces frames in temporal order
type Source interface {
	Info() SourceInfo

	// Next returns the next frame, or ErrEndOfStream.
	// Every call returns a freshly allocated image, which the caller owns.
	Next() (*image.RGBA, error)

	Close() error
}

// Sink consumes processed frames, typically by encoding them into a file
type Sink interface {
	Write(img *image.RGBA) error

	// Close finalizes the output. An output is not guaranteed to be playable
	// until Close has returned without error.
	Close() error
}

// Display shows processed frames to a human, or to a headless observer
type Display interface {
	// Show renders the frame. 'status' is a short line of text, such as a running
	// detection count, which the display may overlay on its own copy of the frame.
	// Show must not modify img. Returns true if the viewer asked to stop.
	Show(img *image.RGBA, status string) (quit bool)

	Close() error
}
