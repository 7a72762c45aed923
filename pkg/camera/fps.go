package camera

import (
	"math"
	"slices"
	"time"
)

// Used when a camera reports no frame rate, and we have nothing to measure
const DefaultFPS = 30

// Given a set of consecutive frame intervals, estimate the frame rate of a camera.
// Webcams often report zero for their FPS, so we measure it instead.
// The value is a float64 because cameras can be configured for less than 1 FPS.
// The median interval is used, so a single slow grab (eg auto exposure settling) doesn't skew the result.
func EstimateFPS(frameIntervals []time.Duration) float64 {
	if len(frameIntervals) == 0 {
		return DefaultFPS
	}
	sorted := make([]time.Duration, len(frameIntervals))
	copy(sorted, frameIntervals)
	slices.Sort(sorted)
	mid := sorted[len(sorted)/2]
	if mid == 0 {
		return DefaultFPS
	}
	fps := float64(time.Second) / float64(mid)
	if fps >= 0.9 {
		return math.Round(fps)
	}
	// Below 1 FPS, we round to the nearest 1/2/4/8/16
	// This is because cameras can be configured for less than 1 FPS
	secondsPerFrame := 1.0 / fps
	spfR := math.Round(secondsPerFrame)
	return 1 / spfR
}

// Intervals between consecutive timestamps
func Intervals(times []time.Time) []time.Duration {
	if len(times) < 2 {
		return nil
	}
	iv := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		iv = append(iv, times[i].Sub(times[i-1]))
	}
	return iv
}
