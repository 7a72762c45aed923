// Package perfstats measures how long the stages of frame processing take
package perfstats

import (
	"encoding/json"
	"fmt"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

// Add the time elapsed since start
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func (a TimeAccumulator) String() string {
	if a.Samples == 0 {
		return "no samples"
	}
	return fmt.Sprintf("%.1f ms avg, %.1f ms max", milliseconds(a.Average()), milliseconds(a.Max))
}

// SYNC-TIME-ACCUMULATOR
type timeAccumulatorJSON struct {
	Samples int64   `json:"samples"`
	AvgMS   float64 `json:"avgMs"`
	MaxMS   float64 `json:"maxMs"`
}

func (a TimeAccumulator) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeAccumulatorJSON{
		Samples: a.Samples,
		AvgMS:   milliseconds(a.Average()),
		MaxMS:   milliseconds(a.Max),
	})
}

// Restores the sample count, average and maximum. Sub-microsecond precision is lost.
func (a *TimeAccumulator) UnmarshalJSON(b []byte) error {
	j := timeAccumulatorJSON{}
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	a.Samples = j.Samples
	a.Total = time.Duration(j.AvgMS*float64(j.Samples)*1000) * time.Microsecond
	a.Max = time.Duration(j.MaxMS*1000) * time.Microsecond
	return nil
}
