// Package pipeline runs frames from a source through a detector and an overlay,
// and into a sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/frame"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/overlay"
	"github.com/cyclopcam/plateblur/pkg/progress"
)

type SourceOpener func(input string) (frame.Source, error)
type SinkOpener func(output string, info frame.SourceInfo) (frame.Sink, error)
type DisplayOpener func(title string) (frame.Display, error)

// Publisher moves a finished output file to its final location.
// It returns the location that is reported to the observer.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

const DefaultMaxReadFailures = 5

// How long a run waits for its listener to consume the completion event
const DefaultListenerTimeout = 5 * time.Second

// Number of recent frames used to compute throughput
const throughputWindow = 30

// Runner holds everything that is shared between runs.
// A single Runner can execute many concurrent runs, provided that Detector is
// safe for concurrent use (see nn.SharedDetector).
type Runner struct {
	Log         logs.Log
	Detector    nn.ObjectDetector
	OpenSource  SourceOpener
	OpenSink    SinkOpener
	OpenDisplay DisplayOpener // Only used when RunConfig.ShowLive is true, and Job.Display is nil
	Publisher   Publisher     // Optional

	// Number of consecutive read failures tolerated from a live source
	MaxReadFailures int

	// A listener that is still busy after this long is abandoned, and the run finishes without it
	ListenerTimeout time.Duration
}

// Job is a single request to process a video
type Job struct {
	ID       string
	Input    string // File path, device number, or stream URL
	Output   string // Empty if no output file must be produced
	Config   RunConfig
	Listener progress.Listener // Optional

	// Optional live display owned by the caller. The runner will not close it.
	Display frame.Display
}

// Run a job to completion on the calling goroutine.
// The error is nil only if the run reached StateCompleted.
// A cancelled run returns its partial statistics, along with an error that matches ErrCancelled.
func (r *Runner) Run(ctx context.Context, job Job) (*RunStats, error) {
	return r.Start(ctx, job).Wait()
}

// Start a job on a new goroutine
func (r *Runner) Start(ctx context.Context, job Job) *Run {
	run := newRun(ctx, job)
	go r.execute(run)
	return run
}

func (r *Runner) execute(run *Run) {
	defer close(run.done)
	defer run.cancel()

	job := run.Job
	log := r.Log
	if job.ID != "" {
		log = newRunLogger(r.Log, job.ID)
	}
	start := time.Now()
	reporter := progress.NewReporter(job.Listener, 0)
	stats := &RunStats{State: StateIdle}

	cfg, err := job.Config.Normalized()
	if err == nil {
		err = r.process(run, log, cfg, stats, reporter)
	} else {
		err = failed(ErrInvalidConfig, err)
	}

	// Resources are released by now, so the output file is complete
	if stats.Output != "" && r.Publisher != nil && !errors.Is(err, ErrSinkUnavailable) {
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		location, perr := r.Publisher.Publish(pubCtx, stats.Output)
		cancel()
		if perr != nil {
			log.Errorf("Failed to publish output %v: %v", stats.Output, perr)
			if err == nil {
				err = failed(ErrSinkUnavailable, perr)
			}
		} else {
			stats.Output = location
		}
	}

	var runErr *RunError
	switch {
	case err == nil:
		stats.State = StateCompleted
	case errors.As(err, &runErr):
		stats.State = runErr.State
		if runErr.State == StateFailed {
			stats.Reason = runErr.Error()
		}
	default:
		stats.State = StateFailed
		stats.Reason = err.Error()
	}
	stats.Elapsed = time.Since(start)
	stats.EventsDropped = reporter.Dropped()
	run.finish(stats, err)

	if stats.State == StateFailed {
		log.Errorf("Failed after %v frames: %v", stats.FramesProcessed, stats.Reason)
	} else {
		log.Infof("%v after %v frames, %v detections", stats.State, stats.FramesProcessed, stats.DetectionsTotal)
		log.Debugf("Detect: %v. Transform: %v. Write: %v", stats.DetectTime, stats.TransformTime, stats.WriteTime)
	}

	reporter.Complete(stats.completion(job.ID))
	timeout := r.ListenerTimeout
	if timeout <= 0 {
		timeout = DefaultListenerTimeout
	}
	if !reporter.WaitTimeout(timeout) {
		log.Warnf("Listener did not consume the completion event within %v", timeout)
	}
}

// Open the source, sink, and display, and run the frame loop.
// All exit paths (including panics) close whatever was opened.
func (r *Runner) process(run *Run, log logs.Log, cfg RunConfig, stats *RunStats, reporter *progress.Reporter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = failed(ErrFrameFailed, fmt.Errorf("panic: %v", p))
		}
	}()

	ctx := run.ctx
	job := run.Job

	if r.Detector == nil {
		return failed(ErrDetectorFailed, errors.New("No detector"))
	}
	transform, err := overlay.New(cfg.Mode, cfg.Tag)
	if err != nil {
		return failed(ErrInvalidConfig, err)
	}

	run.setState(StateOpening)
	if ctx.Err() != nil {
		return &RunError{State: StateCancelled, Kind: ErrCancelled}
	}
	src, err := r.OpenSource(job.Input)
	if err != nil {
		return failed(ErrSourceUnavailable, err)
	}
	defer closeAndLog(log, "source", src)

	info := src.Info()
	if info.HasTotal() {
		stats.TotalFrames = info.TotalFrames
	}
	log.Infof("Opened %v: %vx%v, %.1f fps, %v frames", job.Input, info.Width, info.Height, info.FPS, describeTotal(info))

	var sink frame.Sink
	if job.Output != "" {
		sink, err = r.OpenSink(job.Output, info)
		if err != nil {
			return failed(ErrSinkUnavailable, err)
		}
		stats.Output = job.Output
		defer func() {
			if cerr := sink.Close(); cerr != nil {
				log.Errorf("Failed to finalize %v: %v", job.Output, cerr)
				if err == nil {
					err = failed(ErrSinkUnavailable, cerr)
				}
			}
		}()
	}

	var display frame.Display
	if cfg.ShowLive {
		display = job.Display
		if display == nil && r.OpenDisplay != nil {
			display, err = r.OpenDisplay(job.Input)
			if err != nil {
				return failed(ErrSinkUnavailable, err)
			}
			defer closeAndLog(log, "display", display)
		}
	}

	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = max(cfg.ConfidenceThreshold, math.SmallestNonzeroFloat32)

	loop := frameLoop{
		runner:     r,
		log:        log,
		cfg:        cfg,
		params:     params,
		transform:  transform,
		sink:       sink,
		display:    display,
		stats:      stats,
		throughput: ringbuffer.NewRingP[time.Duration](throughputWindow),
	}

	run.setState(StateRunning)
	run.publishStats(stats)

	maxFailures := r.MaxReadFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxReadFailures
	}
	readFailures := 0

	for {
		// Cancellation is only observed here, between frames
		if ctx.Err() != nil {
			return &RunError{State: StateCancelled, Kind: ErrCancelled}
		}

		frameStart := time.Now()
		img, err := src.Next()
		if errors.Is(err, frame.ErrEndOfStream) || errors.Is(err, io.EOF) {
			if info.Live {
				return failed(ErrSourceUnavailable, errors.New("Live source stopped producing frames"))
			}
			return nil
		} else if err != nil {
			if !info.Live {
				// A corrupt frame near the end of a file is common. We stop here, and
				// make sure that the summary shows fewer frames than the container claims.
				log.Warnf("Failed to read frame %v. Treating it as the end of the stream: %v", stats.FramesProcessed+1, err)
				stats.Truncated = true
				return nil
			}
			readFailures++
			if readFailures >= maxFailures {
				return failed(ErrSourceUnavailable, err)
			}
			log.Warnf("Failed to read frame (%v/%v): %v", readFailures, maxFailures, err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(readFailures) * 100 * time.Millisecond):
			}
			continue
		}
		readFailures = 0

		quit, err := loop.processFrame(img)
		if err != nil {
			return err
		}
		stats.FramesProcessed++
		loop.throughput.Add(time.Since(frameStart))
		run.publishStats(stats)

		if stats.FramesProcessed%int64(cfg.ReportEveryNFrames) == 0 {
			ev := progress.MakeEvent(stats.FramesProcessed, stats.TotalFrames)
			ev.RunID = job.ID
			ev.FPS = loop.fps()
			ev.Detections = stats.DetectionsTotal
			reporter.Emit(ev)
		}

		if quit {
			log.Infof("Stopped by viewer")
			run.Stop()
		}
	}
}

// Per-run state of the frame loop
type frameLoop struct {
	runner     *Runner
	log        logs.Log
	cfg        RunConfig
	params     *nn.DetectionParams
	transform  overlay.Transform
	sink       frame.Sink
	display    frame.Display
	stats      *RunStats
	throughput ringbuffer.RingP[time.Duration]

	lastMalformedLog time.Time
}

// Detect, transform, write, and show a single frame.
// A panic in any of those steps is returned as an error, so that the caller
// can shut down cleanly.
func (l *frameLoop) processFrame(img *image.RGBA) (quit bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = failed(ErrFrameFailed, fmt.Errorf("panic: %v", p))
		}
	}()

	stats := l.stats

	start := time.Now()
	objects, err := l.runner.Detector.DetectObjects(img, l.params)
	stats.DetectTime.Since(start)
	if err != nil {
		return false, failed(ErrDetectorFailed, err)
	}

	// Backends are free to ignore the threshold we gave them
	objects = nn.FilterByConfidence(objects, l.cfg.ConfidenceThreshold)
	stats.DetectionsTotal += int64(len(objects))

	start = time.Now()
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	for _, obj := range objects {
		region := nn.ClampToFrame(obj.Box, width, height)
		if region != obj.Box {
			l.logMalformed(obj, width, height)
		}
		if region.Empty() {
			stats.DetectionsSkipped++
			continue
		}
		l.transform.Apply(img, region, obj)
	}
	stats.TransformTime.Since(start)

	if l.sink != nil {
		start = time.Now()
		if err := l.sink.Write(img); err != nil {
			return false, failed(ErrSinkUnavailable, err)
		}
		stats.WriteTime.Since(start)
	}

	if l.display != nil {
		quit = l.display.Show(img, fmt.Sprintf("Plates detected: %v", stats.DetectionsTotal))
	}
	return quit, nil
}

func (l *frameLoop) logMalformed(obj nn.ObjectDetection, width, height int) {
	if time.Since(l.lastMalformedLog) < 15*time.Second {
		return
	}
	l.lastMalformedLog = time.Now()
	l.log.Debugf("Clamped detection %v to %vx%v frame", obj, width, height)
}

// Frames per second over the most recent frames
func (l *frameLoop) fps() float64 {
	n := l.throughput.Len()
	if n == 0 {
		return 0
	}
	total := time.Duration(0)
	for i := 0; i < n; i++ {
		total += l.throughput.Peek(i)
	}
	if total <= 0 {
		return 0
	}
	return float64(n) / total.Seconds()
}

func describeTotal(info frame.SourceInfo) string {
	if info.HasTotal() {
		return fmt.Sprintf("%v", info.TotalFrames)
	}
	return "unknown"
}

func closeAndLog(log logs.Log, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warnf("Error closing %v: %v", what, err)
	}
}
