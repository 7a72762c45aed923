package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/frame"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/overlay"
	"github.com/cyclopcam/plateblur/pkg/progress"
	"github.com/stretchr/testify/require"
)

const testWidth = 160
const testHeight = 96

var plateBox = nn.Rect{X: 40, Y: 30, Width: 60, Height: 20}

// Records everything that a listener receives
type recorder struct {
	lock        sync.Mutex
	events      []progress.Event
	completions []progress.Completion
}

func (r *recorder) OnProgress(ev progress.Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnComplete(c progress.Completion) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.completions = append(r.completions, c)
}

// A sink that calls a function after every write
type hookSink struct {
	*frame.MemorySink
	afterWrite func(n int)
	n          int
}

func (h *hookSink) Write(img *image.RGBA) error {
	if err := h.MemorySink.Write(img); err != nil {
		return err
	}
	h.n++
	if h.afterWrite != nil {
		h.afterWrite(h.n)
	}
	return nil
}

type panicDetector struct {
	panicAt int
	calls   int
}

func (p *panicDetector) Close()                  {}
func (p *panicDetector) Config() *nn.ModelConfig { return &nn.ModelConfig{} }
func (p *panicDetector) DetectObjects(img *image.RGBA, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	p.calls++
	if p.calls == p.panicAt {
		panic("inference blew up")
	}
	return nil, nil
}

type errorDetector struct {
	failAt int
	calls  int
}

var errInference = errors.New("inference server returned garbage")

func (e *errorDetector) Close()                  {}
func (e *errorDetector) Config() *nn.ModelConfig { return &nn.ModelConfig{} }
func (e *errorDetector) DetectObjects(img *image.RGBA, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	e.calls++
	if e.calls == e.failAt {
		return nil, errInference
	}
	return nil, nil
}

type quitDisplay struct {
	quitAt int
	shown  int
}

func (q *quitDisplay) Show(img *image.RGBA, status string) bool {
	q.shown++
	return q.shown == q.quitAt
}

func (q *quitDisplay) Close() error { return nil }

type fakePublisher struct {
	published []string
}

func (f *fakePublisher) Publish(ctx context.Context, localPath string) (string, error) {
	f.published = append(f.published, localPath)
	return "gs://plates/" + localPath, nil
}

func newRunner(t *testing.T, det nn.ObjectDetector, src frame.Source, sink frame.Sink) *Runner {
	return &Runner{
		Log:      logs.NewTestingLog(t),
		Detector: det,
		OpenSource: func(input string) (frame.Source, error) {
			return src, nil
		},
		OpenSink: func(output string, info frame.SourceInfo) (frame.Sink, error) {
			return sink, nil
		},
	}
}

func redactConfig(threshold float32) RunConfig {
	cfg := NewRunConfig()
	cfg.ConfidenceThreshold = threshold
	cfg.Mode = overlay.ModeRedact
	return cfg
}

func regionPixels(img *image.RGBA, r nn.Rect) []byte {
	sub := img.SubImage(r.ImageRect()).(*image.RGBA)
	out := []byte{}
	for y := 0; y < r.Height; y++ {
		row := sub.PixOffset(r.X, r.Y+y)
		out = append(out, sub.Pix[row:row+r.Width*4]...)
	}
	return out
}

func TestRedactTenFrames(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10)
	sink := frame.NewMemorySink()
	det := nn.NewFixedDetector(nn.ObjectDetection{Confidence: 0.9, Box: plateBox})
	rec := &recorder{}
	runner := newRunner(t, det, src, sink)

	stats, err := runner.Run(context.Background(), Job{ID: "e2e", Input: "synthetic", Output: "out.mp4", Config: redactConfig(0.5), Listener: rec})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, stats.State)
	require.EqualValues(t, 10, stats.FramesProcessed)
	require.EqualValues(t, 10, stats.DetectionsTotal)
	require.EqualValues(t, 0, stats.DetectionsSkipped)
	require.False(t, stats.Truncated)
	require.Equal(t, "out.mp4", stats.Output)

	frames := sink.Frames()
	require.Len(t, frames, 10)
	for i, f := range frames {
		orig := frame.SyntheticFrame(testWidth, testHeight, int64(i))
		require.NotEqual(t, regionPixels(orig, plateBox), regionPixels(f, plateBox), "frame %v", i)
		// Outside the plate nothing changes
		require.Equal(t, regionPixels(orig, nn.Rect{X: 0, Y: 0, Width: testWidth, Height: plateBox.Y}), regionPixels(f, nn.Rect{X: 0, Y: 0, Width: testWidth, Height: plateBox.Y}))
	}
	require.True(t, src.Closed())
	require.True(t, sink.Closed())
	require.Len(t, rec.completions, 1)
	require.Equal(t, "Completed", rec.completions[0].State)
	require.EqualValues(t, 10, rec.completions[0].FramesProcessed)
}

func TestThresholdExcludesDetections(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10)
	sink := frame.NewMemorySink()
	det := nn.NewFixedDetector(nn.ObjectDetection{Confidence: 0.9, Box: plateBox})
	runner := newRunner(t, det, src, sink)

	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: redactConfig(0.95)})
	require.NoError(t, err)
	require.EqualValues(t, 10, stats.FramesProcessed)
	require.EqualValues(t, 0, stats.DetectionsTotal)
	for i, f := range sink.Frames() {
		require.Equal(t, frame.SyntheticFrame(testWidth, testHeight, int64(i)).Pix, f.Pix)
	}
}

func TestCancelAfterFifty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := frame.NewSynthetic(testWidth, testHeight, 1000, 1000)
	sink := &hookSink{MemorySink: frame.NewMemorySink(), afterWrite: func(n int) {
		if n == 50 {
			cancel()
		}
	}}
	rec := &recorder{}
	det := nn.NewFixedDetector(nn.ObjectDetection{Confidence: 0.9, Box: plateBox})
	runner := newRunner(t, det, src, sink)

	stats, err := runner.Run(ctx, Job{Input: "synthetic", Output: "out.mp4", Config: redactConfig(0.5), Listener: rec})
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateCancelled, stats.State)
	require.GreaterOrEqual(t, stats.FramesProcessed, int64(50))
	require.LessOrEqual(t, stats.FramesProcessed, int64(51))
	require.True(t, src.Closed())
	require.True(t, sink.Closed())
	require.Len(t, rec.completions, 1)
	require.Equal(t, "Cancelled", rec.completions[0].State)
	require.Empty(t, rec.completions[0].Reason)
}

func TestLiveSourceUnknownTotal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := frame.NewSyntheticLive(testWidth, testHeight)
	sink := &hookSink{MemorySink: frame.NewMemorySink(), afterWrite: func(n int) {
		if n == 5 {
			cancel()
		}
	}}
	rec := &recorder{}
	det := nn.NewFixedDetector(nn.ObjectDetection{Confidence: 0.9, Box: plateBox})
	runner := newRunner(t, det, src, sink)
	cfg := redactConfig(0.5)
	cfg.ReportEveryNFrames = 1

	stats, err := runner.Run(ctx, Job{Input: "0", Output: "cam.mp4", Config: cfg, Listener: rec})
	require.ErrorIs(t, err, ErrCancelled)
	require.EqualValues(t, 5, stats.FramesProcessed)
	require.EqualValues(t, 0, stats.TotalFrames)

	require.Len(t, rec.events, 5)
	for i, ev := range rec.events {
		require.Nil(t, ev.Percent)
		require.EqualValues(t, 0, ev.TotalFrames)
		require.EqualValues(t, i+1, ev.FrameIndex)
		require.EqualValues(t, i+1, ev.Detections)
	}
	require.Len(t, rec.completions, 1)
	require.EqualValues(t, 5, rec.completions[0].FramesProcessed)
}

func TestProgressCadence(t *testing.T) {
	src := frame.NewSynthetic(32, 32, 95, 95)
	rec := &recorder{}
	runner := newRunner(t, nn.NewFixedDetector(), src, nil)

	_, err := runner.Run(context.Background(), Job{Input: "synthetic", Config: NewRunConfig(), Listener: rec})
	require.NoError(t, err)
	require.Len(t, rec.events, 3)
	for i, ev := range rec.events {
		require.EqualValues(t, (i+1)*30, ev.FrameIndex)
		require.NotNil(t, ev.Percent)
		require.InDelta(t, float64((i+1)*30)/95*100, *ev.Percent, 1e-9)
	}
}

func TestRepeatedRunsAgree(t *testing.T) {
	det := nn.NewFixedDetector(
		nn.ObjectDetection{Confidence: 0.9, Box: plateBox},
		nn.ObjectDetection{Confidence: 0.3, Box: plateBox},
		nn.ObjectDetection{Confidence: 0.7, Box: nn.Rect{X: 500, Y: 500, Width: 10, Height: 10}},
	)
	var first *RunStats
	for i := 0; i < 2; i++ {
		runner := newRunner(t, det, frame.NewSynthetic(testWidth, testHeight, 25, 25), frame.NewMemorySink())
		stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: redactConfig(0.5)})
		require.NoError(t, err)
		if first == nil {
			first = stats
			continue
		}
		require.Equal(t, first.FramesProcessed, stats.FramesProcessed)
		require.Equal(t, first.DetectionsTotal, stats.DetectionsTotal)
		require.Equal(t, first.DetectionsSkipped, stats.DetectionsSkipped)
	}
	require.EqualValues(t, 50, first.DetectionsTotal)
	require.EqualValues(t, 25, first.DetectionsSkipped)
}

func TestMalformedDetectionsAreClamped(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 3, 3)
	sink := frame.NewMemorySink()
	det := nn.NewFixedDetector(
		// Spills off the bottom right corner
		nn.ObjectDetection{Confidence: 0.8, Box: nn.Rect{X: testWidth - 30, Y: testHeight - 10, Width: 100, Height: 100}},
		// Entirely outside the frame
		nn.ObjectDetection{Confidence: 0.8, Box: nn.Rect{X: -200, Y: 10, Width: 50, Height: 10}},
		// Inverted corners
		nn.ObjectDetection{Confidence: 0.8, Box: nn.Rect{X: 50, Y: 50, Width: -20, Height: -20}},
	)
	runner := newRunner(t, det, src, sink)
	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: redactConfig(0.5)})
	require.NoError(t, err)
	require.EqualValues(t, 9, stats.DetectionsTotal)
	require.EqualValues(t, 6, stats.DetectionsSkipped)

	corner := nn.Rect{X: testWidth - 30, Y: testHeight - 10, Width: 30, Height: 10}
	for i, f := range sink.Frames() {
		orig := frame.SyntheticFrame(testWidth, testHeight, int64(i))
		require.NotEqual(t, regionPixels(orig, corner), regionPixels(f, corner))
		rest := nn.Rect{X: 0, Y: 0, Width: testWidth, Height: testHeight - 10}
		require.Equal(t, regionPixels(orig, rest), regionPixels(f, rest))
	}
}

func TestMarkNearTopEdge(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 4, 4)
	sink := frame.NewMemorySink()
	box := nn.Rect{X: 10, Y: 1, Width: 70, Height: 20}
	det := nn.NewFixedDetector(nn.ObjectDetection{Confidence: 0.77, Box: box})
	runner := newRunner(t, det, src, sink)
	cfg := NewRunConfig()
	cfg.Mode = overlay.ModeMark

	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: cfg})
	require.NoError(t, err)
	require.EqualValues(t, 4, stats.DetectionsTotal)

	marker := overlay.NewMarker(overlay.DefaultTag)
	bounds := marker.MarkBounds(testWidth, testHeight, box, nn.ObjectDetection{Confidence: 0.77, Box: box})
	for i, f := range sink.Frames() {
		orig := frame.SyntheticFrame(testWidth, testHeight, int64(i))
		require.NotEqual(t, regionPixels(orig, bounds), regionPixels(f, bounds))
		below := nn.Rect{X: 0, Y: bounds.Y2(), Width: testWidth, Height: testHeight - bounds.Y2()}
		require.Equal(t, regionPixels(orig, below), regionPixels(f, below))
	}
}

func TestSourceUnavailable(t *testing.T) {
	sinkOpened := false
	rec := &recorder{}
	runner := &Runner{
		Log:      logs.NewTestingLog(t),
		Detector: nn.NewFixedDetector(),
		OpenSource: func(input string) (frame.Source, error) {
			return nil, errors.New("no such file")
		},
		OpenSink: func(output string, info frame.SourceInfo) (frame.Sink, error) {
			sinkOpened = true
			return frame.NewMemorySink(), nil
		},
	}
	stats, err := runner.Run(context.Background(), Job{Input: "missing.mp4", Output: "out.mp4", Config: NewRunConfig(), Listener: rec})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.Equal(t, StateFailed, stats.State)
	require.Contains(t, stats.Reason, "no such file")
	require.False(t, sinkOpened)
	require.Len(t, rec.completions, 1)
	require.Equal(t, "Failed", rec.completions[0].State)
	require.NotEmpty(t, rec.completions[0].Reason)
}

func TestSinkUnavailable(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10)
	runner := newRunner(t, nn.NewFixedDetector(), src, nil)
	runner.OpenSink = func(output string, info frame.SourceInfo) (frame.Sink, error) {
		return nil, errors.New("read-only filesystem")
	}
	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "/readonly/out.mp4", Config: NewRunConfig()})
	require.ErrorIs(t, err, ErrSinkUnavailable)
	require.Equal(t, StateFailed, stats.State)
	require.EqualValues(t, 0, stats.FramesProcessed)
	require.True(t, src.Closed())
}

func TestDetectorPanicReleasesResources(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10)
	sink := frame.NewMemorySink()
	rec := &recorder{}
	runner := newRunner(t, &panicDetector{panicAt: 3}, src, sink)

	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: NewRunConfig(), Listener: rec})
	require.ErrorIs(t, err, ErrFrameFailed)
	require.Equal(t, StateFailed, stats.State)
	require.EqualValues(t, 2, stats.FramesProcessed)
	require.True(t, src.Closed())
	require.True(t, sink.Closed())
	require.Len(t, rec.completions, 1)
}

func TestDetectorErrorReleasesResources(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10)
	sink := frame.NewMemorySink()
	rec := &recorder{}
	runner := newRunner(t, &errorDetector{failAt: 4}, src, sink)

	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: NewRunConfig(), Listener: rec})
	require.ErrorIs(t, err, ErrDetectorFailed)
	require.ErrorIs(t, err, errInference)
	require.Equal(t, StateFailed, stats.State)
	require.Contains(t, stats.Reason, errInference.Error())
	require.EqualValues(t, 3, stats.FramesProcessed)
	require.Len(t, sink.Frames(), 3)
	require.True(t, src.Closed())
	require.True(t, sink.Closed())
	require.Len(t, rec.completions, 1)
	require.Equal(t, StateFailed.String(), rec.completions[0].State)
}

func TestStuckListenerDoesNotHangRun(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	listener := progress.Funcs{
		Complete: func(c progress.Completion) {
			<-release
		},
	}
	src := frame.NewSynthetic(testWidth, testHeight, 3, 3)
	sink := frame.NewMemorySink()
	runner := newRunner(t, nn.NewFixedDetector(), src, sink)
	runner.ListenerTimeout = 50 * time.Millisecond

	start := time.Now()
	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: NewRunConfig(), Listener: listener})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, stats.State)
	require.EqualValues(t, 3, stats.FramesProcessed)
	require.Less(t, time.Since(start), 5*time.Second)
	require.True(t, src.Closed())
	require.True(t, sink.Closed())
}

func TestDecodeGapEndsFiniteSource(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10).FailAt(7)
	sink := frame.NewMemorySink()
	rec := &recorder{}
	runner := newRunner(t, nn.NewFixedDetector(), src, sink)

	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: NewRunConfig(), Listener: rec})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, stats.State)
	require.True(t, stats.Truncated)
	require.EqualValues(t, 7, stats.FramesProcessed)
	require.EqualValues(t, 10, stats.TotalFrames)
	require.Len(t, sink.Frames(), 7)
	require.True(t, rec.completions[0].Truncated)
}

func TestLiveSourceReadFailures(t *testing.T) {
	src := frame.NewSyntheticLive(testWidth, testHeight).FailAt(3)
	runner := newRunner(t, nn.NewFixedDetector(), src, nil)
	runner.MaxReadFailures = 2

	stats, err := runner.Run(context.Background(), Job{Input: "0", Config: NewRunConfig()})
	require.ErrorIs(t, err, ErrSourceUnavailable)
	require.ErrorIs(t, err, frame.ErrReadFailed)
	require.EqualValues(t, 3, stats.FramesProcessed)
	require.True(t, src.Closed())
}

func TestDisplayQuitCancels(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 100, 100)
	display := &quitDisplay{quitAt: 3}
	runner := newRunner(t, nn.NewFixedDetector(), src, nil)
	cfg := NewRunConfig()
	cfg.ShowLive = true

	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Config: cfg, Display: display})
	require.ErrorIs(t, err, ErrCancelled)
	require.EqualValues(t, 3, stats.FramesProcessed)
	require.Equal(t, 3, display.shown)
}

func TestInvalidConfig(t *testing.T) {
	src := frame.NewSynthetic(testWidth, testHeight, 10, 10)
	runner := newRunner(t, nn.NewFixedDetector(), src, nil)
	cfg := NewRunConfig()
	cfg.ConfidenceThreshold = 1.5
	_, err := runner.Run(context.Background(), Job{Input: "synthetic", Config: cfg})
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.False(t, src.Closed())
}

func TestPublishOutput(t *testing.T) {
	pub := &fakePublisher{}
	runner := newRunner(t, nn.NewFixedDetector(), frame.NewSynthetic(32, 32, 3, 3), frame.NewMemorySink())
	runner.Publisher = pub
	rec := &recorder{}
	stats, err := runner.Run(context.Background(), Job{Input: "synthetic", Output: "out.mp4", Config: NewRunConfig(), Listener: rec})
	require.NoError(t, err)
	require.Equal(t, []string{"out.mp4"}, pub.published)
	require.Equal(t, "gs://plates/out.mp4", stats.Output)
	require.Equal(t, "gs://plates/out.mp4", rec.completions[0].Output)
}

func TestConcurrentRuns(t *testing.T) {
	shared := nn.NewSharedDetector(nn.NewFixedDetector(nn.ObjectDetection{Confidence: 0.9, Box: plateBox}))
	defer shared.Close()

	runs := []*Run{}
	sinks := []*frame.MemorySink{}
	for i := 0; i < 4; i++ {
		sink := frame.NewMemorySink()
		sinks = append(sinks, sink)
		runner := newRunner(t, shared, frame.NewSynthetic(testWidth, testHeight, 20, 20), sink)
		runs = append(runs, runner.Start(context.Background(), Job{ID: string(rune('a' + i)), Input: "synthetic", Output: "out.mp4", Config: redactConfig(0.5)}))
	}
	for i, run := range runs {
		stats, err := run.Wait()
		require.NoError(t, err)
		require.EqualValues(t, 20, stats.FramesProcessed)
		require.EqualValues(t, 20, stats.DetectionsTotal)
		require.Len(t, sinks[i].Frames(), 20)
		require.Equal(t, StateCompleted, run.State())
	}
}

func TestStopBackgroundRun(t *testing.T) {
	runner := newRunner(t, nn.NewFixedDetector(), frame.NewSyntheticLive(32, 32), nil)
	run := runner.Start(context.Background(), Job{ID: "bg", Input: "0", Config: NewRunConfig()})
	run.Stop()
	stats, err := run.Wait()
	require.ErrorIs(t, err, ErrCancelled)
	require.Equal(t, StateCancelled, run.State())
	require.Equal(t, StateCancelled, stats.State)
	<-run.Done()
}
