// Package videoio connects the frame pipeline to OpenCV video capture,
// video writers, and on-screen windows.
package videoio

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/camera"
	"github.com/cyclopcam/plateblur/pkg/frame"
	"gocv.io/x/gocv"
)

var ErrReadFailed = errors.New("Failed to read frame")

// How long we wait for an RTSP camera to describe itself
const ProbeTimeout = 5 * time.Second

// Number of frames grabbed from a camera to measure its frame rate
const warmupFrames = 8

// CaptureSource reads frames from a file, a local camera, or a network stream
type CaptureSource struct {
	log     logs.Log
	input   camera.Input
	capture *gocv.VideoCapture
	mat     gocv.Mat
	info    frame.SourceInfo

	// Frames read during warmup, which are returned before we read any more
	pending []*image.RGBA
}

// Open a source from an identifier (see camera.ParseInput)
func Open(log logs.Log, identifier string) (*CaptureSource, error) {
	input, err := camera.ParseInput(identifier)
	if err != nil {
		return nil, err
	}

	var capture *gocv.VideoCapture
	switch input.Kind {
	case camera.InputFile:
		if err := camera.CheckFile(input.Path); err != nil {
			return nil, err
		}
		capture, err = gocv.VideoCaptureFile(input.Path)
	case camera.InputDevice:
		capture, err = gocv.OpenVideoCapture(input.Device)
	case camera.InputStream:
		if strings.HasPrefix(strings.ToLower(input.Path), "rtsp") {
			stream, perr := camera.ProbeRTSP(input.Path, ProbeTimeout)
			if perr != nil {
				return nil, perr
			}
			log.Infof("Camera '%v' has media %v", stream.Title, stream.Medias)
		}
		capture, err = gocv.OpenVideoCapture(input.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to open %v: %w", identifier, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("Failed to open %v", identifier)
	}

	s := &CaptureSource{
		log:     log,
		input:   input,
		capture: capture,
		mat:     gocv.NewMat(),
	}
	s.info = frame.SourceInfo{
		Width:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height: int(capture.Get(gocv.VideoCaptureFrameHeight)),
		FPS:    capture.Get(gocv.VideoCaptureFPS),
		Live:   input.Live(),
	}
	if !input.Live() {
		// Some containers report a negative or garbage frame count
		if n := capture.Get(gocv.VideoCaptureFrameCount); n > 0 && !math.IsInf(n, 0) && !math.IsNaN(n) {
			s.info.TotalFrames = int64(n)
		}
	}

	if input.Live() && (s.info.FPS <= 0 || math.IsNaN(s.info.FPS)) {
		if err := s.warmup(); err != nil {
			s.Close()
			return nil, err
		}
	}
	if s.info.FPS <= 0 || math.IsNaN(s.info.FPS) {
		s.info.FPS = camera.DefaultFPS
	}
	if s.info.Width <= 0 || s.info.Height <= 0 {
		// Read the first frame to learn the size
		img, err := s.read()
		if err != nil {
			s.Close()
			return nil, err
		}
		s.info.Width, s.info.Height = img.Bounds().Dx(), img.Bounds().Dy()
		s.pending = append(s.pending, img)
	}
	return s, nil
}

// Grab a few frames from a camera that doesn't report its frame rate, and time them
func (s *CaptureSource) warmup() error {
	times := []time.Time{}
	for i := 0; i < warmupFrames; i++ {
		img, err := s.read()
		if err != nil {
			return fmt.Errorf("Camera produced no frames: %w", err)
		}
		times = append(times, time.Now())
		s.pending = append(s.pending, img)
	}
	s.info.FPS = camera.EstimateFPS(camera.Intervals(times))
	s.log.Infof("Camera does not report its frame rate. Measured %.1f fps", s.info.FPS)
	return nil
}

func (s *CaptureSource) read() (*image.RGBA, error) {
	if ok := s.capture.Read(&s.mat); !ok {
		if s.input.Live() {
			return nil, ErrReadFailed
		}
		// OpenCV can't tell us whether a file ended or failed to decode, so both
		// end the stream. A decode gap shows up as FramesProcessed < TotalFrames.
		return nil, frame.ErrEndOfStream
	}
	if s.mat.Empty() {
		return nil, ErrReadFailed
	}
	return MatToRGBA(s.mat)
}

func (s *CaptureSource) Info() frame.SourceInfo {
	return s.info
}

func (s *CaptureSource) Next() (*image.RGBA, error) {
	if len(s.pending) != 0 {
		img := s.pending[0]
		s.pending = s.pending[1:]
		return img, nil
	}
	return s.read()
}

func (s *CaptureSource) Close() error {
	s.mat.Close()
	return s.capture.Close()
}
