package nn

import (
	"image"
	"sync"
)

// SharedDetector serializes access to a single detector, so that one model
// handle can be used by many concurrent pipeline runs.
// Most inference backends are not safe for concurrent use, and loading
// one copy of the weights per run is wasteful.
type SharedDetector struct {
	lock  sync.Mutex
	inner ObjectDetector
}

// Wrap 'inner'. The SharedDetector takes ownership of 'inner'.
func NewSharedDetector(inner ObjectDetector) *SharedDetector {
	return &SharedDetector{inner: inner}
}

func (s *SharedDetector) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.inner != nil {
		s.inner.Close()
		s.inner = nil
	}
}

func (s *SharedDetector) Config() *ModelConfig {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.inner == nil {
		return &ModelConfig{}
	}
	return s.inner.Config()
}

func (s *SharedDetector) DetectObjects(img *image.RGBA, params *DetectionParams) ([]ObjectDetection, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.inner == nil {
		return nil, ErrDetectorClosed
	}
	return s.inner.DetectObjects(img, params)
}
