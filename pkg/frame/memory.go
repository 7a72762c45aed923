package frame

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
)

// Synthetic is a Source that generates deterministic frames in memory.
// Frame i is filled with a pattern that depends on i, so frames differ from one another.
type Synthetic struct {
	info   SourceInfo
	count  int64 // Number of frames to produce. Negative for unlimited.
	failAt int64 // If non-negative, Next fails with ErrReadFailed at this frame index
	next   atomic.Int64
	closed atomic.Bool
}

var ErrReadFailed = errors.New("Frame read failed")

// Create a finite synthetic source of 'count' frames.
// If reportedTotal is zero, the source pretends not to know its length.
func NewSynthetic(width, height int, count, reportedTotal int64) *Synthetic {
	return &Synthetic{
		info: SourceInfo{
			Width:       width,
			Height:      height,
			FPS:         30,
			TotalFrames: reportedTotal,
		},
		count:  count,
		failAt: -1,
	}
}

// Create an unbounded synthetic source that behaves like a camera
func NewSyntheticLive(width, height int) *Synthetic {
	return &Synthetic{
		info: SourceInfo{
			Width:  width,
			Height: height,
			FPS:    30,
			Live:   true,
		},
		count:  -1,
		failAt: -1,
	}
}

// Make the read of frame 'index' fail, as a corrupt container would
func (s *Synthetic) FailAt(index int64) *Synthetic {
	s.failAt = index
	return s
}

func (s *Synthetic) Info() SourceInfo {
	return s.info
}

func (s *Synthetic) Next() (*image.RGBA, error) {
	i := s.next.Load()
	if s.failAt >= 0 && i >= s.failAt {
		return nil, ErrReadFailed
	}
	if s.count >= 0 && i >= s.count {
		return nil, ErrEndOfStream
	}
	s.next.Add(1)
	return SyntheticFrame(s.info.Width, s.info.Height, i), nil
}

func (s *Synthetic) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Synthetic) Closed() bool {
	return s.closed.Load()
}

// Generate frame 'index' of a synthetic sequence.
// The pattern has plenty of high frequency detail, so blurring always changes it.
func SyntheticFrame(width, height int, index int64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	shift := int(index % 7)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(30)
			if (((x+shift)/3)+(y/3))%2 == 0 {
				v = 220
			}
			img.SetRGBA(x, y, color.RGBA{v, uint8((x * 5) ^ (y * 3)), 255 - v, 255})
		}
	}
	return img
}

// MemorySink keeps a copy of every frame written to it
type MemorySink struct {
	lock   sync.Mutex
	frames []*image.RGBA
	closed bool
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Write(img *image.RGBA) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return errors.New("Sink is closed")
	}
	c := image.NewRGBA(img.Bounds())
	copy(c.Pix, img.Pix)
	m.frames = append(m.frames, c)
	return nil
}

func (m *MemorySink) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	return nil
}

func (m *MemorySink) Closed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.closed
}

func (m *MemorySink) Frames() []*image.RGBA {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]*image.RGBA(nil), m.frames...)
}

// NullDisplay discards frames. It is used when nobody is watching.
type NullDisplay struct{}

func (NullDisplay) Show(img *image.RGBA, status string) bool { return false }
func (NullDisplay) Close() error                             { return nil }
