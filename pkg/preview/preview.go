// Package preview keeps the most recent processed frame of a run, as a small JPEG,
// so that a remote viewer can watch a headless run.
package preview

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/plateblur/pkg/jpeg"
	"github.com/disintegration/imaging"
)

const DefaultMaxWidth = 640

// Snapshot is one encoded preview frame
type Snapshot struct {
	JPEG   []byte
	Status string
	Frame  int64 // Number of frames shown so far, including this one
	Time   time.Time
}

// Store is a frame.Display that keeps only the latest frame.
// It encodes at most one frame every Interval, so that a fast run isn't slowed down
// by JPEG compression of frames nobody will see.
type Store struct {
	MaxWidth int
	Quality  int
	Interval time.Duration

	lock     sync.Mutex
	latest   *Snapshot
	lastEnc  time.Time
	nShown   int64
	quitFlag atomic.Bool
}

func NewStore() *Store {
	return &Store{
		MaxWidth: DefaultMaxWidth,
		Quality:  jpeg.DefaultQuality,
		Interval: 200 * time.Millisecond,
	}
}

// Show implements frame.Display
func (s *Store) Show(img *image.RGBA, status string) bool {
	s.lock.Lock()
	s.nShown++
	n := s.nShown
	now := time.Now()
	due := s.latest == nil || now.Sub(s.lastEnc) >= s.Interval
	if due {
		s.lastEnc = now
	}
	s.lock.Unlock()

	if due {
		if encoded, err := s.encode(img); err == nil {
			s.lock.Lock()
			s.latest = &Snapshot{
				JPEG:   encoded,
				Status: status,
				Frame:  n,
				Time:   now,
			}
			s.lock.Unlock()
		}
	}
	return s.quitFlag.Load()
}

func (s *Store) encode(img *image.RGBA) ([]byte, error) {
	w := img.Bounds().Dx()
	if s.MaxWidth > 0 && w > s.MaxWidth {
		small := imaging.Resize(img, s.MaxWidth, 0, imaging.Linear)
		return jpeg.EncodeNRGBA(small, s.Quality)
	}
	return jpeg.EncodeRGBA(img, s.Quality)
}

// Latest returns the most recent snapshot, or nil if no frame has been shown yet
func (s *Store) Latest() *Snapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.latest
}

// RequestQuit causes the next call to Show to return true
func (s *Store) RequestQuit() {
	s.quitFlag.Store(true)
}

// Close implements frame.Display. The last snapshot remains available.
func (s *Store) Close() error {
	return nil
}
