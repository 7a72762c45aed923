package preview

import (
	"testing"

	"github.com/cyclopcam/plateblur/pkg/frame"
	"github.com/cyclopcam/plateblur/pkg/jpeg"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore()
	s.Interval = 0
	require.Nil(t, s.Latest())

	img := frame.SyntheticFrame(1280, 720, 3)
	require.False(t, s.Show(img, "Plates detected: 1"))
	snap := s.Latest()
	require.NotNil(t, snap)
	require.Equal(t, int64(1), snap.Frame)
	require.Equal(t, "Plates detected: 1", snap.Status)

	decoded, err := jpeg.DecodeRGBA(snap.JPEG)
	require.NoError(t, err)
	require.Equal(t, 640, decoded.Bounds().Dx())
	require.Equal(t, 360, decoded.Bounds().Dy())

	// Small frames are not resized
	require.False(t, s.Show(frame.SyntheticFrame(320, 240, 4), ""))
	decoded, err = jpeg.DecodeRGBA(s.Latest().JPEG)
	require.NoError(t, err)
	require.Equal(t, 320, decoded.Bounds().Dx())
	require.Equal(t, int64(2), s.Latest().Frame)

	s.RequestQuit()
	require.True(t, s.Show(img, ""))
	require.NoError(t, s.Close())
}

func TestStoreThrottle(t *testing.T) {
	s := NewStore()
	s.Interval = 1 << 40
	s.Show(frame.SyntheticFrame(64, 64, 0), "a")
	s.Show(frame.SyntheticFrame(64, 64, 1), "b")
	// Only the first frame was encoded, but both were counted
	require.Equal(t, "a", s.Latest().Status)
}
