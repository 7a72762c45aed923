package nn

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"
)

// Reports one object at the center of every tile it sees
type centerDetector struct {
	config ModelConfig
}

func (c *centerDetector) Close() {}

func (c *centerDetector) Config() *ModelConfig {
	return &c.config
}

func (c *centerDetector) DetectObjects(img *image.RGBA, params *DetectionParams) ([]ObjectDetection, error) {
	b := img.Bounds()
	return []ObjectDetection{
		{Confidence: 0.8, Box: Rect{X: b.Dx()/2 - 5, Y: b.Dy()/2 - 5, Width: 10, Height: 10}},
	}, nil
}

func TestTiledSingle(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	det := NewTiledDetector(&centerDetector{config: ModelConfig{Width: 640, Height: 640}}, 2)
	defer det.Close()
	objs, err := det.DetectObjects(img, NewDetectionParams())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, Rect{X: 155, Y: 115, Width: 10, Height: 10}, objs[0].Box)
}

func TestTiledMultiple(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	det := NewTiledDetector(&centerDetector{config: ModelConfig{Width: 320, Height: 320}}, 3)
	objs, err := det.DetectObjects(img, NewDetectionParams())
	require.NoError(t, err)
	require.Greater(t, len(objs), 1)
	for _, o := range objs {
		require.GreaterOrEqual(t, o.Box.X, 0)
		require.GreaterOrEqual(t, o.Box.Y, 0)
		require.LessOrEqual(t, o.Box.X2(), 1280)
		require.LessOrEqual(t, o.Box.Y2(), 720)
	}
}

func TestSharedDetector(t *testing.T) {
	fixed := NewFixedDetector(ObjectDetection{Confidence: 0.9, Box: Rect{X: 1, Y: 1, Width: 2, Height: 2}})
	shared := NewSharedDetector(fixed)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := shared.DetectObjects(img, NewDetectionParams())
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	require.EqualValues(t, 8, fixed.Calls())

	shared.Close()
	require.True(t, fixed.Closed())
	_, err := shared.DetectObjects(img, NewDetectionParams())
	require.ErrorIs(t, err, ErrDetectorClosed)
}

func TestParseFixedDetector(t *testing.T) {
	det, err := ParseFixedDetector("10,20,110,50,0.9; 5,5,1,1,0.4")
	require.NoError(t, err)
	require.Len(t, det.Objects, 2)
	require.Equal(t, Rect{X: 10, Y: 20, Width: 100, Height: 30}, det.Objects[0].Box)
	require.True(t, det.Objects[1].Box.Empty())

	_, err = ParseFixedDetector("1,2,3")
	require.Error(t, err)
}
