package jpeg

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{200, 40, 90, 255})
		}
	}
	b, err := EncodeRGBA(img, 95)
	require.NoError(t, err)
	require.Greater(t, len(b), 100)

	dec, err := DecodeRGBA(b)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), dec.Bounds())
	c := dec.RGBAAt(32, 24)
	require.InDelta(t, 200, int(c.R), 6)
	require.InDelta(t, 40, int(c.G), 6)
	require.InDelta(t, 90, int(c.B), 6)
}
