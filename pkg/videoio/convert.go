package videoio

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// Convert a BGR Mat into a freshly allocated RGBA image with its origin at (0,0)
func MatToRGBA(m gocv.Mat) (*image.RGBA, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// Convert an RGBA image into a BGR Mat. The caller must Close the Mat.
func RGBAToMat(img *image.RGBA) (gocv.Mat, error) {
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("Failed to convert frame: %w", err)
	}
	return m, nil
}
