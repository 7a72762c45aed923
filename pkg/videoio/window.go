package videoio

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Window shows frames on screen. Pressing 'q' in the window asks the run to stop.
type Window struct {
	window *gocv.Window
}

func NewWindow(title string) (*Window, error) {
	return &Window{
		window: gocv.NewWindow(title),
	}, nil
}

func (w *Window) Show(img *image.RGBA, status string) bool {
	m, err := RGBAToMat(img)
	if err != nil {
		return false
	}
	defer m.Close()
	if status != "" {
		gocv.PutText(&m, status, image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, color.RGBA{0, 255, 0, 255}, 2)
	}
	w.window.IMShow(m)
	key := w.window.WaitKey(1)
	return key&0xff == 'q'
}

func (w *Window) Close() error {
	return w.window.Close()
}
