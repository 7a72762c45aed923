package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const DefaultTag = "Plate"

var (
	fontOnce sync.Once
	ttFont   *truetype.Font
)

func defaultFont() *truetype.Font {
	fontOnce.Do(func() {
		f, err := truetype.Parse(goregular.TTF)
		if err != nil {
			panic(err)
		}
		ttFont = f
	})
	return ttFont
}

// Marker draws a rectangle around a region, and a label with the detection
// confidence above it.
type Marker struct {
	Tag       string      // Label text before the confidence, eg "Plate"
	BoxColor  color.Color // Rectangle and label background
	TextColor color.Color
	LineWidth int
	FontSize  float64
	Padding   int // Vertical space between text and label edges

	faceLock sync.Mutex
	face     font.Face
}

func NewMarker(tag string) *Marker {
	if tag == "" {
		tag = DefaultTag
	}
	return &Marker{
		Tag:       tag,
		BoxColor:  color.RGBA{0, 255, 0, 255},
		TextColor: color.RGBA{0, 0, 0, 255},
		LineWidth: 2,
		FontSize:  16,
		Padding:   5,
	}
}

// Label text for a detection
func (m *Marker) Label(det nn.ObjectDetection) string {
	return fmt.Sprintf("%v: %.2f", m.Tag, det.Confidence)
}

func (m *Marker) fontFace() font.Face {
	m.faceLock.Lock()
	defer m.faceLock.Unlock()
	if m.face == nil {
		m.face = truetype.NewFace(defaultFont(), &truetype.Options{Size: m.FontSize})
	}
	return m.face
}

func (m *Marker) measure(label string) (w, h int) {
	face := m.fontFace()
	m.faceLock.Lock()
	defer m.faceLock.Unlock()
	adv := font.MeasureString(face, label)
	metrics := face.Metrics()
	return adv.Ceil(), metrics.Ascent.Ceil()
}

// LabelRect returns the rectangle occupied by the label for 'region'.
// The label sits directly above the region. If that would put it above the
// top of the frame, it is pushed down so that it starts at y = 0. It is also
// kept within the left and right edges of the frame where the frame is wide enough.
func (m *Marker) LabelRect(frameWidth, frameHeight int, region nn.Rect, det nn.ObjectDetection) nn.Rect {
	tw, th := m.measure(m.Label(det))
	r := nn.Rect{
		X:      region.X,
		Y:      region.Y - th - 2*m.Padding,
		Width:  tw,
		Height: th + 2*m.Padding,
	}
	if r.Y < 0 {
		r.Y = 0
	}
	if r.X2() > frameWidth {
		r.X = max(0, frameWidth-r.Width)
	}
	if r.X < 0 {
		r.X = 0
	}
	return r
}

// MarkBounds is the only area of the frame that Apply will modify for a region.
// It is the box grown by the line width, joined with the label rectangle,
// and limited to the frame.
func (m *Marker) MarkBounds(frameWidth, frameHeight int, region nn.Rect, det nn.ObjectDetection) nn.Rect {
	u := region.Expand(m.LineWidth).Union(m.LabelRect(frameWidth, frameHeight, region, det))
	return nn.ClampToFrame(u, frameWidth, frameHeight)
}

func (m *Marker) Apply(img *image.RGBA, region nn.Rect, det nn.ObjectDetection) {
	if region.Empty() {
		return
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	label := m.Label(det)
	labelRect := m.LabelRect(width, height, region, det)
	outline := region.Expand(m.LineWidth)

	dc := gg.NewContextForRGBA(img)

	// Nothing may escape the box outline and the label
	dc.DrawRectangle(float64(outline.X), float64(outline.Y), float64(outline.Width), float64(outline.Height))
	dc.DrawRectangle(float64(labelRect.X), float64(labelRect.Y), float64(labelRect.Width), float64(labelRect.Height))
	dc.Clip()

	lw := float64(m.LineWidth)
	dc.SetColor(m.BoxColor)
	dc.SetLineWidth(lw)
	dc.DrawRectangle(float64(region.X), float64(region.Y), float64(region.Width), float64(region.Height))
	dc.Stroke()

	dc.DrawRectangle(float64(labelRect.X), float64(labelRect.Y), float64(labelRect.Width), float64(labelRect.Height))
	dc.Fill()

	// font.Face is not safe for concurrent use
	face := m.fontFace()
	m.faceLock.Lock()
	defer m.faceLock.Unlock()
	dc.SetFontFace(face)
	dc.SetColor(m.TextColor)
	baseline := float64(labelRect.Y2() - m.Padding)
	dc.DrawString(label, float64(labelRect.X), math.Floor(baseline))
}
