package overlay

import (
	"image"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/convolution"
	"github.com/cyclopcam/plateblur/pkg/nn"
)

// BlurPolicy decides the Gaussian kernel for a region of a given size.
// Kernel sizes are always odd.
type BlurPolicy interface {
	Kernel(width, height int) (kx, ky int, sigmaX, sigmaY float64)
}

// FixedBlur uses the same kernel for every region
type FixedBlur struct {
	Size  int
	Sigma float64
}

func (f FixedBlur) Kernel(width, height int) (kx, ky int, sigmaX, sigmaY float64) {
	k := f.Size | 1
	return k, k, f.Sigma, f.Sigma
}

// ScaledBlur grows the kernel with the region, so that large regions don't
// retain legible structure after blurring. Each axis gets
// max(MinSize, round(dimension/3) rounded up to odd).
// Sigma is derived from the kernel size in the same way as OpenCV does when
// sigma is zero.
type ScaledBlur struct {
	MinSize int
}

func (s ScaledBlur) Kernel(width, height int) (kx, ky int, sigmaX, sigmaY float64) {
	kx = scaledKernelSize(width, s.MinSize)
	ky = scaledKernelSize(height, s.MinSize)
	return kx, ky, sigmaForKernel(kx), sigmaForKernel(ky)
}

// The two blur policies differ on purpose.
// Frames of a video stream have plates at a consistent, fairly small scale, so
// a moderate fixed kernel with a strong sigma is enough. A still image can
// contain a plate of any size, so the kernel scales with the region.
var (
	// Policy for frames of a video stream
	StreamBlur BlurPolicy = FixedBlur{Size: 23, Sigma: 30}

	// Policy for single still images
	StillImageBlur BlurPolicy = ScaledBlur{MinSize: 31}
)

func scaledKernelSize(dim, minSize int) int {
	k := int(math.Round(float64(dim) / 3))
	if k%2 == 0 {
		k++
	}
	return max(minSize|1, k)
}

func sigmaForKernel(k int) float64 {
	return 0.3*((float64(k)-1)*0.5-1) + 0.8
}

// Redactor replaces the pixels of a region with a blurred copy of themselves
type Redactor struct {
	Policy BlurPolicy
}

func NewRedactor(policy BlurPolicy) *Redactor {
	if policy == nil {
		policy = StreamBlur
	}
	return &Redactor{Policy: policy}
}

func (r *Redactor) Apply(img *image.RGBA, region nn.Rect, det nn.ObjectDetection) {
	rect := region.ImageRect().Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	kx, ky, sx, sy := r.Policy.Kernel(rect.Dx(), rect.Dy())
	blurred := GaussianBlur(img.SubImage(rect), kx, ky, sx, sy)
	draw.Draw(img, rect, blurred, image.Point{}, draw.Src)
}

// GaussianBlur blurs 'src' with a separable Gaussian kernel of size kx by ky.
// Only the pixels of src are sampled, and edge pixels are extended, so a
// region is never contaminated by its surroundings.
// The result has its origin at (0,0).
func GaussianBlur(src image.Image, kx, ky int, sigmaX, sigmaY float64) *image.RGBA {
	b := src.Bounds()
	local := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(local, local.Bounds(), src, b.Min, draw.Src)

	opt := &convolution.Options{Bias: 0, Wrap: false, KeepAlpha: true}
	horz := gaussianKernel(kx, 1, sigmaX)
	vert := gaussianKernel(1, ky, sigmaY)
	out := convolution.Convolve(local, horz.Normalized(), opt)
	return convolution.Convolve(out, vert.Normalized(), opt)
}

// Build a 1D gaussian kernel, laid out horizontally (h == 1) or vertically (w == 1)
func gaussianKernel(w, h int, sigma float64) *convolution.Kernel {
	k := convolution.NewKernel(w, h)
	n := max(w, h)
	center := float64(n-1) / 2
	if sigma <= 0 {
		sigma = sigmaForKernel(n)
	}
	for i := 0; i < n; i++ {
		x := float64(i) - center
		k.Matrix[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
	}
	return k
}
