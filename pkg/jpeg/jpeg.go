// Package jpeg compresses frames with libjpeg-turbo
package jpeg

import (
	"image"

	"github.com/bmharper/cimg/v2"
)

const DefaultQuality = 85

// Compress an RGBA image. Alpha is discarded.
func EncodeRGBA(img *image.RGBA, quality int) ([]byte, error) {
	return encode4(img.Pix, img.Stride, img.Bounds().Dx(), img.Bounds().Dy(), quality)
}

// Compress an NRGBA image, such as the output of the imaging package. Alpha is discarded.
func EncodeNRGBA(img *image.NRGBA, quality int) ([]byte, error) {
	return encode4(img.Pix, img.Stride, img.Bounds().Dx(), img.Bounds().Dy(), quality)
}

func encode4(pix []byte, stride, width, height, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	rgb := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for y := 0; y < height; y++ {
		src := pix[y*stride : y*stride+width*4]
		dst := rgb.Pixels[y*rgb.Stride : y*rgb.Stride+width*3]
		for x := 0; x < width; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return cimg.Compress(rgb, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}

// Decompress a JPEG into an RGBA image with its origin at (0,0)
func DecodeRGBA(b []byte) (*image.RGBA, error) {
	img, err := cimg.Decompress(b)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	nchan := img.NChan()
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < img.Width; x++ {
			if nchan == 1 {
				v := src[x]
				dst[x*4], dst[x*4+1], dst[x*4+2] = v, v, v
			} else {
				dst[x*4] = src[x*nchan]
				dst[x*4+1] = src[x*nchan+1]
				dst[x*4+2] = src[x*nchan+2]
			}
			dst[x*4+3] = 255
		}
	}
	return out, nil
}
