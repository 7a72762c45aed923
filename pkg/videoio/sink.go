package videoio

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/cyclopcam/plateblur/pkg/frame"
	"gocv.io/x/gocv"
)

// Codec used for output files. mp4v is available in every OpenCV build.
const DefaultCodec = "mp4v"

// FileSink encodes frames into a video file with the same size and frame rate as the source
type FileSink struct {
	path   string
	writer *gocv.VideoWriter
	width  int
	height int
}

func CreateFileSink(path string, info frame.SourceInfo) (*FileSink, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("Invalid output size %vx%v", info.Width, info.Height)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	writer, err := gocv.VideoWriterFile(path, DefaultCodec, info.FPS, info.Width, info.Height, true)
	if err != nil {
		return nil, fmt.Errorf("Failed to create %v: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("Failed to create %v", path)
	}
	return &FileSink{
		path:   path,
		writer: writer,
		width:  info.Width,
		height: info.Height,
	}, nil
}

func (f *FileSink) Write(img *image.RGBA) error {
	if img.Bounds().Dx() != f.width || img.Bounds().Dy() != f.height {
		return fmt.Errorf("Frame size %vx%v does not match output size %vx%v", img.Bounds().Dx(), img.Bounds().Dy(), f.width, f.height)
	}
	m, err := RGBAToMat(img)
	if err != nil {
		return err
	}
	defer m.Close()
	return f.writer.Write(m)
}

func (f *FileSink) Close() error {
	return f.writer.Close()
}
