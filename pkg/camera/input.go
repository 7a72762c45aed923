// Package camera classifies video inputs and probes live cameras.
package camera

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type InputKind int

const (
	InputFile   InputKind = iota // A video file on disk
	InputDevice                  // A local capture device, such as a webcam
	InputStream                  // A network stream (rtsp, http)
)

func (k InputKind) String() string {
	switch k {
	case InputFile:
		return "file"
	case InputDevice:
		return "device"
	case InputStream:
		return "stream"
	}
	return "unknown"
}

// Input is a parsed video input identifier
type Input struct {
	Kind   InputKind
	Device int    // Only valid for InputDevice
	Path   string // File path, or stream URL
}

// Returns true for inputs that never end by themselves
func (i Input) Live() bool {
	return i.Kind != InputFile
}

// Parse an input identifier.
// A non-negative integer is a device number (eg "0" for the first webcam).
// A URL with rtsp, rtsps, http or https scheme is a network stream.
// Anything else is a file path.
func ParseInput(identifier string) (Input, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Input{}, fmt.Errorf("Empty input")
	}
	if n, err := strconv.Atoi(identifier); err == nil {
		if n < 0 {
			return Input{}, fmt.Errorf("Invalid device number %v", n)
		}
		return Input{Kind: InputDevice, Device: n}, nil
	}
	if u, err := url.Parse(identifier); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "rtsp", "rtsps", "http", "https":
			if u.Host == "" {
				return Input{}, fmt.Errorf("Stream URL '%v' has no host", identifier)
			}
			return Input{Kind: InputStream, Path: identifier}, nil
		}
	}
	return Input{Kind: InputFile, Path: identifier}, nil
}

// Check that a file input exists and is not a directory.
// Video backends often give unhelpful errors for missing files, so we check first.
func CheckFile(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("%v is a directory", path)
	}
	return nil
}
