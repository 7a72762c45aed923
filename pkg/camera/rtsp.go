package camera

import (
	"fmt"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/url"
)

// StreamInfo is the result of a successful RTSP probe
type StreamInfo struct {
	Title  string
	Medias []string
}

// ProbeRTSP connects to an RTSP server and asks it to describe the stream.
// The video backend can take a long time to give up on an unreachable camera,
// so we use this to fail fast before opening a capture.
func ProbeRTSP(rawURL string, timeout time.Duration) (*StreamInfo, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("Invalid RTSP URL: %w", err)
	}

	c := gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if err := c.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("Failed to connect to %v: %w", u.Host, err)
	}
	defer c.Close()

	session, _, err := c.Describe(u)
	if err != nil {
		return nil, fmt.Errorf("RTSP DESCRIBE failed: %w", err)
	}
	if len(session.Medias) == 0 {
		return nil, fmt.Errorf("Stream %v has no media", u.Host)
	}

	info := &StreamInfo{
		Title: session.Title,
	}
	for _, media := range session.Medias {
		info.Medias = append(info.Medias, string(media.Type))
	}
	return info, nil
}
