// Package remotenn runs object detection on a remote inference service.
//
// The service accepts a POST with a multipart form containing a JPEG in the
// field "file", and responds with
//
//	{"detections": [{"x1": 10, "y1": 20, "x2": 110, "y2": 50, "confidence": 0.91, "class": 0}]}
//
// Coordinates are in pixels of the submitted image.
package remotenn

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/plateblur/pkg/jpeg"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/requests"
)

const DefaultTimeout = 30 * time.Second

type remoteBox struct {
	X1         float32 `json:"x1"`
	Y1         float32 `json:"y1"`
	X2         float32 `json:"x2"`
	Y2         float32 `json:"y2"`
	Confidence float32 `json:"confidence"`
	Class      int     `json:"class"`
}

type detectResponse struct {
	Detections []remoteBox `json:"detections"`
}

// Client is an nn.ObjectDetector backed by an HTTP service
type Client struct {
	URL     string
	Quality int // JPEG quality of submitted frames
	client  *http.Client
	config  nn.ModelConfig
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		URL:     url,
		Quality: 90,
		client:  &http.Client{Timeout: timeout},
		config: nn.ModelConfig{
			Architecture: "remote",
			Classes:      []string{"license_plate"},
		},
	}
}

// CheckHealth asks the service whether it is ready
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimSuffix(c.URL, "/")+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Inference service unhealthy: %v", resp.Status)
	}
	return nil
}

func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

func (c *Client) Config() *nn.ModelConfig {
	return &c.config
}

func (c *Client) DetectObjects(img *image.RGBA, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	encoded, err := jpeg.EncodeRGBA(img, c.Quality)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode frame: %w", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(encoded); err != nil {
		return nil, err
	}
	prob, _ := params.Thresholds()
	if err := writer.WriteField("confidence", fmt.Sprintf("%.3f", prob)); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest("POST", c.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	result, err := requests.DoJSON[detectResponse](c.client, req)
	if err != nil {
		return nil, fmt.Errorf("Inference request failed: %w", err)
	}

	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	objects := make([]nn.ObjectDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		box := nn.RectFromFloatCorners(d.X1, d.Y1, d.X2, d.Y2)
		if !params.Unclipped {
			box = nn.ClampToFrame(box, width, height)
		}
		objects = append(objects, nn.ObjectDetection{
			Class:      d.Class,
			Confidence: d.Confidence,
			Box:        box,
		})
	}
	return objects, nil
}
