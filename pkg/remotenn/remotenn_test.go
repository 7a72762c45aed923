package remotenn

import (
	"context"
	"encoding/json"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyclopcam/plateblur/pkg/jpeg"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/stretchr/testify/require"
)

func TestDetectObjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		raw, _ := io.ReadAll(f)
		img, err := jpeg.DecodeRGBA(raw)
		if err != nil || img.Bounds().Dx() != 120 || r.FormValue("confidence") != "0.600" {
			http.Error(w, "unexpected upload", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"x1": 10.2, "y1": 20, "x2": 60.7, "y2": 40, "confidence": 0.91, "class": 0},
				{"x1": 100, "y1": 50, "x2": 200, "y2": 90, "confidence": 0.7, "class": 0},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/detect", time.Second)
	defer c.Close()
	require.NoError(t, NewClient(srv.URL, time.Second).CheckHealth(context.Background()))

	params := nn.NewDetectionParams()
	params.ProbabilityThreshold = 0.6
	objs, err := c.DetectObjects(image.NewRGBA(image.Rect(0, 0, 120, 80)), params)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	require.Equal(t, nn.Rect{X: 10, Y: 20, Width: 51, Height: 20}, objs[0].Box)
	require.Equal(t, float32(0.91), objs[0].Confidence)
	// Clipped to the frame
	require.Equal(t, nn.Rect{X: 100, Y: 50, Width: 20, Height: 30}, objs[1].Box)
}

func TestServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.DetectObjects(image.NewRGBA(image.Rect(0, 0, 16, 16)), nn.NewDetectionParams())
	require.Error(t, err)
	require.Contains(t, err.Error(), "model not loaded")
	require.Error(t, c.CheckHealth(context.Background()))
}
