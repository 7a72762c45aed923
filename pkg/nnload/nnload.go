package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// detector implementations (OpenCV DNN, Haar cascades, remote inference), so that you
// can just call one function to load a model, and not need to know about the
// implementation details.

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/cvnn"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/remotenn"
)

// Prefix of a detector that always returns the same boxes. Used for tests and demos.
// eg "stub:10,10,110,40,0.9;200,80,260,100,0.7"
const StubPrefix = "stub:"

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// If the model file is not yet in the cache, then download it now.
// Returns immediately if the file is already downloaded.
// The optional .json sidecar is fetched too, but it's not an error if it doesn't exist.
func DownloadModel(log logs.Log, modelUrl, cacheDir string) (string, error) {
	u, err := url.Parse(modelUrl)
	if err != nil {
		return "", err
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "plateblur-models")
	}
	name := path.Base(u.Path)
	diskPath := filepath.Join(cacheDir, u.Host, name)
	if _, err := os.Stat(diskPath); os.IsNotExist(err) {
		log.Infof("Downloading %v to %v", modelUrl, diskPath)
		if err := downloadFile(modelUrl, diskPath); err != nil {
			return "", err
		}
		sidecarUrl := strings.TrimSuffix(modelUrl, ".onnx") + ".json"
		sidecarPath := strings.TrimSuffix(diskPath, ".onnx") + ".json"
		if err := downloadFile(sidecarUrl, sidecarPath); err != nil {
			log.Debugf("No model config at %v: %v", sidecarUrl, err)
		}
	} else if err != nil {
		return "", err
	}
	return diskPath, nil
}

// LoadDetector creates a detector from an identifier, which can be:
//
//	stub:x1,y1,x2,y2,conf;...     Fixed boxes
//	https://host/model.onnx       Downloaded into setup.CacheDir, then loaded as an ONNX model
//	https://host/detect           Remote inference service
//	/path/to/model.onnx           YOLO ONNX model
//	/path/to/cascade.xml          Haar cascade
func LoadDetector(log logs.Log, identifier string, setup *nn.ModelSetup) (nn.ObjectDetector, error) {
	if setup == nil {
		setup = nn.NewModelSetup()
	}
	det, err := loadRaw(log, identifier, setup)
	if err != nil {
		return nil, err
	}
	if setup.Tiled {
		log.Infof("Using tiled inference with %v threads", setup.Threads)
		return nn.NewTiledDetector(det, setup.Threads), nil
	}
	return det, nil
}

func loadRaw(log logs.Log, identifier string, setup *nn.ModelSetup) (nn.ObjectDetector, error) {
	lower := strings.ToLower(identifier)
	isHttp := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")

	switch {
	case identifier == "":
		return nil, fmt.Errorf("No detector model specified")
	case strings.HasPrefix(identifier, StubPrefix):
		return nn.ParseFixedDetector(identifier[len(StubPrefix):])
	case isHttp && strings.HasSuffix(lower, ".onnx"):
		local, err := DownloadModel(log, identifier, setup.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("Download failed: %w", err)
		}
		return cvnn.NewYOLODetector(local)
	case isHttp:
		log.Infof("Using remote inference service %v", identifier)
		return remotenn.NewClient(identifier, remotenn.DefaultTimeout), nil
	case strings.HasSuffix(lower, ".onnx"):
		return cvnn.NewYOLODetector(identifier)
	case strings.HasSuffix(lower, ".xml"):
		return cvnn.NewCascadeDetector(identifier)
	}
	return nil, fmt.Errorf("Unrecognized detector model '%v'. Expected .onnx, .xml, an http URL, or %v", identifier, StubPrefix)
}
