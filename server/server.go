// Package server runs plate redaction jobs on behalf of HTTP clients
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/frame"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/nnload"
	"github.com/cyclopcam/plateblur/pkg/pipeline"
	"github.com/cyclopcam/plateblur/pkg/storage"
	"github.com/cyclopcam/plateblur/pkg/videoio"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log    logs.Log
	Runner *pipeline.Runner

	config     Config
	ctx        context.Context
	cancel     context.CancelFunc
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
	storage    storage.Storage
	runs       *runManager
	detector   nn.ObjectDetector
	shutdown   chan struct{} // Closed when Shutdown has finished
}

// NewServer loads the detector and opens the blob store that are described by the config file
func NewServer(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}

	// Open blob store
	var storageServer storage.Storage
	if cfg.VideoStorage.GCS != nil {
		// Google Cloud Storage
		storageServer, err = storage.NewStorageGCS(logger, cfg.VideoStorage.GCS.Bucket, cfg.VideoStorage.GCS.Public)
		if err != nil {
			return nil, err
		}
	} else {
		// Filesystem
		storageServer, err = storage.NewStorageFS(logger, cfg.VideoStorage.Filesystem.Root)
		if err != nil {
			return nil, err
		}
	}

	setup := nn.NewModelSetup()
	setup.Tiled = cfg.Tiled
	setup.Threads = cfg.Threads
	setup.CacheDir = cfg.ModelCache
	detector, err := nnload.LoadDetector(logger, cfg.Model, setup)
	if err != nil {
		return nil, fmt.Errorf("Failed to load detector '%v': %w", cfg.Model, err)
	}

	return New(logger, cfg, detector, storageServer)
}

// New creates a server around an already loaded detector.
// The server takes ownership of the detector, and closes it during Shutdown.
func New(logger logs.Log, cfg *Config, detector nn.ObjectDetector, store storage.Storage) (*Server, error) {
	if err := os.MkdirAll(cfg.ScratchDir, 0755); err != nil {
		return nil, err
	}
	s := &Server{
		Log:      logger,
		config:   *cfg,
		storage:  store,
		detector: nn.NewSharedDetector(detector),
		shutdown: make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Runner = &pipeline.Runner{
		Log:      logger,
		Detector: s.detector,
		OpenSource: func(input string) (frame.Source, error) {
			return videoio.Open(logger, input)
		},
		OpenSink: func(output string, info frame.SourceInfo) (frame.Sink, error) {
			return videoio.CreateFileSink(output, info)
		},
		Publisher: &storage.Publisher{
			Log:         logger,
			Storage:     store,
			RemoveLocal: true,
		},
		MaxReadFailures: pipeline.DefaultMaxReadFailures,
	}
	s.runs = newRunManager(s)
	if err := s.setupHttpRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// port example: ":8090". An empty port uses the config file's value.
func (s *Server) ListenHTTP(port string) error {
	if port == "" {
		port = s.config.Listen
	}
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown stops all runs, and then the HTTP server.
// Cancelled runs still finalize and publish their partial output.
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}

	s.Log.Infof("Stopping runs")
	s.cancel()
	runCtx, runCancel := context.WithTimeout(context.Background(), 30*time.Second)
	s.runs.stopAll(runCtx)
	runCancel()

	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP server shutdown error: %v", err)
		}
	}

	s.detector.Close()
	if closer, ok := s.storage.(interface{ Close() error }); ok {
		closer.Close()
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
	close(s.shutdown)
}

// WaitForShutdown blocks until Shutdown has finished
func (s *Server) WaitForShutdown() {
	<-s.shutdown
}
