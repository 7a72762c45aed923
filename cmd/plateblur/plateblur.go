package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/camera"
	"github.com/cyclopcam/plateblur/pkg/frame"
	"github.com/cyclopcam/plateblur/pkg/nn"
	"github.com/cyclopcam/plateblur/pkg/nnload"
	"github.com/cyclopcam/plateblur/pkg/overlay"
	"github.com/cyclopcam/plateblur/pkg/pipeline"
	"github.com/cyclopcam/plateblur/pkg/progress"
	"github.com/cyclopcam/plateblur/pkg/videoio"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Options shared by the 'video' and 'webcam' commands
type runFlags struct {
	output     *string
	model      *string
	redact     *bool
	confidence *float64
	noShow     *bool
	every      *int
	tag        *string
	tiled      *bool
	threads    *int
}

func addRunFlags(cmd *argparse.Command) *runFlags {
	return &runFlags{
		output:     cmd.String("o", "output", &argparse.Options{Help: "Output video file (mp4)", Default: ""}),
		model:      cmd.String("m", "model", &argparse.Options{Help: "Plate detector: .onnx model, .xml cascade, inference URL, or stub:x1,y1,x2,y2,conf", Default: "license_plate_detector.onnx"}),
		redact:     cmd.Flag("", "redact", &argparse.Options{Help: "Blur plates instead of marking them", Default: false}),
		confidence: cmd.Float("", "confidence", &argparse.Options{Help: "Minimum detection confidence", Default: pipeline.DefaultConfidenceThreshold}),
		noShow:     cmd.Flag("", "no-show", &argparse.Options{Help: "Don't show the live preview window", Default: false}),
		every:      cmd.Int("", "every", &argparse.Options{Help: "Report progress every N frames", Default: pipeline.DefaultReportEveryNFrames}),
		tag:        cmd.String("", "tag", &argparse.Options{Help: "Label text of marked plates", Default: overlay.DefaultTag}),
		tiled:      cmd.Flag("", "tiled", &argparse.Options{Help: "Run the detector over tiles, for frames much larger than the model input", Default: false}),
		threads:    cmd.Int("", "threads", &argparse.Options{Help: "Concurrent tiles, with --tiled", Default: 2}),
	}
}

func (f *runFlags) runConfig() pipeline.RunConfig {
	cfg := pipeline.NewRunConfig()
	cfg.ConfidenceThreshold = float32(*f.confidence)
	if *f.redact {
		cfg.Mode = overlay.ModeRedact
	}
	cfg.ShowLive = !*f.noShow
	cfg.ReportEveryNFrames = *f.every
	cfg.Tag = *f.tag
	return cfg
}

func main() {
	parser := argparse.NewParser("plateblur", "Detect, blur or mark license plates in video")

	videoCmd := parser.NewCommand("video", "Process a video file")
	videoInput := videoCmd.String("i", "video", &argparse.Options{Help: "Input video file", Required: true})
	videoFlags := addRunFlags(videoCmd)

	webcamCmd := parser.NewCommand("webcam", "Process a live camera until 'q' or Ctrl+C")
	webcamDevice := webcamCmd.Int("", "camera", &argparse.Options{Help: "Camera device number", Default: 0})
	webcamStream := webcamCmd.String("", "stream", &argparse.Options{Help: "Network stream URL (eg rtsp://...), instead of a local camera", Default: ""})
	webcamFlags := addRunFlags(webcamCmd)

	submitCmd := parser.NewCommand("submit", "Submit a video to a plateblurd server")
	submitServer := submitCmd.String("s", "server", &argparse.Options{Help: "Server address", Default: "http://localhost:8090"})
	submitInput := submitCmd.String("i", "video", &argparse.Options{Help: "Input, relative to the server's input root", Required: true})
	submitRedact := submitCmd.Flag("", "redact", &argparse.Options{Help: "Blur plates instead of marking them", Default: false})
	submitConfidence := submitCmd.Float("", "confidence", &argparse.Options{Help: "Minimum detection confidence", Default: pipeline.DefaultConfidenceThreshold})
	submitNoOutput := submitCmd.Flag("", "no-output", &argparse.Options{Help: "Count plates without producing a video", Default: false})
	submitWait := submitCmd.Flag("w", "wait", &argparse.Options{Help: "Follow progress until the run finishes", Default: false})

	probeCmd := parser.NewCommand("probe", "Describe a video file, camera, or stream, without processing it")
	probeInput := probeCmd.String("i", "input", &argparse.Options{Help: "File, device number, or stream URL", Required: true})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	// Ctrl+C is a cooperative stop. The output is finalized before we exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch {
	case videoCmd.Happened():
		runErr = runLocal(ctx, logger, *videoInput, videoFlags)
	case webcamCmd.Happened():
		input := strconv.Itoa(*webcamDevice)
		if *webcamStream != "" {
			input = *webcamStream
		}
		runErr = runLocal(ctx, logger, input, webcamFlags)
	case probeCmd.Happened():
		runErr = probe(logger, *probeInput)
	case submitCmd.Happened():
		cfg := pipeline.NewRunConfig()
		cfg.ConfidenceThreshold = float32(*submitConfidence)
		if *submitRedact {
			cfg.Mode = overlay.ModeRedact
		}
		runErr = submit(ctx, logger, *submitServer, *submitInput, cfg, *submitNoOutput, *submitWait)
	}

	if runErr != nil && !errors.Is(runErr, pipeline.ErrCancelled) {
		logger.Errorf("%v", runErr)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func runLocal(ctx context.Context, logger logs.Log, input string, flags *runFlags) error {
	setup := nn.NewModelSetup()
	setup.Tiled = *flags.tiled
	setup.Threads = *flags.threads
	detector, err := nnload.LoadDetector(logger, *flags.model, setup)
	if err != nil {
		return fmt.Errorf("Failed to load detector '%v': %w", *flags.model, err)
	}
	defer detector.Close()

	runner := &pipeline.Runner{
		Log:      logger,
		Detector: detector,
		OpenSource: func(input string) (frame.Source, error) {
			return videoio.Open(logger, input)
		},
		OpenSink: func(output string, info frame.SourceInfo) (frame.Sink, error) {
			return videoio.CreateFileSink(output, info)
		},
		OpenDisplay: func(title string) (frame.Display, error) {
			return videoio.NewWindow("plateblur: " + title)
		},
		MaxReadFailures: pipeline.DefaultMaxReadFailures,
	}

	logger.Infof("Processing %v", input)
	_, err = runner.Run(ctx, pipeline.Job{
		Input:    input,
		Output:   *flags.output,
		Config:   flags.runConfig(),
		Listener: progress.LogListener{Log: logger},
	})
	return err
}

// Print what we know about an input before committing to a run
func probe(logger logs.Log, input string) error {
	in, err := camera.ParseInput(input)
	if err != nil {
		return err
	}
	logger.Infof("Input kind: %v", in.Kind)
	if in.Kind == camera.InputStream && strings.HasPrefix(strings.ToLower(input), "rtsp") {
		stream, err := camera.ProbeRTSP(input, videoio.ProbeTimeout)
		if err != nil {
			return err
		}
		logger.Infof("Stream title: '%v'", stream.Title)
		for i, media := range stream.Medias {
			logger.Infof("Media %v: %v", i, media)
		}
	}
	src, err := videoio.Open(logger, input)
	if err != nil {
		return err
	}
	defer src.Close()
	info := src.Info()
	logger.Infof("Frame size: %v x %v", info.Width, info.Height)
	logger.Infof("Frame rate: %.2f", info.FPS)
	if info.HasTotal() && info.FPS > 0 {
		logger.Infof("Frames: %v (%v)", info.TotalFrames, time.Duration(float64(info.TotalFrames)/info.FPS*float64(time.Second)).Round(time.Second))
	} else if info.HasTotal() {
		logger.Infof("Frames: %v", info.TotalFrames)
	} else if info.Live {
		logger.Infof("Frames: live")
	} else {
		logger.Infof("Frames: unknown")
	}
	return nil
}
