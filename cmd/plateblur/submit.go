package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/plateblur/pkg/pipeline"
	"github.com/cyclopcam/plateblur/pkg/progress"
	"github.com/cyclopcam/plateblur/pkg/requests"
	"github.com/gorilla/websocket"
)

// SYNC-RUN-REQUEST
type runRequest struct {
	Input    string             `json:"input"`
	NoOutput bool               `json:"noOutput"`
	Config   pipeline.RunConfig `json:"config"`
}

// SYNC-RUN-INFO (the subset we need)
type runInfo struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// SYNC-WEBSOCKET-EVENTS
type eventMessage struct {
	Type     string               `json:"type"`
	Progress *progress.Event      `json:"progress,omitempty"`
	Complete *progress.Completion `json:"complete,omitempty"`
}

func submit(ctx context.Context, logger logs.Log, server, input string, cfg pipeline.RunConfig, noOutput, wait bool) error {
	server = strings.TrimSuffix(server, "/")
	req := runRequest{
		Input:    input,
		NoOutput: noOutput,
		Config:   cfg,
	}
	info, err := requests.RequestJSON[runInfo]("POST", server+"/api/runs", req)
	if err != nil {
		return fmt.Errorf("Failed to submit run: %w", err)
	}
	logger.Infof("Submitted run %v", info.ID)
	if !wait {
		return nil
	}
	return follow(ctx, logger, server, info.ID)
}

// Print progress of a run until it finishes.
// If ctx is cancelled, we ask the server to stop the run, and keep following it
// so that we see the final summary.
func follow(ctx context.Context, logger logs.Log, server, runID string) error {
	u, err := url.Parse(server + "/api/runs/" + runID + "/events")
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("Failed to follow run: %w", err)
	}
	defer conn.Close()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			logger.Infof("Stopping run %v", runID)
			resp, err := http.Post(server+"/api/runs/"+runID+"/stop", "", nil)
			if err != nil {
				logger.Warnf("Failed to stop run: %v", err)
			} else {
				resp.Body.Close()
			}
		case <-stopped:
		}
	}()

	listener := progress.LogListener{Log: logger}
	for {
		msg := eventMessage{}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("Lost connection to server before run finished: %w", err)
		}
		switch msg.Type {
		case "progress":
			listener.OnProgress(*msg.Progress)
		case "complete":
			listener.OnComplete(*msg.Complete)
			switch msg.Complete.State {
			case pipeline.StateCompleted.String():
				return nil
			case pipeline.StateCancelled.String():
				return pipeline.ErrCancelled
			}
			return fmt.Errorf("Run %v: %v", msg.Complete.State, msg.Complete.Reason)
		}
	}
}
