package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/plateblur/pkg/camera"
	"github.com/cyclopcam/plateblur/pkg/pipeline"
	"github.com/cyclopcam/plateblur/pkg/preview"
	"github.com/cyclopcam/plateblur/pkg/progress"
	"github.com/google/uuid"
)

var errTooManyRuns = errors.New("Too many active runs")

// SYNC-RUN-REQUEST
type runRequest struct {
	Input    string             `json:"input"`
	NoOutput bool               `json:"noOutput"` // Process the input, but don't produce a video (eg to count plates)
	Config   pipeline.RunConfig `json:"config"`
}

// SYNC-RUN-INFO
type runInfo struct {
	ID       string             `json:"id"`
	Input    string             `json:"input"`
	Created  time.Time          `json:"created"`
	State    string             `json:"state"`
	Stats    pipeline.RunStats  `json:"stats"`
	Config   pipeline.RunConfig `json:"config"`
	Finished bool               `json:"finished"`
}

type runEntry struct {
	run     *pipeline.Run
	created time.Time
	hub     *eventHub
	preview *preview.Store
}

func (e *runEntry) info() runInfo {
	stats := e.run.Stats()
	return runInfo{
		ID:       e.run.ID,
		Input:    e.run.Job.Input,
		Created:  e.created,
		State:    stats.State.String(),
		Stats:    stats,
		Config:   e.run.Job.Config,
		Finished: stats.State.Terminal(),
	}
}

// runManager owns every run started by the server
type runManager struct {
	server *Server

	lock sync.Mutex
	runs map[string]*runEntry
}

func newRunManager(s *Server) *runManager {
	return &runManager{
		server: s,
		runs:   map[string]*runEntry{},
	}
}

// Resolve a client-supplied input into something we're prepared to open
func (m *runManager) resolveInput(identifier string) (string, error) {
	in, err := camera.ParseInput(identifier)
	if err != nil {
		return "", err
	}
	if in.Live() {
		if !m.server.config.AllowLive {
			return "", fmt.Errorf("Live inputs are not enabled on this server")
		}
		return identifier, nil
	}
	root := m.server.config.InputRoot
	if root == "" {
		return "", fmt.Errorf("File inputs are not enabled on this server")
	}
	if filepath.IsAbs(in.Path) {
		return "", fmt.Errorf("Input path must be relative to the input root")
	}
	full := filepath.Join(root, filepath.Clean(in.Path))
	if rel, err := filepath.Rel(root, full); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("Input path escapes the input root")
	}
	return full, nil
}

func (m *runManager) activeCount() int {
	n := 0
	for _, e := range m.runs {
		if !e.run.State().Terminal() {
			n++
		}
	}
	return n
}

// newRequest returns a request populated with the server's defaults.
// Decode the client's JSON over it, so that an explicit zero (eg a confidence
// threshold of 0) is honored, and an omitted field is not.
func (m *runManager) newRequest() runRequest {
	cfg := pipeline.NewRunConfig()
	cfg.ConfidenceThreshold = m.server.config.Confidence
	cfg.ReportEveryNFrames = m.server.config.ReportEvery
	return runRequest{Config: cfg}
}

// prune forgets the oldest finished runs, until at most KeepFinished remain.
// Caller must hold the lock.
func (m *runManager) prune() {
	finished := []*runEntry{}
	for _, e := range m.runs {
		if e.run.State().Terminal() {
			finished = append(finished, e)
		}
	}
	excess := len(finished) - m.server.config.KeepFinished
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].created.Before(finished[j].created)
	})
	for _, e := range finished[:excess] {
		delete(m.runs, e.run.ID)
	}
	m.server.Log.Debugf("Forgot %v finished runs", excess)
}

func (m *runManager) start(req runRequest) (*runEntry, error) {
	input, err := m.resolveInput(req.Input)
	if err != nil {
		return nil, err
	}

	cfg := req.Config
	// The server has no window. Its live display is the preview store.
	cfg.ShowLive = true
	if _, err := cfg.Normalized(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	output := ""
	if !req.NoOutput {
		output = filepath.Join(m.server.config.ScratchDir, id+".mp4")
	}
	entry := &runEntry{
		created: time.Now(),
		hub:     newEventHub(),
		preview: preview.NewStore(),
	}
	job := pipeline.Job{
		ID:      id,
		Input:   input,
		Output:  output,
		Config:  cfg,
		Display: entry.preview,
		Listener: progress.Multi{
			entry.hub,
			progress.Funcs{Complete: func(c progress.Completion) {
				m.server.Log.Infof("Run %v finished: %v. %v frames, %v plates", c.RunID, c.State, c.FramesProcessed, c.DetectionsTotal)
			}},
		},
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	m.prune()
	if m.activeCount() >= m.server.config.MaxRuns {
		return nil, errTooManyRuns
	}
	entry.run = m.server.Runner.Start(m.server.ctx, job)
	m.runs[id] = entry
	return entry, nil
}

func (m *runManager) get(id string) *runEntry {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.runs[id]
}

// list returns all runs, newest first
func (m *runManager) list() []*runEntry {
	m.lock.Lock()
	all := make([]*runEntry, 0, len(m.runs))
	for _, e := range m.runs {
		all = append(all, e)
	}
	m.lock.Unlock()
	sort.Slice(all, func(i, j int) bool {
		return all[i].created.After(all[j].created)
	})
	return all
}

// stopAll cancels every active run, and waits for them to finish, or for ctx to expire
func (m *runManager) stopAll(ctx context.Context) {
	for _, e := range m.list() {
		e.run.Stop()
	}
	for _, e := range m.list() {
		select {
		case <-e.run.Done():
		case <-ctx.Done():
			m.server.Log.Warnf("Timed out waiting for run %v to stop", e.run.ID)
			return
		}
	}
}
