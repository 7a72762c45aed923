package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// We create a unique rate limiter for each endpoint that needs one
	ratelimited := func(method, route string, handle httprouter.Handle, requestLimit int, windowLength time.Duration) {
		if requestLimit <= 0 {
			www.Handle(s.Log, router, method, route, handle)
			return
		}
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handle(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/runs", s.httpListRuns)
	ratelimited("POST", "/api/runs", s.httpStartRun, s.config.RateLimit, time.Minute)
	handle("GET", "/api/runs/:id", s.httpGetRun)
	handle("POST", "/api/runs/:id/stop", s.httpStopRun)
	handle("GET", "/api/runs/:id/events", s.httpRunEvents)
	handle("GET", "/api/runs/:id/preview", s.httpRunPreview)
	handle("GET", "/api/runs/:id/output", s.httpRunOutput)

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, map[string]any{
		"status": "ok",
		"runs":   len(s.runs.list()),
	})
}

func (s *Server) httpListRuns(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	all := s.runs.list()
	infos := make([]runInfo, 0, len(all))
	for _, e := range all {
		infos = append(infos, e.info())
	}
	www.SendJSON(w, infos)
}

func (s *Server) httpStartRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	// Fields that the client omits keep the server defaults
	req := s.runs.newRequest()
	www.ReadJSON(w, r, &req, 1024*1024)
	entry, err := s.runs.start(req)
	if errors.Is(err, errTooManyRuns) {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	} else if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.Log.Infof("Started run %v on %v", entry.run.ID, entry.run.Job.Input)
	www.SendJSON(w, entry.info())
}

// Returns nil if the run doesn't exist, after sending a 404
func (s *Server) findRun(w http.ResponseWriter, params httprouter.Params) *runEntry {
	entry := s.runs.get(params.ByName("id"))
	if entry == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
	}
	return entry
}

func (s *Server) httpGetRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if entry := s.findRun(w, params); entry != nil {
		www.SendJSON(w, entry.info())
	}
}

func (s *Server) httpStopRun(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entry := s.findRun(w, params)
	if entry == nil {
		return
	}
	entry.run.Stop()
	if www.QueryValue(r, "wait") == "1" {
		select {
		case <-entry.run.Done():
		case <-r.Context().Done():
		}
	}
	www.SendOK(w)
}

func (s *Server) httpRunPreview(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entry := s.findRun(w, params)
	if entry == nil {
		return
	}
	snap := entry.preview.Latest()
	if snap == nil {
		http.Error(w, "No frames yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame", strconv.FormatInt(snap.Frame, 10))
	w.Header().Set("X-Status", snap.Status)
	w.Write(snap.JPEG)
}

func (s *Server) httpRunOutput(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entry := s.findRun(w, params)
	if entry == nil {
		return
	}
	if entry.run.Job.Output == "" {
		http.Error(w, "Run has no output", http.StatusNotFound)
		return
	}
	if !entry.run.State().Terminal() {
		http.Error(w, "Run is not finished", http.StatusConflict)
		return
	}
	name := entry.run.ID + ".mp4"
	if url, err := s.storage.URL(name); err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	f, err := s.storage.ReadFile(r.Context(), name)
	www.Check(err)
	defer f.Reader.Close()
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	io.Copy(w, f.Reader)
}

// Stream progress and completion messages over a websocket.
// The socket is closed by the server after the completion message.
func (s *Server) httpRunEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entry := s.findRun(w, params)
	if entry == nil {
		return
	}
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpRunEvents websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	events := entry.hub.subscribe()
	defer entry.hub.unsubscribe(events)

	// Read from the websocket so that we notice when the client goes away
	clientGone := make(chan struct{})
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				close(clientGone)
				return
			}
		}
	}()

	for {
		select {
		case msg, more := <-events:
			if !more {
				c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), time.Now().Add(time.Second))
				return
			}
			raw, _ := json.Marshal(msg)
			c.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.Log.Infof("httpRunEvents write failed: %v", err)
				return
			}
		case <-clientGone:
			return
		}
	}
}
