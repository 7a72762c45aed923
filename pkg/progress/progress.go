// Package progress delivers pipeline progress to an observer without ever
// slowing down the frame loop.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
)

// Event is a periodic progress update
type Event struct {
	RunID       string   `json:"runID,omitempty"`
	FrameIndex  int64    `json:"frameIndex"`        // Number of frames processed so far
	TotalFrames int64    `json:"totalFrames"`       // Zero when the total is unknown (eg live sources)
	Percent     *float64 `json:"percent,omitempty"` // Nil when the total is unknown
	FPS         float64  `json:"fps"`               // Recent processing throughput
	Detections  int64    `json:"detections"`        // Running count of detections
}

// Completion is the single terminal event of a run
type Completion struct {
	RunID             string        `json:"runID,omitempty"`
	State             string        `json:"state"`
	Reason            string        `json:"reason,omitempty"`
	FramesProcessed   int64         `json:"framesProcessed"`
	DetectionsTotal   int64         `json:"detectionsTotal"`
	DetectionsSkipped int64         `json:"detectionsSkipped"`
	TotalFrames       int64         `json:"totalFrames"`
	Truncated         bool          `json:"truncated,omitempty"`
	Output            string        `json:"output,omitempty"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Create an Event, computing Percent from the frame counts
func MakeEvent(frameIndex, totalFrames int64) Event {
	ev := Event{
		FrameIndex:  frameIndex,
		TotalFrames: totalFrames,
	}
	if totalFrames > 0 {
		p := float64(frameIndex) / float64(totalFrames) * 100
		p = min(p, 100)
		ev.Percent = &p
	}
	return ev
}

// Listener receives events.
// Listeners are called from the reporter's own goroutine, so they may block
// without stalling the frame loop, but they will delay delivery of later events.
type Listener interface {
	OnProgress(ev Event)
	OnComplete(c Completion)
}

// Funcs adapts plain functions to the Listener interface. Nil functions are skipped.
type Funcs struct {
	Progress func(ev Event)
	Complete func(c Completion)
}

func (f Funcs) OnProgress(ev Event) {
	if f.Progress != nil {
		f.Progress(ev)
	}
}

func (f Funcs) OnComplete(c Completion) {
	if f.Complete != nil {
		f.Complete(c)
	}
}

// Multi fans events out to several listeners, in order
type Multi []Listener

func (m Multi) OnProgress(ev Event) {
	for _, l := range m {
		l.OnProgress(ev)
	}
}

func (m Multi) OnComplete(c Completion) {
	for _, l := range m {
		l.OnComplete(c)
	}
}

// LogListener writes human readable progress to a log
type LogListener struct {
	Log logs.Log
}

func (l LogListener) OnProgress(ev Event) {
	if ev.Percent != nil {
		l.Log.Infof("Progress: %.1f%% - Frame %v/%v (%.1f fps)", *ev.Percent, ev.FrameIndex, ev.TotalFrames, ev.FPS)
	} else {
		l.Log.Infof("Frame %v, %v plates detected (%.1f fps)", ev.FrameIndex, ev.Detections, ev.FPS)
	}
}

func (l LogListener) OnComplete(c Completion) {
	if c.Reason != "" {
		l.Log.Errorf("Processing %v: %v", c.State, c.Reason)
	} else {
		l.Log.Infof("Processing %v", c.State)
	}
	l.Log.Infof("- Frames processed: %v", c.FramesProcessed)
	l.Log.Infof("- Plates detected: %v", c.DetectionsTotal)
	if c.DetectionsSkipped != 0 {
		l.Log.Infof("- Empty regions skipped: %v", c.DetectionsSkipped)
	}
	if c.Truncated {
		l.Log.Warnf("- Input ended before its reported length (%v frames)", c.TotalFrames)
	}
	if c.Output != "" {
		l.Log.Infof("- Video saved to: %v", c.Output)
	}
}

type message struct {
	ev         Event
	completion *Completion
}

// Reporter queues events for a listener.
// Emit never blocks: if the listener falls behind and the queue is full, the
// event is dropped. Complete never blocks either: it is always delivered,
// exactly once, after every queued event that it did not have to evict.
type Reporter struct {
	listener  Listener
	queue     chan message
	done      chan struct{}
	dropped   atomic.Int64
	completed atomic.Bool

	// Guards against a send on a queue that is being closed
	lock   sync.RWMutex
	closed bool
}

const DefaultQueueSize = 64

// Create a reporter and start its delivery goroutine.
// If listener is nil, events are discarded.
func NewReporter(listener Listener, queueSize int) *Reporter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Reporter{
		listener: listener,
		queue:    make(chan message, queueSize),
		done:     make(chan struct{}),
	}
	go r.deliver()
	return r
}

func (r *Reporter) deliver() {
	defer close(r.done)
	for msg := range r.queue {
		if r.listener == nil {
			continue
		}
		if msg.completion != nil {
			r.listener.OnComplete(*msg.completion)
		} else {
			r.listener.OnProgress(msg.ev)
		}
	}
}

// Emit queues a progress event, or drops it if the queue is full.
// Returns false if the event was dropped.
func (r *Reporter) Emit(ev Event) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- message{ev: ev}:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Complete queues the terminal event and closes the reporter.
// Only the first call has any effect. It never blocks: if the queue is full,
// the oldest progress events are discarded to make room.
func (r *Reporter) Complete(c Completion) {
	if !r.completed.CompareAndSwap(false, true) {
		return
	}
	r.lock.Lock()
	r.closed = true
	r.lock.Unlock()
	// Emit can no longer send, so we are the only writer
	msg := message{completion: &c}
	for {
		select {
		case r.queue <- msg:
			close(r.queue)
			return
		default:
		}
		select {
		case <-r.queue:
			r.dropped.Add(1)
		default:
		}
	}
}

// Number of progress events that were dropped because the listener was too slow
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// Wait until every queued event (including the completion) has been delivered.
// Only returns after Complete has been called.
func (r *Reporter) Wait() {
	<-r.done
}

// WaitTimeout is like Wait, but gives up after timeout.
// Returns false if the listener had not finished by then.
func (r *Reporter) WaitTimeout(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
		return false
	}
}

// Done is closed after the completion event has been delivered
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}
