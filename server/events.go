package server

import (
	"sync"

	"github.com/cyclopcam/plateblur/pkg/progress"
)

// Number of messages buffered for each websocket subscriber.
// A subscriber that falls further behind than this loses progress messages, but
// never the completion message.
const subscriberQueueSize = 32

// SYNC-WEBSOCKET-EVENTS
type eventMessage struct {
	Type     string               `json:"type"` // "progress" or "complete"
	Progress *progress.Event      `json:"progress,omitempty"`
	Complete *progress.Completion `json:"complete,omitempty"`
}

// eventHub fans out the progress of a single run to any number of subscribers.
// It is the run's progress.Listener, so it's called from the run's reporter goroutine.
type eventHub struct {
	lock  sync.Mutex
	subs  map[chan eventMessage]struct{}
	last  *eventMessage // Most recent progress message
	final *eventMessage // Completion message, once the run has finished
}

func newEventHub() *eventHub {
	return &eventHub{
		subs: map[chan eventMessage]struct{}{},
	}
}

func (h *eventHub) OnProgress(ev progress.Event) {
	msg := eventMessage{Type: "progress", Progress: &ev}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.last = &msg
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *eventHub) OnComplete(c progress.Completion) {
	msg := eventMessage{Type: "complete", Complete: &c}
	h.lock.Lock()
	defer h.lock.Unlock()
	h.final = &msg
	for ch := range h.subs {
		sendEvicting(ch, msg)
		close(ch)
	}
	h.subs = map[chan eventMessage]struct{}{}
}

// Send msg, discarding the oldest queued message if the channel is full
func sendEvicting(ch chan eventMessage, msg eventMessage) {
	for {
		select {
		case ch <- msg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// subscribe returns a channel that receives the latest progress message (if any),
// then every subsequent message. The channel is closed after the completion message.
func (h *eventHub) subscribe() chan eventMessage {
	ch := make(chan eventMessage, subscriberQueueSize)
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.last != nil {
		ch <- *h.last
	}
	if h.final != nil {
		ch <- *h.final
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// unsubscribe is safe to call after the channel has been closed by OnComplete
func (h *eventHub) unsubscribe(ch chan eventMessage) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.subs, ch)
}

func (h *eventHub) subscriberCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subs)
}
