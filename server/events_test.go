package server

import (
	"testing"

	"github.com/cyclopcam/plateblur/pkg/progress"
	"github.com/stretchr/testify/require"
)

func TestEventHubSlowSubscriber(t *testing.T) {
	h := newEventHub()
	ch := h.subscribe()
	for i := 0; i < subscriberQueueSize*3; i++ {
		h.OnProgress(progress.MakeEvent(int64(i), 1000))
	}
	h.OnComplete(progress.Completion{State: "Completed"})
	require.Equal(t, 0, h.subscriberCount())

	// Progress overflow was dropped, and the oldest message was evicted to make room
	// for the completion, which always arrives last.
	var got []eventMessage
	for msg := range ch {
		got = append(got, msg)
	}
	require.Len(t, got, subscriberQueueSize)
	require.Equal(t, "complete", got[len(got)-1].Type)
	require.Equal(t, int64(1), got[0].Progress.FrameIndex)

	// Unsubscribing after completion is harmless
	h.unsubscribe(ch)
}

func TestEventHubLateSubscriber(t *testing.T) {
	h := newEventHub()
	h.OnProgress(progress.MakeEvent(5, 10))
	h.OnComplete(progress.Completion{State: "Cancelled"})

	ch := h.subscribe()
	first := <-ch
	require.Equal(t, int64(5), first.Progress.FrameIndex)
	second := <-ch
	require.Equal(t, "Cancelled", second.Complete.State)
	_, more := <-ch
	require.False(t, more)
}
