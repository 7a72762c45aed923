package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
)

// Run is a handle to a pipeline run executing on its own goroutine
type Run struct {
	ID  string
	Job Job

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}

	lock  sync.Mutex
	stats RunStats
	err   error
}

func newRun(ctx context.Context, job Job) *Run {
	r := &Run{
		ID:   job.ID,
		Job:  job,
		done: make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	return r
}

func (r *Run) State() State {
	return State(r.state.Load())
}

func (r *Run) setState(s State) {
	r.state.Store(int32(s))
}

// Stats returns a copy of the most recent statistics
func (r *Run) Stats() RunStats {
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.stats
	s.State = r.State()
	return s
}

func (r *Run) publishStats(s *RunStats) {
	r.lock.Lock()
	r.stats = *s
	r.lock.Unlock()
}

// Stop requests cooperative cancellation. The run observes the request before
// it reads its next frame. Stop does not wait. Use Wait for that.
func (r *Run) Stop() {
	r.cancel()
}

// Done is closed once the run has released its resources and delivered its terminal event
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait for the run to finish, and return its final statistics.
// The error is nil only if the run reached StateCompleted.
func (r *Run) Wait() (*RunStats, error) {
	<-r.done
	r.lock.Lock()
	defer r.lock.Unlock()
	s := r.stats
	return &s, r.err
}

func (r *Run) finish(s *RunStats, err error) {
	r.lock.Lock()
	r.stats = *s
	r.err = err
	r.lock.Unlock()
	r.setState(s.State)
}
