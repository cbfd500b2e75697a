package motorclient

import (
	"sync"

	"github.com/robotmemory/keydrive/direction"
)

var _ = Notifier(&Recorder{})

// Recorder is a Notifier that records requests in memory instead of sending them.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
}

// Start records a start.
func (r *Recorder) Start(dir direction.Direction) {
	r.record(Request{Action: ActionStart, Direction: dir})
}

// Stop records a stop.
func (r *Recorder) Stop() {
	r.record(Request{Action: ActionStop})
}

// Move records a move.
func (r *Recorder) Move(dir direction.Direction) {
	r.record(Request{Action: ActionMove, Direction: dir})
}

func (r *Recorder) record(req Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

// Requests returns a copy of everything recorded so far.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request{}, r.requests...)
}
