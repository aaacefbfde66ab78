// Package progress broadcasts dispatch progress to interested consumers:
// the CLI renderer and the dashboard's SSE endpoint.
package progress

import (
	"sync"
	"time"

	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

// Event is one progress update, emitted after every reaped worker.
type Event struct {
	RunID     string          `json:"run_id"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Failed    int             `json:"failed"`
	TaskID    string          `json:"task_id,omitempty"`
	Kind      tasks.ErrorKind `json:"error,omitempty"`
	Detail    string          `json:"detail,omitempty"`
	Time      time.Time       `json:"time"`
}

// Stream keeps a bounded history of events and fans new ones out to
// subscribers.
type Stream struct {
	buffer      []Event
	maxSize     int
	subscribers map[chan Event]struct{}
	mu          sync.RWMutex
}

// NewStream creates a stream that retains at most maxSize events.
func NewStream(maxSize int) *Stream {
	return &Stream{
		buffer:      make([]Event, 0, maxSize),
		maxSize:     maxSize,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Publish appends an event and broadcasts it. Sends to subscribers are
// non-blocking so a slow consumer cannot stall the dispatch loop.
func (s *Stream) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) >= s.maxSize {
		s.buffer = s.buffer[1:]
	}
	s.buffer = append(s.buffer, e)

	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of new events, a copy of the history so far,
// and a cleanup func that must be called when the consumer is done.
func (s *Stream) Subscribe() (<-chan Event, []Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Event, 100)
	s.subscribers[ch] = struct{}{}

	history := make([]Event, len(s.buffer))
	copy(history, s.buffer)

	cleanup := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}

	return ch, history, cleanup
}

// Latest returns the most recent event, if any.
func (s *Stream) Latest() (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buffer) == 0 {
		return Event{}, false
	}
	return s.buffer[len(s.buffer)-1], true
}
