// Package logring keeps a bounded in-memory window of recent log lines and
// fans them out to stream subscribers, backing the control channel's log
// subscription.
package logring

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultMaxLines = 300

// Entry is one captured log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`

	// Reset marks a generation boundary: subscribers should discard
	// previously received lines (emitted on reload).
	Reset bool `json:"reset,omitempty"`
}

// Ring is the bounded log buffer.
type Ring struct {
	mu       sync.Mutex
	maxLines int
	lines    []Entry
	subs     map[string]chan Entry
}

// New returns a ring holding at most maxLines entries; maxLines <= 0 uses the
// default.
func New(maxLines int) *Ring {
	if maxLines <= 0 {
		maxLines = defaultMaxLines
	}
	return &Ring{
		maxLines: maxLines,
		subs:     make(map[string]chan Entry),
	}
}

// Append records a line and forwards it to all subscribers. Subscribers that
// cannot keep up skip lines rather than blocking the writer.
func (r *Ring) Append(message string) {
	entry := Entry{Time: time.Now(), Message: message}
	r.mu.Lock()
	r.lines = append(r.lines, entry)
	if len(r.lines) > r.maxLines {
		r.lines = r.lines[len(r.lines)-r.maxLines:]
	}
	r.broadcast(entry)
	r.mu.Unlock()
}

// Reset clears the buffer and emits a reset marker so live subscribers drop
// their replayed window.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.lines = nil
	r.broadcast(Entry{Time: time.Now(), Reset: true})
	r.mu.Unlock()
}

// Subscribe returns a snapshot of the buffered lines, a live channel and a
// cancel function. The snapshot and the channel do not overlap: lines
// appended after Subscribe returns arrive only on the channel.
func (r *Ring) Subscribe(buffer int) ([]Entry, <-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)
	id := uuid.NewString()

	r.mu.Lock()
	snapshot := make([]Entry, len(r.lines))
	copy(snapshot, r.lines)
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
	return snapshot, ch, cancel
}

// Len reports the buffered line count.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// broadcast is called with r.mu held.
func (r *Ring) broadcast(entry Entry) {
	for _, ch := range r.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
