package engine

import (
	"sync"
	"time"
)

const eventLogCapacity = 256

// EventRecord wraps one settlement event with its capture time. Payload is
// one of the domain event structs.
type EventRecord struct {
	At      time.Time   `json:"at"`
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

// eventLog is a fixed-capacity ring of recent settlement events for the
// introspection endpoints. Durable history lives on-chain; this is a
// convenience window, not a journal.
type eventLog struct {
	mu     sync.Mutex
	ring   []EventRecord
	next   int
	filled bool
}

func newEventLog() *eventLog {
	return &eventLog{ring: make([]EventRecord, eventLogCapacity)}
}

func (l *eventLog) push(kind string, payload interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.next] = EventRecord{At: time.Now(), Kind: kind, Payload: payload}
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.filled = true
	}
}

// Recent returns the buffered events, oldest first.
func (l *eventLog) Recent() []EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.filled {
		out := make([]EventRecord, l.next)
		copy(out, l.ring[:l.next])
		return out
	}
	out := make([]EventRecord, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	out = append(out, l.ring[:l.next]...)
	return out
}
