// Package bus implements the process-wide ordered event broadcast bus with
// replay, modeled on the original event_hub's deque-plus-per-subscriber-queue
// design but expressed with Go channels and mutexes.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Event is one published message. EventID is assigned by the Hub at publish
// time and is strictly monotonic per process. EventTs mirrors the affected
// row's updatedAt when applicable; callers that don't have one may leave it
// empty.
type Event struct {
	Type    string `json:"type"`
	Data    any    `json:"data"`
	EventID int64  `json:"eventId"`
	EventTs string `json:"eventTs,omitempty"`
}

// ResetEventType is the type of the sentinel emitted in place of a replay set when a
// subscriber's cursor has aged out of the retained buffer.
const ResetEventType = "stream.reset"

// Subscription is a live subscriber handle. Events arrives on C; if the
// receiver falls behind, the Hub drops the oldest queued event to keep C
// moving rather than blocking the publisher.
type Subscription struct {
	C    chan Event
	hub  *Hub
	id   uint64
	mu   sync.Mutex
	head int // not used by the Hub
}

// Hub is an in-process ordered broadcast bus with a bounded ring buffer and
// per-subscriber bounded queues.
type Hub struct {
	mu            sync.Mutex
	buffer        []Event
	maxBuffer     int
	nextID        int64
	subs          map[uint64]chan Event
	subQueueSize  int
	nextSubID     uint64
}

// New creates a Hub retaining up to maxBuffer events, with each subscriber
// queue bounded to subscriberQueueSize (defaults to maxBuffer when <= 0).
func New(maxBuffer, subscriberQueueSize int) *Hub {
	if maxBuffer <= 0 {
		maxBuffer = 500
	}
	if subscriberQueueSize <= 0 {
		subscriberQueueSize = maxBuffer
	}
	return &Hub{
		maxBuffer:    maxBuffer,
		subQueueSize: subscriberQueueSize,
		subs:         make(map[uint64]chan Event),
	}
}

// Publish assigns the next eventId, retains the event in the ring buffer, and
// fans it out to every live subscriber without blocking on any of them.
func (h *Hub) Publish(eventType string, data any, eventTs string) Event {
	h.mu.Lock()
	h.nextID++
	ev := Event{Type: eventType, Data: data, EventID: h.nextID, EventTs: eventTs}
	h.buffer = append(h.buffer, ev)
	if len(h.buffer) > h.maxBuffer {
		h.buffer = h.buffer[len(h.buffer)-h.maxBuffer:]
	}
	subs := make([]chan Event, 0, len(h.subs))
	for _, c := range h.subs {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		h.deliverOrDropOldest(c, ev)
	}
	return ev
}

// deliverOrDropOldest implements head-drop: if the subscriber's queue is
// full, the oldest queued event is discarded to make room so live tailing
// keeps moving and the publisher is never blocked.
func (h *Hub) deliverOrDropOldest(c chan Event, ev Event) {
	select {
	case c <- ev:
		return
	default:
	}
	select {
	case <-c:
	default:
	}
	select {
	case c <- ev:
	default:
	}
}

// Subscribe registers a new subscriber and returns its handle. Callers must
// call Unsubscribe when done to release the queue.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSubID++
	id := h.nextSubID
	c := make(chan Event, h.subQueueSize)
	h.subs[id] = c
	return &Subscription{C: c, hub: h, id: id}
}

// Unsubscribe releases a subscriber's queue.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s.id)
}

// Replay returns the retained events with EventID > sinceID, and whether the
// buffer could satisfy the request. When ok is false the buffer no longer
// retains sinceID (it aged out) and the caller must emit a stream.reset
// sentinel instead of any individual events.
func (h *Hub) Replay(sinceID int64) (events []Event, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return nil, sinceID == 0
	}
	oldest := h.buffer[0].EventID
	if sinceID > 0 && sinceID < oldest-1 {
		return nil, false
	}
	out := make([]Event, 0, len(h.buffer))
	for _, ev := range h.buffer {
		if ev.EventID > sinceID {
			out = append(out, ev)
		}
	}
	return out, true
}

// OldestID returns the smallest retained eventId, or 0 if the buffer is empty.
func (h *Hub) OldestID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return 0
	}
	return h.buffer[0].EventID
}

// Encode renders an event as an SSE frame: "id: <id>\ndata: <json>\n\n". A nil
// eventId (used for the stream.reset sentinel) omits the id line.
func Encode(eventID *int64, eventType string, data any) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	if eventID == nil {
		if eventType != "" {
			return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, payload), nil
		}
		return fmt.Sprintf("data: %s\n\n", payload), nil
	}
	if eventType != "" {
		return fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", *eventID, eventType, payload), nil
	}
	return fmt.Sprintf("id: %d\ndata: %s\n\n", *eventID, payload), nil
}
