// Package bus fans out per-session events to subscribed client transports.
package bus

import "sync"

// EventType names the kind of event carried by an Event.
type EventType string

const (
	TranscriptionResult EventType = "transcription_result"
	SessionAnalysis     EventType = "session_analysis"
	MindMapResult       EventType = "mind_map_result"
	ProcessingStatus    EventType = "processing_status"
	ErrorEvent          EventType = "error"
)

// Event is a typed message published to a session's subscribers, delivered
// to connected clients in publication order (spec.md §4.8).
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp int64     `json:"timestamp"`
	Payload   any       `json:"data,omitempty"`
}

// subscriberBuffer is the channel capacity for each subscription. A slow
// consumer drops events rather than blocking the publisher, matching the
// teacher's gpuHub broadcast pattern.
const subscriberBuffer = 32

// Handle is a live subscription returned by Subscribe. Callers must call
// Close when done (on client disconnect) to release the subscriber slot.
type Handle struct {
	ch        chan Event
	sessionID string
	hub       *Hub
}

// C returns the channel the subscriber should range over for delivered events.
func (h *Handle) C() <-chan Event { return h.ch }

// Close unsubscribes and releases the handle. Safe to call more than once.
func (h *Handle) Close() {
	h.hub.unsubscribe(h.sessionID, h)
}

// Hub is a per-session event hub. It owns the set of per-session
// subscribers (spec.md §3 Ownership summary) and delivers events to them in
// publication order.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Handle]struct{}
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subs: make(map[string]map[*Handle]struct{})}
}

// Subscribe registers a new subscriber for sessionID and returns a handle
// the caller ranges over to receive events.
func (h *Hub) Subscribe(sessionID string) *Handle {
	handle := &Handle{ch: make(chan Event, subscriberBuffer), sessionID: sessionID, hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*Handle]struct{})
	}
	h.subs[sessionID][handle] = struct{}{}
	return handle
}

func (h *Hub) unsubscribe(sessionID string, handle *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[handle]; !ok {
		return
	}
	delete(set, handle)
	close(handle.ch)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
}

// Publish delivers ev to every current subscriber of ev.SessionID. Delivery
// is non-blocking per subscriber: a full channel (slow client) drops the
// event rather than stalling the publisher or other subscribers.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for handle := range h.subs[ev.SessionID] {
		select {
		case handle.ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many live subscriptions exist for sessionID.
// Used by tests and diagnostics only.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
