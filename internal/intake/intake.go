// Package intake validates and enqueues framed audio units per session.
package intake

import (
	"sync"
	"time"

	"github.com/hearthline/voicegateway/internal/audio"
	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/metrics"
)

// DefaultHighWaterMark is the soft queue depth limit per session before the
// oldest queued frame is dropped (spec.md §4.1 Overflow).
const DefaultHighWaterMark = 64

// queueSlack is added to the high-water mark to size the underlying buffered
// channel, so a session queue holds up to highWaterMark+queueSlack frames
// before Enqueue starts evicting the oldest one.
const queueSlack = 1

type sessionQueue struct {
	ch chan audio.FrameUnit
}

// Intake validates inbound audio bytes and fans them into per-session FIFO
// queues. It never blocks the caller (the inbound socket reader): on
// overflow it drops the oldest queued frame rather than waiting.
type Intake struct {
	mu            sync.Mutex
	queues        map[string]*sessionQueue
	hub           *bus.Hub
	highWaterMark int
}

// New creates an Intake publishing InvalidFrame/Overflow events to hub.
// highWaterMark <= 0 uses DefaultHighWaterMark.
func New(hub *bus.Hub, highWaterMark int) *Intake {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Intake{
		queues:        make(map[string]*sessionQueue),
		hub:           hub,
		highWaterMark: highWaterMark,
	}
}

// Enqueue validates raw as a WAV frame for sessionID and enqueues it.
// Malformed frames are rejected and reported via an error event; the
// session is never torn down for a bad frame (spec.md §7).
func (in *Intake) Enqueue(sessionID string, raw []byte) {
	if err := audio.Validate(raw); err != nil {
		metrics.Errors.WithLabelValues("intake", "invalid_frame").Inc()
		in.hub.Publish(bus.Event{
			Type:      bus.ErrorEvent,
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Payload:   map[string]string{"kind": "InvalidFrame", "message": err.Error()},
		})
		return
	}

	frame := audio.FrameUnit{SessionID: sessionID, Bytes: raw, ReceivedAt: time.Now()}
	in.mu.Lock()
	q := in.queueForLocked(sessionID)
	in.send(q, frame)
	in.mu.Unlock()
	metrics.AudioChunks.Inc()
}

// queueForLocked returns the per-session queue, creating it (and thus
// marking the session as having live audio) on first use. Callers must hold
// in.mu; this keeps queue creation/lookup, send, and Close all serialized
// against each other so a send can never race a retiring Close onto a
// closed channel.
func (in *Intake) queueForLocked(sessionID string) *sessionQueue {
	q, ok := in.queues[sessionID]
	if !ok {
		q = &sessionQueue{ch: make(chan audio.FrameUnit, in.highWaterMark+queueSlack)}
		in.queues[sessionID] = q
	}
	return q
}

// send enqueues frame, evicting the oldest queued frame first if the queue
// channel is full (highWaterMark+queueSlack frames). Callers must hold in.mu.
func (in *Intake) send(q *sessionQueue, frame audio.FrameUnit) {
	for {
		select {
		case q.ch <- frame:
			return
		default:
		}
		// Queue full: drop the oldest frame and retry. A concurrent
		// consumer may have drained one already, in which case the next
		// iteration's send succeeds immediately.
		select {
		case dropped := <-q.ch:
			metrics.Errors.WithLabelValues("intake", "overflow").Inc()
			in.hub.Publish(bus.Event{
				Type:      bus.ErrorEvent,
				SessionID: dropped.SessionID,
				Timestamp: time.Now().UnixMilli(),
				Payload:   map[string]string{"kind": "Overflow"},
			})
		default:
			// Consumer drained it between our failed send and this
			// receive; loop back and try the send again.
		}
	}
}

// Frames returns the channel to range over for sessionID's incoming frames,
// creating the queue if this is the first reference (e.g. a worker
// attaching before any frame has arrived yet).
func (in *Intake) Frames(sessionID string) <-chan audio.FrameUnit {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.queueForLocked(sessionID).ch
}

// Close removes and closes the queue for sessionID. Called by the
// TranscriptionWorker on idle-timeout retirement.
func (in *Intake) Close(sessionID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	q, ok := in.queues[sessionID]
	if !ok {
		return
	}
	delete(in.queues, sessionID)
	close(q.ch)
}
