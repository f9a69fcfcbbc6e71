// Package ws implements ClientTransport: one bidirectional WebSocket
// connection per client, forwarding inbound audio to AudioIntake and
// mirroring SessionBus events outbound (spec.md §4.8, §6 Client transport).
package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Intake accepts validated audio bytes addressed to a session.
type Intake interface {
	Enqueue(sessionID string, raw []byte)
}

// Handler upgrades HTTP connections to WebSocket call sessions.
type Handler struct {
	intake   Intake
	hub      *bus.Hub
	worker   SessionEnsurer
	sessions SessionLifecycle
	logger   *slog.Logger
}

// SessionEnsurer starts the per-session transcription worker on first
// contact (implemented by internal/transcriptionworker.Pool).
type SessionEnsurer interface {
	Ensure(sessionID string)
}

// SessionLifecycle maintains the persisted session's active flag
// (implemented by internal/store.Store).
type SessionLifecycle interface {
	EnsureSession(ctx context.Context, id string) error
	EndSession(ctx context.Context, id string) error
}

// NewHandler creates a Handler. logger may be nil to use slog.Default().
func NewHandler(intake Intake, hub *bus.Hub, worker SessionEnsurer, sessions SessionLifecycle, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{intake: intake, hub: hub, worker: worker, sessions: sessions, logger: logger}
}

// envelope is the inbound/outbound text frame shape (spec.md §6).
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type audioChunkData struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId,omitempty"`
}

type statusData struct {
	Action string `json:"action"`
}

// ServeHTTP upgrades the connection and runs the client session. The
// session id, if supplied via the "session_id" query parameter, is reused
// across reconnects so a client resumes live delivery (spec.md §4.8).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	h.runSession(conn, sessionID)
}

func (h *Handler) runSession(conn *websocket.Conn, sessionID string) {
	h.logger.Info("client connected", "session_id", sessionID)
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	handle := h.hub.Subscribe(sessionID)
	defer handle.Close()

	send := newEventSender(conn, h.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range handle.C() {
			send(ev)
		}
	}()

	h.worker.Ensure(sessionID)
	h.readLoop(conn, sessionID)

	handle.Close()
	wg.Wait()
	h.logger.Info("client disconnected", "session_id", sessionID)
}

// readLoop dispatches inbound frames until the connection closes. Frames
// from one connection reach AudioIntake in arrival order (spec.md §5
// Ordering guarantees), since this loop never parallelizes reads.
func (h *Handler) readLoop(conn *websocket.Conn, sessionID string) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(msgType, data, sessionID)
	}
}

func (h *Handler) handleMessage(msgType int, data []byte, sessionID string) {
	switch msgType {
	case websocket.BinaryMessage:
		h.intake.Enqueue(sessionID, data)

	case websocket.TextMessage:
		h.handleTextFrame(data, sessionID)
	}
}

func (h *Handler) handleTextFrame(data []byte, sessionID string) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.logger.Warn("malformed text frame", "session_id", sessionID, "error", err)
		return
	}

	switch env.Type {
	case "audio_chunk":
		h.handleAudioChunk(env, sessionID)
	case "status":
		h.handleStatus(env, sessionID)
	}
}

func (h *Handler) handleAudioChunk(env envelope, sessionID string) {
	var chunk audioChunkData
	if err := json.Unmarshal(env.Data, &chunk); err != nil {
		h.logger.Warn("malformed audio_chunk", "session_id", sessionID, "error", err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		h.logger.Warn("audio_chunk base64 decode failed", "session_id", sessionID, "error", err)
		return
	}
	target := sessionID
	if chunk.SessionID != "" {
		target = chunk.SessionID
	}
	h.intake.Enqueue(target, raw)
}

func (h *Handler) handleStatus(env envelope, sessionID string) {
	var st statusData
	if err := json.Unmarshal(env.Data, &st); err != nil {
		return
	}
	switch st.Action {
	case "start_stream":
		h.worker.Ensure(sessionID)
		if err := h.sessions.EnsureSession(context.Background(), sessionID); err != nil {
			h.logger.Error("ensure session failed", "session_id", sessionID, "error", err)
		}
	case "stop_stream":
		// The live worker is left running until its own idle timeout so a
		// fast stop/start does not thrash goroutines; only the persisted
		// active flag is cleared here.
		if err := h.sessions.EndSession(context.Background(), sessionID); err != nil {
			h.logger.Error("end session failed", "session_id", sessionID, "error", err)
		}
	}
}

// newEventSender serializes outbound writes: gorilla/websocket connections
// are not safe for concurrent writers, and both the bus-forwarding
// goroutine and (in principle) future direct replies share this conn.
func newEventSender(conn *websocket.Conn, logger *slog.Logger) func(bus.Event) {
	var mu sync.Mutex
	return func(ev bus.Event) {
		mu.Lock()
		defer mu.Unlock()

		out := envelope{
			Type:      outboundType(ev.Type),
			Timestamp: ev.Timestamp,
			SessionID: ev.SessionID,
		}
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			logger.Error("marshal event payload", "error", err)
			return
		}
		out.Data = payload

		frame, err := json.Marshal(out)
		if err != nil {
			logger.Error("marshal event envelope", "error", err)
			return
		}
		if err = conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logger.Warn("write event failed", "error", err)
		}
	}
}

func outboundType(t bus.EventType) string {
	switch t {
	case bus.TranscriptionResult:
		return "transcription_result"
	case bus.SessionAnalysis:
		return "session_analysis"
	case bus.MindMapResult:
		return "mind_map_result"
	case bus.ProcessingStatus:
		return "processing_status"
	case bus.ErrorEvent:
		return "error"
	default:
		return string(t)
	}
}
