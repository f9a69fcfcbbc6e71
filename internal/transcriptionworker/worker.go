// Package transcriptionworker drains per-session audio queues, transcribes
// each frame, persists the result, and publishes it on the session bus
// (spec.md §4.2). One worker runs per session, spawned lazily on the first
// frame and retired after an idle timeout.
package transcriptionworker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hearthline/voicegateway/internal/audio"
	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/metrics"
	"github.com/hearthline/voicegateway/internal/settings"
)

// DefaultIdleTimeout retires a session's worker after this long without a
// new frame (spec.md §9 Design Notes: "the spec adds an idle-timeout
// retirement for transcription workers so dormant sessions do not pin
// goroutines/threads").
const DefaultIdleTimeout = 2 * time.Minute

// Transcriber is the black-box speech-to-text adapter (spec.md §4.2).
// Implemented directly by internal/transcriber.Client, whose Transcribe
// method has this exact shape.
type Transcriber interface {
	Transcribe(ctx context.Context, wavBytes []byte, language, model string) (text, detectedLanguage string, err error)
}

// TranscriberFunc adapts a function to Transcriber, for tests.
type TranscriberFunc func(ctx context.Context, wavBytes []byte, language, model string) (string, string, error)

func (f TranscriberFunc) Transcribe(ctx context.Context, wavBytes []byte, language, model string) (string, string, error) {
	return f(ctx, wavBytes, language, model)
}

// Frames supplies the inbound per-session audio queue (implemented by
// internal/intake.Intake).
type Frames interface {
	Frames(sessionID string) <-chan audio.FrameUnit
	Close(sessionID string)
}

// Transcripts persists transcript rows and maintains the owning session's
// lifecycle (implemented by internal/store.Store).
type Transcripts interface {
	CreateTranscript(ctx context.Context, sessionID, text, language, model string) (int64, error)
	EnsureSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string) error
}

// NewTranscriptNotifier is notified after a non-empty transcript is
// persisted, to trigger PipelineOrchestrator (spec.md §4.2: "the worker
// posts a NewTranscript(session_id, transcript_id) signal").
type NewTranscriptNotifier interface {
	NewTranscript(sessionID string, transcriptID int64)
}

// Pool spawns and retires one worker per session.
type Pool struct {
	frames      Frames
	transcriber Transcriber
	store       Transcripts
	resolver    *settings.Resolver
	hub         *bus.Hub
	notifier    NewTranscriptNotifier
	idleTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

// NewPool creates a Pool. idleTimeout <= 0 uses DefaultIdleTimeout.
func NewPool(frames Frames, transcriber Transcriber, store Transcripts, resolver *settings.Resolver, hub *bus.Hub, notifier NewTranscriptNotifier, idleTimeout time.Duration, logger *slog.Logger) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		frames:      frames,
		transcriber: transcriber,
		store:       store,
		resolver:    resolver,
		hub:         hub,
		notifier:    notifier,
		idleTimeout: idleTimeout,
		logger:      logger,
		workers:     make(map[string]*worker),
	}
}

// Ensure guarantees a worker is running for sessionID, starting one on
// first reference. Subsequent calls are no-ops while the worker is alive.
func (p *Pool) Ensure(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workers[sessionID]; ok {
		return
	}
	w := &worker{
		sessionID: sessionID,
		pool:      p,
		done:      make(chan struct{}),
	}
	p.workers[sessionID] = w
	go w.run()
}

func (p *Pool) retire(sessionID string) {
	p.mu.Lock()
	delete(p.workers, sessionID)
	p.mu.Unlock()
	p.frames.Close(sessionID)
}

type worker struct {
	sessionID string
	pool      *Pool
	done      chan struct{}
}

func (w *worker) run() {
	defer close(w.done)

	p := w.pool
	frames := p.frames.Frames(w.sessionID)
	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				p.retire(w.sessionID)
				return
			}
			w.process(frame)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			p.retire(w.sessionID)
			return
		}
	}
}

func (w *worker) process(frame audio.FrameUnit) {
	p := w.pool
	ctx := context.Background()

	if err := p.store.EnsureSession(ctx, w.sessionID); err != nil {
		p.logger.Error("ensure session failed", "session_id", w.sessionID, "error", err)
		metrics.Errors.WithLabelValues("transcriptionworker", "ensure_session").Inc()
		return
	}
	if err := p.store.TouchSession(ctx, w.sessionID); err != nil {
		p.logger.Warn("touch session failed", "session_id", w.sessionID, "error", err)
		metrics.Errors.WithLabelValues("transcriptionworker", "touch_session").Inc()
	}

	eff, err := p.resolver.Resolve(ctx, w.sessionID)
	if err != nil {
		p.logger.Error("resolve settings failed", "session_id", w.sessionID, "error", err)
		metrics.Errors.WithLabelValues("transcriptionworker", "resolve").Inc()
		return
	}

	start := time.Now()
	text, detectedLanguage, err := p.transcriber.Transcribe(ctx, frame.Bytes, eff.WhisperLanguage, eff.WhisperModel)
	if err != nil {
		p.logger.Warn("transcription failed", "session_id", w.sessionID, "error", err)
		metrics.Errors.WithLabelValues("transcriptionworker", "transcribe").Inc()
		p.hub.Publish(bus.Event{
			Type:      bus.ErrorEvent,
			SessionID: w.sessionID,
			Timestamp: time.Now().UnixMilli(),
			Payload:   map[string]string{"kind": transcriberErrorKind(err), "message": err.Error()},
		})
		return
	}
	metrics.StageDuration.WithLabelValues("transcription").Observe(time.Since(start).Seconds())

	if strings.TrimSpace(text) == "" {
		p.hub.Publish(bus.Event{
			Type:      bus.TranscriptionResult,
			SessionID: w.sessionID,
			Timestamp: time.Now().UnixMilli(),
			Payload: map[string]any{
				"success":  true,
				"text":     "",
				"language": detectedLanguage,
				"model":    eff.WhisperModel,
			},
		})
		return
	}

	transcriptID, err := p.store.CreateTranscript(ctx, w.sessionID, text, detectedLanguage, eff.WhisperModel)
	if err != nil {
		p.logger.Error("persist transcript failed", "session_id", w.sessionID, "error", err)
		metrics.Errors.WithLabelValues("transcriptionworker", "store").Inc()
		return
	}
	metrics.TranscriptsTotal.Inc()

	p.hub.Publish(bus.Event{
		Type:      bus.TranscriptionResult,
		SessionID: w.sessionID,
		Timestamp: time.Now().UnixMilli(),
		Payload: map[string]any{
			"success":       true,
			"text":          text,
			"language":      detectedLanguage,
			"model":         eff.WhisperModel,
			"transcript_id": transcriptID,
		},
	})

	if p.notifier != nil {
		p.notifier.NewTranscript(w.sessionID, transcriptID)
	}
}

// transcriberErrorKind distinguishes the soft-deadline timeout from a
// generic STT failure (spec.md §7: TranscriberTimeout vs TranscriberError).
func transcriberErrorKind(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "TranscriberTimeout"
	}
	return "TranscriberError"
}
