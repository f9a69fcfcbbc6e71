package transcriptionworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hearthline/voicegateway/internal/audio"
	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/settings"
)

type fakeFrames struct {
	ch     chan audio.FrameUnit
	closed chan struct{}
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{ch: make(chan audio.FrameUnit, 8), closed: make(chan struct{}, 1)}
}

func (f *fakeFrames) Frames(sessionID string) <-chan audio.FrameUnit { return f.ch }
func (f *fakeFrames) Close(sessionID string) {
	select {
	case f.closed <- struct{}{}:
	default:
	}
}

type fakeProfileStore struct{ eff settings.Effective }

func (f fakeProfileStore) LoadSettingsProfile(ctx context.Context) (settings.Effective, error) {
	return f.eff, nil
}

type fakeTranscripts struct {
	mu    sync.Mutex
	seq   int64
	texts []string
}

func (f *fakeTranscripts) CreateTranscript(ctx context.Context, sessionID, text, language, model string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.texts = append(f.texts, text)
	return f.seq, nil
}

func (f *fakeTranscripts) EnsureSession(ctx context.Context, id string) error { return nil }
func (f *fakeTranscripts) TouchSession(ctx context.Context, id string) error  { return nil }

type fakeNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeNotifier) NewTranscript(sessionID string, transcriptID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, transcriptID)
}

func TestPoolProcessesFramesInOrder(t *testing.T) {
	frames := newFakeFrames()
	transcriber := TranscriberFunc(func(ctx context.Context, wavBytes []byte, language, model string) (string, string, error) {
		return string(wavBytes), "en", nil
	})
	store := &fakeTranscripts{}
	notifier := &fakeNotifier{}
	resolver := settings.New(fakeProfileStore{eff: settings.Effective{WhisperLanguage: "en", WhisperModel: "base.en"}})
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	pool := NewPool(frames, transcriber, store, resolver, hub, notifier, time.Hour, nil)
	pool.Ensure("s1")

	frames.ch <- audio.FrameUnit{SessionID: "s1", Bytes: []byte("first")}
	frames.ch <- audio.FrameUnit{SessionID: "s1", Bytes: []byte("second")}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mu.Lock()
		n := len(store.texts)
		store.mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.texts) != 2 || store.texts[0] != "first" || store.texts[1] != "second" {
		t.Fatalf("expected transcripts persisted in arrival order, got %v", store.texts)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.ids) != 2 {
		t.Fatalf("expected a NewTranscript notification per transcript, got %d", len(notifier.ids))
	}
}

func TestPoolEnsureIsIdempotentWhileRunning(t *testing.T) {
	frames := newFakeFrames()
	transcriber := TranscriberFunc(func(ctx context.Context, wavBytes []byte, language, model string) (string, string, error) {
		return "", "en", nil
	})
	resolver := settings.New(fakeProfileStore{eff: settings.Effective{}})
	hub := bus.New()

	pool := NewPool(frames, transcriber, &fakeTranscripts{}, resolver, hub, &fakeNotifier{}, time.Hour, nil)
	pool.Ensure("s1")
	pool.Ensure("s1")

	if len(pool.workers) != 1 {
		t.Fatalf("expected exactly one worker for a repeatedly-ensured session, got %d", len(pool.workers))
	}
}

func TestPoolRetiresOnFrameChannelClose(t *testing.T) {
	frames := newFakeFrames()
	transcriber := TranscriberFunc(func(ctx context.Context, wavBytes []byte, language, model string) (string, string, error) {
		return "", "en", nil
	})
	resolver := settings.New(fakeProfileStore{eff: settings.Effective{}})
	hub := bus.New()

	pool := NewPool(frames, transcriber, &fakeTranscripts{}, resolver, hub, &fakeNotifier{}, time.Hour, nil)
	pool.Ensure("s1")
	close(frames.ch)

	select {
	case <-frames.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the worker to call Frames.Close on channel close")
	}
}

func TestPoolPublishesEmptyTranscriptWithoutPersisting(t *testing.T) {
	frames := newFakeFrames()
	transcriber := TranscriberFunc(func(ctx context.Context, wavBytes []byte, language, model string) (string, string, error) {
		return "   ", "en", nil
	})
	store := &fakeTranscripts{}
	resolver := settings.New(fakeProfileStore{eff: settings.Effective{}})
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	pool := NewPool(frames, transcriber, store, resolver, hub, &fakeNotifier{}, time.Hour, nil)
	pool.Ensure("s1")
	frames.ch <- audio.FrameUnit{SessionID: "s1", Bytes: []byte("silence")}

	var ev *bus.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case e := <-handle.C():
			ev = &e
		default:
		}
		if ev != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if ev == nil || ev.Type != bus.TranscriptionResult {
		t.Fatalf("expected a TranscriptionResult event for blank text, got %+v", ev)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.texts) != 0 {
		t.Fatal("expected no transcript to be persisted for blank text")
	}
}
