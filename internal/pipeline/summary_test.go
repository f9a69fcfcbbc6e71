package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/llmengine"
)

type fakeTranscriptReader struct {
	texts []string
	err   error
}

func (f fakeTranscriptReader) TranscriptTexts(ctx context.Context, sessionID string) ([]string, error) {
	return f.texts, f.err
}

type fakeAnalysisWriter struct {
	lastPrompt, lastResponse, lastModel string
	id                                  int64
	err                                 error
}

func (f *fakeAnalysisWriter) CreateAnalysis(ctx context.Context, sessionID, prompt, response, model string, processingTime float64) (int64, error) {
	f.lastPrompt, f.lastResponse, f.lastModel = prompt, response, model
	return f.id, f.err
}

func drain(handle *bus.Handle) *bus.Event {
	select {
	case ev := <-handle.C():
		return &ev
	default:
		return nil
	}
}

func TestSummaryPipelineRunSuccess(t *testing.T) {
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	writer := &fakeAnalysisWriter{id: 42}
	invoker := llmengine.InvokerFunc(func(ctx context.Context, systemPrompt, userPrompt, model, engine string) (llmengine.Result, error) {
		return llmengine.Result{Text: "a tidy summary"}, nil
	})
	p := NewSummaryPipeline(fakeTranscriptReader{texts: []string{"hello", "world"}}, writer, invoker, hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Summarize: {transcript}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if writer.lastResponse != "a tidy summary" {
		t.Fatalf("expected persisted response, got %q", writer.lastResponse)
	}

	ev := drain(handle)
	if ev == nil || ev.Type != bus.SessionAnalysis {
		t.Fatalf("expected a SessionAnalysis event, got %+v", ev)
	}
}

func TestSummaryPipelineRunNoContent(t *testing.T) {
	hub := bus.New()
	p := NewSummaryPipeline(fakeTranscriptReader{texts: nil}, &fakeAnalysisWriter{}, llmengine.InvokerFunc(nil), hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Summarize: {transcript}")
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestSummaryPipelineRunLLMFailure(t *testing.T) {
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	wantErr := errors.New("backend unreachable")
	invoker := llmengine.InvokerFunc(func(ctx context.Context, systemPrompt, userPrompt, model, engine string) (llmengine.Result, error) {
		return llmengine.Result{}, wantErr
	})
	p := NewSummaryPipeline(fakeTranscriptReader{texts: []string{"hi"}}, &fakeAnalysisWriter{}, invoker, hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Summarize: {transcript}")
	var llmErr *LLMFailureError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected *LLMFailureError, got %v", err)
	}
	if !errors.Is(err, wantErr) {
		t.Fatal("expected wrapped error to unwrap to the invoker error")
	}

	ev := drain(handle)
	if ev == nil || ev.Type != bus.ErrorEvent {
		t.Fatalf("expected an error event, got %+v", ev)
	}
}
