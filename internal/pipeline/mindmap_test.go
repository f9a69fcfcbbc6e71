package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/llmengine"
)

type fakeMindMapWriter struct {
	nodesJSON, edgesJSON, model string
	id                          int64
	err                         error
}

func (f *fakeMindMapWriter) CreateMindMap(ctx context.Context, sessionID, nodesJSON, edgesJSON, model string) (int64, error) {
	f.nodesJSON, f.edgesJSON, f.model = nodesJSON, edgesJSON, model
	return f.id, f.err
}

func TestMindMapPipelineRunSuccess(t *testing.T) {
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	writer := &fakeMindMapWriter{id: 7}
	invoker := llmengine.InvokerFunc(func(ctx context.Context, systemPrompt, userPrompt, model, engine string) (llmengine.Result, error) {
		return llmengine.Result{Text: `{"nodes":[{"id":"n1","label":"Topic"}],"edges":[]}`}, nil
	})
	p := NewMindMapPipeline(fakeTranscriptReader{texts: []string{"hi"}}, writer, invoker, hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Map: {transcript}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if writer.nodesJSON == "" {
		t.Fatal("expected nodes JSON to be persisted")
	}

	ev := drain(handle)
	if ev == nil || ev.Type != bus.MindMapResult {
		t.Fatalf("expected a MindMapResult event, got %+v", ev)
	}
}

func TestMindMapPipelineRunRepairsMalformedJSONOnce(t *testing.T) {
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	writer := &fakeMindMapWriter{}
	invokeCount := 0
	invoker := llmengine.InvokerFunc(func(ctx context.Context, systemPrompt, userPrompt, model, engine string) (llmengine.Result, error) {
		invokeCount++
		if invokeCount == 1 {
			return llmengine.Result{Text: "not json at all"}, nil
		}
		return llmengine.Result{Text: `{"nodes":[{"id":"n1","label":"Topic"}],"edges":[]}`}, nil
	})
	p := NewMindMapPipeline(fakeTranscriptReader{texts: []string{"hi"}}, writer, invoker, hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Map: {transcript}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invokeCount != 2 {
		t.Fatalf("expected exactly 2 LLM invocations (initial + one repair), got %d", invokeCount)
	}

	ev := drain(handle)
	if ev == nil || ev.Type != bus.MindMapResult {
		t.Fatalf("expected a MindMapResult event after repair, got %+v", ev)
	}
}

func TestMindMapPipelineRunGivesUpAfterOneFailedRepair(t *testing.T) {
	hub := bus.New()
	handle := hub.Subscribe("s1")
	defer handle.Close()

	invokeCount := 0
	invoker := llmengine.InvokerFunc(func(ctx context.Context, systemPrompt, userPrompt, model, engine string) (llmengine.Result, error) {
		invokeCount++
		return llmengine.Result{Text: "still not json"}, nil
	})
	p := NewMindMapPipeline(fakeTranscriptReader{texts: []string{"hi"}}, &fakeMindMapWriter{}, invoker, hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Map: {transcript}")
	var invalidErr *InvalidMindMapError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected *InvalidMindMapError, got %v", err)
	}
	if invokeCount != 2 {
		t.Fatalf("expected exactly 2 LLM invocations total (no further retries), got %d", invokeCount)
	}

	ev := drain(handle)
	if ev == nil || ev.Type != bus.ErrorEvent {
		t.Fatalf("expected an error event, got %+v", ev)
	}
}

func TestMindMapPipelineRunNoContent(t *testing.T) {
	hub := bus.New()
	p := NewMindMapPipeline(fakeTranscriptReader{texts: nil}, &fakeMindMapWriter{}, llmengine.InvokerFunc(nil), hub, "ollama")

	err := p.Run(context.Background(), "s1", "llama3.1", "Map: {transcript}")
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}
