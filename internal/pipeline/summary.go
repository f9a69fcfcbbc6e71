package pipeline

import (
	"context"
	"time"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/llmengine"
	"github.com/hearthline/voicegateway/internal/metrics"
)

// TranscriptReader loads a session's transcript texts, oldest first.
type TranscriptReader interface {
	TranscriptTexts(ctx context.Context, sessionID string) ([]string, error)
}

// AnalysisWriter persists a summary analysis (implemented by
// internal/store.Store).
type AnalysisWriter interface {
	CreateAnalysis(ctx context.Context, sessionID, prompt, response, model string, processingTime float64) (int64, error)
}

// SummaryPipeline composes the summary prompt, invokes the LLM, and
// persists + publishes the resulting Analysis (spec.md §4.5).
type SummaryPipeline struct {
	transcripts TranscriptReader
	analyses    AnalysisWriter
	invoker     llmengine.Invoker
	hub         *bus.Hub
	engine      string
}

// NewSummaryPipeline builds a SummaryPipeline. engine selects the
// llmengine.Invoker backend (e.g. "ollama").
func NewSummaryPipeline(transcripts TranscriptReader, analyses AnalysisWriter, invoker llmengine.Invoker, hub *bus.Hub, engine string) *SummaryPipeline {
	return &SummaryPipeline{transcripts: transcripts, analyses: analyses, invoker: invoker, hub: hub, engine: engine}
}

// Run executes one summary pass for sessionID using model and promptTemplate.
func (p *SummaryPipeline) Run(ctx context.Context, sessionID, model, promptTemplate string) error {
	texts, err := p.transcripts.TranscriptTexts(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return ErrNoContent
	}

	transcript := concatTranscripts(texts)
	prompt := composePrompt(promptTemplate, transcript)

	start := time.Now()
	result, err := p.invoker.Invoke(ctx, "You are a helpful meeting summarizer.", prompt, model, p.engine)
	processingTime := time.Since(start).Seconds()
	if err != nil {
		metrics.Errors.WithLabelValues("pipeline", "summary_llm").Inc()
		p.hub.Publish(bus.Event{
			Type:      bus.ErrorEvent,
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Payload:   map[string]string{"kind": "LLMFailure", "operation": "summary", "message": err.Error()},
		})
		return &LLMFailureError{Kind: "summary", Err: err}
	}

	analysisID, err := p.analyses.CreateAnalysis(ctx, sessionID, prompt, result.Text, model, processingTime)
	if err != nil {
		return err
	}

	p.hub.Publish(bus.Event{
		Type:      bus.SessionAnalysis,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Payload: map[string]any{
			"session_id":      sessionID,
			"analysis_id":     analysisID,
			"processing_time": processingTime,
			"analysis":        result.Text,
		},
	})
	return nil
}
