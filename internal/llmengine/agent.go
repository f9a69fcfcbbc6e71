package llmengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hearthline/voicegateway/internal/metrics"
)

// AgentInvoker routes prompts to the correct provider using the
// openai-agents-go SDK, with a registry of raw HTTP clients (e.g. Ollama)
// for engines that bypass the SDK entirely.
type AgentInvoker struct {
	providers map[string]agents.ModelProvider
	raw       map[string]Invoker
	models    map[string]string
	fallback  string
	maxTokens int
}

// NewAgentInvoker creates an AgentInvoker with the given fallback engine.
func NewAgentInvoker(fallback string, maxTokens int) *AgentInvoker {
	return &AgentInvoker{
		providers: make(map[string]agents.ModelProvider),
		raw:       make(map[string]Invoker),
		models:    make(map[string]string),
		fallback:  fallback,
		maxTokens: maxTokens,
	}
}

// Register adds an SDK-backed provider and its default model for engine.
func (a *AgentInvoker) Register(engine string, provider agents.ModelProvider, defaultModel string) {
	a.providers[engine] = provider
	a.models[engine] = defaultModel
}

// RegisterRaw adds a direct Invoker for engine, bypassing the SDK.
func (a *AgentInvoker) RegisterRaw(engine string, inv Invoker, defaultModel string) {
	a.raw[engine] = inv
	a.models[engine] = defaultModel
}

// Has reports whether a backend is registered for engine.
func (a *AgentInvoker) Has(engine string) bool {
	if _, ok := a.providers[engine]; ok {
		return true
	}
	_, ok := a.raw[engine]
	return ok
}

// Engines returns the names of all registered backends.
func (a *AgentInvoker) Engines() []string {
	seen := make(map[string]bool, len(a.providers)+len(a.raw))
	names := make([]string, 0, len(a.providers)+len(a.raw))
	for k := range a.providers {
		seen[k] = true
		names = append(names, k)
	}
	for k := range a.raw {
		if !seen[k] {
			names = append(names, k)
		}
	}
	return names
}

// Invoke resolves engine/model to a provider and runs a single-turn
// completion, implementing Invoker.
func (a *AgentInvoker) Invoke(ctx context.Context, systemPrompt, userPrompt, model, engine string) (Result, error) {
	start := time.Now()

	if raw, ok := a.raw[engine]; ok {
		useModel := model
		if useModel == "" {
			useModel = a.models[engine]
		}
		return raw.Invoke(ctx, systemPrompt, userPrompt, useModel, engine)
	}

	provider, useModel, err := a.resolve(engine, model)
	if err != nil {
		return Result{}, err
	}

	agent := agents.New("voicegateway").
		WithInstructions(systemPrompt).
		WithModel(useModel).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(a.maxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, userPrompt)
	if err != nil {
		metrics.Errors.WithLabelValues("llmengine", "start").Inc()
		return Result{}, fmt.Errorf("llm run start: %w", err)
	}

	var textBuf strings.Builder
	for ev := range events {
		if raw, ok := ev.(agents.RawResponsesStreamEvent); ok && raw.Data.Type == "response.output_text.delta" {
			textBuf.WriteString(raw.Data.Delta)
		}
	}
	if runErr := <-errCh; runErr != nil {
		metrics.Errors.WithLabelValues("llmengine", "run").Inc()
		return Result{}, fmt.Errorf("llm run: %w", runErr)
	}

	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return timedResult(start, textBuf.String()), nil
}

func (a *AgentInvoker) resolve(engine, model string) (agents.ModelProvider, string, error) {
	provider, ok := a.providers[engine]
	if !ok {
		provider, ok = a.providers[a.fallback]
	}
	if !ok {
		return nil, "", fmt.Errorf("no llm provider for engine %q", engine)
	}

	useModel := model
	if useModel == "" {
		useModel = a.models[engine]
	}
	if useModel == "" {
		useModel = a.models[a.fallback]
	}
	return provider, useModel, nil
}
