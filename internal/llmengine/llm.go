// Package llmengine adapts out-of-process LLM backends to the LLMInvoker
// contract consumed by internal/pipeline: prompt in, completion text out,
// with model selection (spec.md §2 LLMInvoker, §4.5/§4.6).
package llmengine

import (
	"context"
	"time"
)

// Result is a completed LLM invocation.
type Result struct {
	Text      string
	LatencyMs float64
}

// Invoker is the black-box LLM contract: compose a prompt, get a
// completion back for the requested model. Pipelines never stream tokens
// (spec.md §1 Non-goals: "streaming token-by-token LLM output").
type Invoker interface {
	Invoke(ctx context.Context, systemPrompt, userPrompt, model, engine string) (Result, error)
}

// InvokerFunc adapts a function to Invoker, used by tests to supply
// deterministic/fake LLM behavior.
type InvokerFunc func(ctx context.Context, systemPrompt, userPrompt, model, engine string) (Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, systemPrompt, userPrompt, model, engine string) (Result, error) {
	return f(ctx, systemPrompt, userPrompt, model, engine)
}

func timedResult(start time.Time, text string) Result {
	return Result{Text: text, LatencyMs: float64(time.Since(start).Milliseconds())}
}
