// Package pipeline implements SummaryPipeline and MindMapPipeline: prompt
// composition, LLM invocation, mind-map JSON repair, persistence, and bus
// publication (spec.md §4.5, §4.6).
package pipeline

import "errors"

// ErrNoContent is returned when a session has no transcripts to summarize
// or map (spec.md §4.5 step 1).
var ErrNoContent = errors.New("no transcripts for session")

// LLMFailureError wraps an invoker error for the LLMFailure event
// (spec.md §7).
type LLMFailureError struct {
	Kind string
	Err  error
}

func (e *LLMFailureError) Error() string {
	return "llm failure (" + e.Kind + "): " + e.Err.Error()
}

func (e *LLMFailureError) Unwrap() error { return e.Err }

// InvalidMindMapError is returned when the mind-map response fails
// validation even after the single repair attempt (spec.md §7
// InvalidMindMap). Raw holds the last response for client-side display.
type InvalidMindMapError struct {
	Raw string
	Err error
}

func (e *InvalidMindMapError) Error() string {
	return "invalid mind map: " + e.Err.Error()
}

func (e *InvalidMindMapError) Unwrap() error { return e.Err }
