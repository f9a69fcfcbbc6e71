// Package settings resolves effective model/prompt settings per session,
// layering a process-wide temporary override over the persisted profile
// (spec.md §4.7).
package settings

// ModelNone is the reserved sentinel meaning "this pipeline is disabled"
// (spec.md §6 Reserved model sentinel). Comparison is case-sensitive.
const ModelNone = "none"

// Effective is an immutable snapshot returned by Resolver.Resolve. Each
// pipeline invocation resolves exactly once at job start; mid-run settings
// changes never affect an in-flight job (spec.md §4.7 step 3).
type Effective struct {
	WhisperLanguage  string
	WhisperModel     string
	SummaryModel     string
	MindMapModel     string
	SummaryPrompt    string
	MindMapPrompt    string
	FrameLengthMs    int
	FramesPerBatch   int
}

// Disabled reports whether model is the "none" sentinel.
func Disabled(model string) bool {
	return model == ModelNone
}

// Patch is a shallow override over persisted settings. Fields present
// overwrite their counterparts in the base profile; zero-value fields fall
// through (spec.md §3 TemporaryOverride). Pointers distinguish "field not
// present in the patch" from "field explicitly set to the zero value."
type Patch struct {
	WhisperLanguage *string `json:"whisperLanguage,omitempty"`
	WhisperModel    *string `json:"ollamaModel,omitempty"`
	SummaryModel    *string `json:"ollamaSummaryModel,omitempty"`
	MindMapModel    *string `json:"ollamaMindMapModel,omitempty"`
	SummaryPrompt   *string `json:"ollamaTaskPrompt,omitempty"`
	MindMapPrompt   *string `json:"ollamaMindMapPrompt,omitempty"`
}

// IsEmpty reports whether the patch sets no fields.
func (p Patch) IsEmpty() bool {
	return p.WhisperLanguage == nil && p.WhisperModel == nil && p.SummaryModel == nil &&
		p.MindMapModel == nil && p.SummaryPrompt == nil && p.MindMapPrompt == nil
}

func (p Patch) apply(base Effective) Effective {
	out := base
	if p.WhisperLanguage != nil {
		out.WhisperLanguage = *p.WhisperLanguage
	}
	if p.WhisperModel != nil {
		out.WhisperModel = *p.WhisperModel
	}
	if p.SummaryModel != nil {
		out.SummaryModel = *p.SummaryModel
	}
	if p.MindMapModel != nil {
		out.MindMapModel = *p.MindMapModel
	}
	if p.SummaryPrompt != nil {
		out.SummaryPrompt = *p.SummaryPrompt
	}
	if p.MindMapPrompt != nil {
		out.MindMapPrompt = *p.MindMapPrompt
	}
	return out
}
