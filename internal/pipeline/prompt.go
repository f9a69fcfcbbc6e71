package pipeline

import "strings"

// transcriptMarker is the literal placeholder substituted with the
// concatenated transcript text (spec.md §4.5 step 3).
const transcriptMarker = "{transcript}"

// concatTranscripts joins transcript texts with single-space separators
// (spec.md §4.5 step 2).
func concatTranscripts(texts []string) string {
	return strings.Join(texts, " ")
}

// composePrompt substitutes transcript for the {transcript} marker in
// template. If the marker is absent, transcript is appended on a new line
// (spec.md §4.5 step 3).
func composePrompt(template, transcript string) string {
	if strings.Contains(template, transcriptMarker) {
		return strings.ReplaceAll(template, transcriptMarker, transcript)
	}
	return template + "\n" + transcript
}
