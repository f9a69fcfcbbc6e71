package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/llmengine"
	"github.com/hearthline/voicegateway/internal/metrics"
)

// Node is a mind-map node (spec.md §3 MindMap).
type Node struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// Edge is a mind-map edge (spec.md §3 MindMap).
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
	Type   string `json:"type,omitempty"`
}

type mindMapDoc struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

var errMindMapStructure = errors.New("mind map failed structural validation")

// MindMapWriter persists a mind-map row (implemented by internal/store.Store).
type MindMapWriter interface {
	CreateMindMap(ctx context.Context, sessionID, nodesJSON, edgesJSON, model string) (int64, error)
}

// MindMapPipeline composes the mind-map prompt, invokes the LLM, repairs
// malformed JSON exactly once, and persists + publishes the result
// (spec.md §4.6).
type MindMapPipeline struct {
	transcripts TranscriptReader
	mindMaps    MindMapWriter
	invoker     llmengine.Invoker
	hub         *bus.Hub
	engine      string
}

// NewMindMapPipeline builds a MindMapPipeline.
func NewMindMapPipeline(transcripts TranscriptReader, mindMaps MindMapWriter, invoker llmengine.Invoker, hub *bus.Hub, engine string) *MindMapPipeline {
	return &MindMapPipeline{transcripts: transcripts, mindMaps: mindMaps, invoker: invoker, hub: hub, engine: engine}
}

// Run executes one mind-map pass for sessionID using model and promptTemplate.
func (p *MindMapPipeline) Run(ctx context.Context, sessionID, model, promptTemplate string) error {
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
	result, err := p.invoker.Invoke(ctx, mindMapSystemPrompt, prompt, model, p.engine)
	if err != nil {
		return p.llmFailure(sessionID, err)
	}

	doc, validateErr := extractAndValidate(result.Text)
	if validateErr != nil {
		metrics.MindMapRepairTotal.Inc()
		repaired, repairErr := p.invoker.Invoke(ctx, mindMapSystemPrompt, repairPrompt(result.Text, validateErr), model, p.engine)
		if repairErr != nil {
			return p.llmFailure(sessionID, repairErr)
		}
		doc, validateErr = extractAndValidate(repaired.Text)
		if validateErr != nil {
			p.hub.Publish(bus.Event{
				Type:      bus.ErrorEvent,
				SessionID: sessionID,
				Timestamp: time.Now().UnixMilli(),
				Payload:   map[string]string{"kind": "InvalidMindMap", "raw": repaired.Text, "message": validateErr.Error()},
			})
			return &InvalidMindMapError{Raw: repaired.Text, Err: validateErr}
		}
	}
	processingTime := time.Since(start).Seconds()

	nodesJSON, err := json.Marshal(doc.Nodes)
	if err != nil {
		return err
	}
	edgesJSON, err := json.Marshal(doc.Edges)
	if err != nil {
		return err
	}

	mapID, err := p.mindMaps.CreateMindMap(ctx, sessionID, string(nodesJSON), string(edgesJSON), model)
	if err != nil {
		return err
	}

	p.hub.Publish(bus.Event{
		Type:      bus.MindMapResult,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Payload: map[string]any{
			"session_id":      sessionID,
			"mind_map_id":     mapID,
			"nodes":           doc.Nodes,
			"edges":           doc.Edges,
			"processing_time": processingTime,
		},
	})
	return nil
}

func (p *MindMapPipeline) llmFailure(sessionID string, err error) error {
	metrics.Errors.WithLabelValues("pipeline", "mind_map_llm").Inc()
	p.hub.Publish(bus.Event{
		Type:      bus.ErrorEvent,
		SessionID: sessionID,
		Timestamp: time.Now().UnixMilli(),
		Payload:   map[string]string{"kind": "LLMFailure", "operation": "mind_map", "message": err.Error()},
	})
	return &LLMFailureError{Kind: "mind_map", Err: err}
}

const mindMapSystemPrompt = "You produce mind maps as strict JSON with shape {\"nodes\":[{\"id\",\"label\",\"type\"}],\"edges\":[{\"id\",\"source\",\"target\",\"label\",\"type\"}]}. Reply with JSON only."

// repairPrompt asks the model to correct raw, quoting the offending output
// via sjson so it is safely embedded as a JSON string value rather than
// interpolated as raw text (spec.md §4.6: "re-invoke the LLM with a repair
// prompt that quotes the offending raw output").
func repairPrompt(raw string, validationErr error) string {
	quoted, err := sjson.Set("{}", "raw", raw)
	if err != nil {
		quoted = `{"raw":""}`
	}
	rawValue := gjson.Get(quoted, "raw").Raw
	return fmt.Sprintf(
		"The following response failed validation (%s). Return corrected JSON only, matching {\"nodes\":[...],\"edges\":[...]}, with no surrounding text:\n\n%s",
		validationErr.Error(), rawValue,
	)
}

// extractAndValidate extracts the largest brace-balanced substring from
// raw, parses it, and validates mind-map structural invariants
// (spec.md §4.6 step 5, §8 invariant 6).
func extractAndValidate(raw string) (mindMapDoc, error) {
	block, ok := largestBraceBalancedBlock(raw)
	if !ok {
		return mindMapDoc{}, fmt.Errorf("%w: no balanced JSON object found", errMindMapStructure)
	}
	if !gjson.Valid(block) {
		return mindMapDoc{}, fmt.Errorf("%w: not valid JSON", errMindMapStructure)
	}

	var doc mindMapDoc
	if err := json.Unmarshal([]byte(block), &doc); err != nil {
		return mindMapDoc{}, fmt.Errorf("%w: %v", errMindMapStructure, err)
	}
	if err := validateMindMap(doc); err != nil {
		return mindMapDoc{}, err
	}
	return doc, nil
}

// validateMindMap checks: every node has non-empty id and label, node ids
// are unique, every edge has a unique id, and source/target resolve to
// node ids in the same map (spec.md §8 invariant 6).
func validateMindMap(doc mindMapDoc) error {
	nodeIDs := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n.ID == "" || n.Label == "" {
			return fmt.Errorf("%w: node missing id or label", errMindMapStructure)
		}
		if _, dup := nodeIDs[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", errMindMapStructure, n.ID)
		}
		nodeIDs[n.ID] = struct{}{}
	}

	edgeIDs := make(map[string]struct{}, len(doc.Edges))
	for _, e := range doc.Edges {
		if e.ID == "" {
			return fmt.Errorf("%w: edge missing id", errMindMapStructure)
		}
		if _, dup := edgeIDs[e.ID]; dup {
			return fmt.Errorf("%w: duplicate edge id %q", errMindMapStructure, e.ID)
		}
		edgeIDs[e.ID] = struct{}{}
		if _, ok := nodeIDs[e.Source]; !ok {
			return fmt.Errorf("%w: edge %q source %q not in node set", errMindMapStructure, e.ID, e.Source)
		}
		if _, ok := nodeIDs[e.Target]; !ok {
			return fmt.Errorf("%w: edge %q target %q not in node set", errMindMapStructure, e.ID, e.Target)
		}
	}
	return nil
}

// largestBraceBalancedBlock scans raw for every top-level brace-balanced
// {...} substring and returns the widest one, tolerating leading/trailing
// text (spec.md §4.6 step 5).
func largestBraceBalancedBlock(raw string) (string, bool) {
	start := -1
	depth := 0
	bestStart, bestEnd := -1, -1
	inString := false
	escaped := false

	for i, r := range raw {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
				inString = false
				escaped = false
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					end := i + 1
					if end-start > bestEnd-bestStart {
						bestStart, bestEnd = start, end
					}
					start = -1
				}
			}
		}
	}

	if bestStart == -1 {
		return "", false
	}
	return raw[bestStart:bestEnd], true
}
