package pipeline

import (
	"errors"
	"testing"
)

func TestExtractAndValidateWellFormed(t *testing.T) {
	raw := `here is your mind map:
{"nodes":[{"id":"n1","label":"Topic"},{"id":"n2","label":"Detail"}],"edges":[{"id":"e1","source":"n1","target":"n2"}]}
thanks!`

	doc, err := extractAndValidate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Nodes) != 2 || len(doc.Edges) != 1 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestExtractAndValidateNoBalancedBlock(t *testing.T) {
	_, err := extractAndValidate("not json at all {")
	if !errors.Is(err, errMindMapStructure) {
		t.Fatalf("expected errMindMapStructure, got %v", err)
	}
}

func TestValidateMindMapDuplicateNodeID(t *testing.T) {
	doc := mindMapDoc{Nodes: []Node{{ID: "n1", Label: "a"}, {ID: "n1", Label: "b"}}}
	err := validateMindMap(doc)
	if !errors.Is(err, errMindMapStructure) {
		t.Fatalf("expected duplicate node id to fail validation, got %v", err)
	}
}

func TestValidateMindMapDanglingEdge(t *testing.T) {
	doc := mindMapDoc{
		Nodes: []Node{{ID: "n1", Label: "a"}},
		Edges: []Edge{{ID: "e1", Source: "n1", Target: "does-not-exist"}},
	}
	err := validateMindMap(doc)
	if !errors.Is(err, errMindMapStructure) {
		t.Fatalf("expected dangling edge target to fail validation, got %v", err)
	}
}

func TestValidateMindMapMissingLabel(t *testing.T) {
	doc := mindMapDoc{Nodes: []Node{{ID: "n1", Label: ""}}}
	err := validateMindMap(doc)
	if !errors.Is(err, errMindMapStructure) {
		t.Fatalf("expected missing label to fail validation, got %v", err)
	}
}

func TestValidateMindMapValid(t *testing.T) {
	doc := mindMapDoc{
		Nodes: []Node{{ID: "n1", Label: "a"}, {ID: "n2", Label: "b"}},
		Edges: []Edge{{ID: "e1", Source: "n1", Target: "n2"}},
	}
	if err := validateMindMap(doc); err != nil {
		t.Fatalf("expected valid doc, got error: %v", err)
	}
}

func TestLargestBraceBalancedBlockPicksWidest(t *testing.T) {
	raw := `{"a":1} preamble {"nodes":[{"id":"n1","label":"x"}],"edges":[]}`
	block, ok := largestBraceBalancedBlock(raw)
	if !ok {
		t.Fatal("expected a balanced block")
	}
	if block != `{"nodes":[{"id":"n1","label":"x"}],"edges":[]}` {
		t.Fatalf("expected the widest balanced block, got %q", block)
	}
}

func TestLargestBraceBalancedBlockIgnoresBracesInStrings(t *testing.T) {
	raw := `{"label":"contains } a brace", "id":"n1"}`
	block, ok := largestBraceBalancedBlock(raw)
	if !ok {
		t.Fatal("expected a balanced block")
	}
	if block != raw {
		t.Fatalf("expected whole string as the block, got %q", block)
	}
}

func TestRepairPromptQuotesRawSafely(t *testing.T) {
	raw := `{"broken": "unterminated string`
	prompt := repairPrompt(raw, errMindMapStructure)
	if prompt == "" {
		t.Fatal("expected non-empty repair prompt")
	}
}
