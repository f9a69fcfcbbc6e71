package llmengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hearthline/voicegateway/internal/metrics"
)

// OllamaInvoker talks to a local Ollama server's /api/chat endpoint. It is
// registered via AgentInvoker.RegisterRaw to bypass the openai-agents-go
// SDK, mirroring the raw-client escape hatch the teacher uses for
// completions-only backends.
type OllamaInvoker struct {
	url       string
	client    *http.Client
	maxTokens int
}

// NewOllamaInvoker creates an Ollama client pointed at url (e.g.
// "http://localhost:11434").
func NewOllamaInvoker(url string, maxTokens, poolSize int) *OllamaInvoker {
	return &OllamaInvoker{
		url: url,
		client: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        poolSize,
				MaxIdleConnsPerHost: poolSize,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		maxTokens: maxTokens,
	}
}

// Invoke sends a single-turn chat request and accumulates the full
// streamed response, since pipelines need the complete text anyway
// (spec.md Non-goals excludes token-by-token streaming).
func (o *OllamaInvoker) Invoke(ctx context.Context, systemPrompt, userPrompt, model, _ string) (Result, error) {
	start := time.Now()

	reqBody := ollamaRequest{
		Model:  model,
		Stream: true,
		Options: ollamaOptions{
			NumPredict: o.maxTokens,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("llmengine", "http").Inc()
		return Result{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		metrics.Errors.WithLabelValues("llmengine", "status").Inc()
		return Result{}, fmt.Errorf("ollama status %d: %s", resp.StatusCode, body)
	}

	text := consumeStream(resp.Body)
	metrics.StageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())
	return timedResult(start, text), nil
}

func consumeStream(body io.Reader) string {
	var text bytes.Buffer
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaStreamChunk
		if json.Unmarshal(scanner.Bytes(), &chunk) != nil {
			continue
		}
		if chunk.Done {
			break
		}
		text.WriteString(chunk.Message.Content)
	}
	return text.String()
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages []ollamaMessage `json:"messages"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict"`
}

type ollamaStreamChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}
