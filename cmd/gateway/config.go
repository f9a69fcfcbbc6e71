package main

import (
	"time"

	"github.com/hearthline/voicegateway/internal/env"
)

// config holds deployment knobs loaded from the environment.
type config struct {
	port string

	postgresURL string

	transcriberURL     string
	transcriberTimeout time.Duration
	transcriberPool    int

	ollamaURL       string
	ollamaPool      int
	llmMaxTokens    int
	llmFallback     string
	openaiAPIKey    string
	openaiURL       string
	anthropicAPIKey string
	anthropicURL    string

	intakeHighWaterMark int
	workerIdleTimeout   time.Duration
	pipelinePoolWeight  int64
}

func loadConfig() config {
	return config{
		port: env.Str("GATEWAY_PORT", "8000"),

		postgresURL: env.Str("POSTGRES_URL", ""),

		transcriberURL:     env.Str("TRANSCRIBER_URL", "http://localhost:8080"),
		transcriberTimeout: time.Duration(env.Int("TRANSCRIBER_TIMEOUT_MS", 60000)) * time.Millisecond,
		transcriberPool:    env.Int("TRANSCRIBER_POOL_SIZE", 20),

		ollamaURL:       env.Str("OLLAMA_URL", "http://localhost:11434"),
		ollamaPool:      env.Int("OLLAMA_POOL_SIZE", 20),
		llmMaxTokens:    env.Int("LLM_MAX_TOKENS", 2048),
		llmFallback:     env.Str("LLM_FALLBACK_ENGINE", "ollama"),
		openaiAPIKey:    env.Str("OPENAI_API_KEY", ""),
		openaiURL:       env.Str("OPENAI_URL", "https://api.openai.com"),
		anthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),
		anthropicURL:    env.Str("ANTHROPIC_URL", "https://api.anthropic.com"),

		intakeHighWaterMark: env.Int("INTAKE_HIGH_WATER_MARK", 64),
		workerIdleTimeout:   time.Duration(env.Int("WORKER_IDLE_TIMEOUT_MS", 120000)) * time.Millisecond,
		pipelinePoolWeight:  int64(env.Int("PIPELINE_POOL_WEIGHT", 8)),
	}
}
