package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/intake"
	"github.com/hearthline/voicegateway/internal/llmengine"
	"github.com/hearthline/voicegateway/internal/orchestrator"
	"github.com/hearthline/voicegateway/internal/pipeline"
	"github.com/hearthline/voicegateway/internal/procstate"
	"github.com/hearthline/voicegateway/internal/settings"
	"github.com/hearthline/voicegateway/internal/store"
	"github.com/hearthline/voicegateway/internal/transcriber"
	"github.com/hearthline/voicegateway/internal/transcriptionworker"
	"github.com/hearthline/voicegateway/internal/transport/ws"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := loadConfig()

	db, err := store.Open(cfg.postgresURL)
	if err != nil {
		slog.Error("store open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	hub := bus.New()
	in := intake.New(hub, cfg.intakeHighWaterMark)
	procs := procstate.New()
	resolver := settings.New(db)

	transcriberClient := transcriber.New(cfg.transcriberURL, cfg.transcriberTimeout, cfg.transcriberPool)
	invoker := initLLM(cfg)

	summaryPipe := pipeline.NewSummaryPipeline(db, db, invoker, hub, cfg.llmFallback)
	mindMapPipe := pipeline.NewMindMapPipeline(db, db, invoker, hub, cfg.llmFallback)

	orch := orchestrator.New(resolver, procs, summaryPipe, mindMapPipe, hub, cfg.pipelinePoolWeight, slog.Default())

	workerPool := transcriptionworker.NewPool(in, transcriberClient, db, resolver, hub, orch, cfg.workerIdleTimeout, slog.Default())

	wsHandler := ws.NewHandler(in, hub, workerPool, db, slog.Default())

	mux := http.NewServeMux()
	registerRoutes(mux, routeDeps{
		db:        db,
		resolver:  resolver,
		procs:     procs,
		wsHandler: wsHandler,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv)

	slog.Info("gateway starting", "addr", addr)
	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway stopped")
}

func awaitShutdown(srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

func initLLM(cfg config) *llmengine.AgentInvoker {
	inv := llmengine.NewAgentInvoker(cfg.llmFallback, cfg.llmMaxTokens)
	inv.RegisterRaw("ollama", llmengine.NewOllamaInvoker(cfg.ollamaURL, cfg.llmMaxTokens, cfg.ollamaPool), "llama3.1")

	if cfg.openaiAPIKey != "" {
		inv.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.openaiURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.openaiAPIKey),
			UseResponses: param.NewOpt(true),
		}), "gpt-4.1-nano")
	}
	if cfg.anthropicAPIKey != "" {
		inv.Register("anthropic", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(cfg.anthropicURL + "/v1/"),
			APIKey:       param.NewOpt(cfg.anthropicAPIKey),
			UseResponses: param.NewOpt(false),
		}), "claude-sonnet-4-5")
	}
	return inv
}
