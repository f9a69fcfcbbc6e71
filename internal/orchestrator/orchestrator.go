// Package orchestrator implements PipelineOrchestrator: on each persisted
// transcript, decide whether to start SummaryPipeline and/or MindMapPipeline
// for a session, bounded by a shared worker pool (spec.md §4.4).
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hearthline/voicegateway/internal/bus"
	"github.com/hearthline/voicegateway/internal/metrics"
	"github.com/hearthline/voicegateway/internal/procstate"
	"github.com/hearthline/voicegateway/internal/settings"
)

// DefaultPoolWeight bounds the number of pipelines running concurrently
// across all sessions.
const DefaultPoolWeight = 8

// Pipeline runs one pass of a pipeline kind for a session.
type Pipeline interface {
	Run(ctx context.Context, sessionID, model, promptTemplate string) error
}

// Orchestrator subscribes to NewTranscript signals and schedules pipeline
// runs, guarded by procstate.Manager (spec.md §4.4).
type Orchestrator struct {
	resolver *settings.Resolver
	procs    *procstate.Manager
	summary  Pipeline
	mindMap  Pipeline
	hub      *bus.Hub
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// New builds an Orchestrator. poolWeight <= 0 uses DefaultPoolWeight.
func New(resolver *settings.Resolver, procs *procstate.Manager, summary, mindMap Pipeline, hub *bus.Hub, poolWeight int64, logger *slog.Logger) *Orchestrator {
	if poolWeight <= 0 {
		poolWeight = DefaultPoolWeight
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		resolver: resolver,
		procs:    procs,
		summary:  summary,
		mindMap:  mindMap,
		hub:      hub,
		sem:      semaphore.NewWeighted(poolWeight),
		logger:   logger,
	}
}

// NewTranscript is the signal TranscriptionWorker posts after persisting a
// non-empty transcript (spec.md §4.2, §4.4). It implements
// transcriptionworker.NewTranscriptNotifier directly.
func (o *Orchestrator) NewTranscript(sessionID string, transcriptID int64) {
	ctx := context.Background()
	eff, err := o.resolver.Resolve(ctx, sessionID)
	if err != nil {
		o.logger.Error("resolve settings failed", "session_id", sessionID, "error", err)
		return
	}

	o.maybeSchedule(ctx, sessionID, procstate.Summary, o.summary, eff.SummaryModel, eff.SummaryPrompt)
	o.maybeSchedule(ctx, sessionID, procstate.MindMap, o.mindMap, eff.MindMapModel, eff.MindMapPrompt)
}

// maybeSchedule implements the per-kind decision in spec.md §4.4: skip if
// disabled, skip (with a ProcessingStatus event) if already busy, otherwise
// run on the bounded pool with a guaranteed scoped release.
func (o *Orchestrator) maybeSchedule(ctx context.Context, sessionID string, kind procstate.Kind, p Pipeline, model, promptTemplate string) {
	if settings.Disabled(model) {
		return
	}

	if !o.procs.TryStart(sessionID, kind) {
		metrics.PipelineSkipped.WithLabelValues(string(kind)).Inc()
		o.hub.Publish(bus.Event{
			Type:      bus.ProcessingStatus,
			SessionID: sessionID,
			Timestamp: time.Now().UnixMilli(),
			Payload:   map[string]string{"kind": string(kind), "status": "skipped_busy"},
		})
		return
	}

	release := o.procs.Release(sessionID, kind)
	go o.run(ctx, sessionID, kind, p, model, promptTemplate, release)
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, kind procstate.Kind, p Pipeline, model, promptTemplate string, release func()) {
	defer release()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.logger.Error("pool acquire failed", "session_id", sessionID, "kind", kind, "error", err)
		return
	}
	defer o.sem.Release(1)

	if err := p.Run(ctx, sessionID, model, promptTemplate); err != nil {
		o.logger.Warn("pipeline run failed", "session_id", sessionID, "kind", kind, "error", err)
	}
}
