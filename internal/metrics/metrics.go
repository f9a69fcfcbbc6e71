// Package metrics exposes the Prometheus instruments shared across the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_audio_chunks_received_total",
		Help: "Total audio chunks accepted by AudioIntake",
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by component and kind",
	}, []string{"component", "kind"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency (transcription, llm)",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stage"})

	ProcessingSlotsBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_processing_slots_busy",
		Help: "Number of busy processing slots of each kind, across all sessions",
	}, []string{"kind"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently open client transport connections",
	})

	TranscriptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_transcripts_total",
		Help: "Total non-empty transcripts persisted",
	})

	PipelineSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_pipeline_skipped_total",
		Help: "Pipeline runs skipped because a slot was already busy",
	}, []string{"kind"})

	MindMapRepairTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_mind_map_repair_total",
		Help: "Mind-map JSON repair attempts",
	})
)
