package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthline/voicegateway/internal/procstate"
	"github.com/hearthline/voicegateway/internal/settings"
	"github.com/hearthline/voicegateway/internal/store"
)

const defaultListLimit = 50

// routeDeps holds the shared backends HTTP handlers need.
type routeDeps struct {
	db        *store.Store
	resolver  *settings.Resolver
	procs     *procstate.Manager
	wsHandler http.Handler
}

// registerRoutes wires the HTTP surface: the WebSocket upgrade, the
// settings override API (spec.md §6), the processing-status query, and
// supplemental session/transcript/analysis/mind-map read endpoints
// (spec.md §1: "database CRUD for listing sessions... is glue", carried
// here as the minimal read surface the gateway itself needs to serve).
func registerRoutes(mux *http.ServeMux, d routeDeps) {
	mux.Handle("/ws/stream", d.wsHandler)
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /settings/apply-temporary", d.handleApplyTemporary)
	mux.HandleFunc("GET /settings/temporary-settings", d.handleGetTemporarySettings)
	mux.HandleFunc("DELETE /settings/temporary-settings", d.handleClearTemporarySettings)

	mux.HandleFunc("GET /processing-status/{session_id}", d.handleProcessingStatus)

	mux.HandleFunc("GET /api/sessions", d.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{session_id}/transcripts", d.handleListTranscripts)
	mux.HandleFunc("GET /api/sessions/{session_id}/analyses", d.handleListAnalyses)
	mux.HandleFunc("GET /api/sessions/{session_id}/mind-maps", d.handleListMindMaps)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d routeDeps) handleApplyTemporary(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	d.resolver.Set(patch)

	eff, err := d.resolver.Resolve(r.Context(), "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func (d routeDeps) handleGetTemporarySettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.resolver.Get())
}

func (d routeDeps) handleClearTemporarySettings(w http.ResponseWriter, _ *http.Request) {
	d.resolver.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (d routeDeps) handleProcessingStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	st := d.procs.Status(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"summary_processing":   st.SummaryBusy,
		"mind_map_processing":  st.MindMapBusy,
		"any_processing":       st.SummaryBusy || st.MindMapBusy,
		"summary_start_time":   st.SummaryStartedAt,
		"mind_map_start_time":  st.MindMapStartedAt,
	})
}

func (d routeDeps) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	sessions, err := d.db.ListSessions(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (d routeDeps) handleListTranscripts(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit, offset := pageParams(r)
	transcripts, err := d.db.ListTranscripts(r.Context(), sessionID, limit, offset)
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": transcripts})
}

func (d routeDeps) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit, offset := pageParams(r)
	analyses, err := d.db.ListAnalyses(r.Context(), sessionID, limit, offset)
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": analyses})
}

func (d routeDeps) handleListMindMaps(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	limit, offset := pageParams(r)
	mindMaps, err := d.db.ListMindMaps(r.Context(), sessionID, limit, offset)
	if err != nil {
		writeSessionErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mind_maps": mindMaps})
}

func writeSessionErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pageParams(r *http.Request) (limit, offset int) {
	limit = queryInt(r, "limit", defaultListLimit)
	offset = queryInt(r, "offset", 0)
	return limit, offset
}

func queryInt(r *http.Request, key string, fallback int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
