// Package procstate implements the per-session, per-operation mutual
// exclusion gate described in spec.md §4.3: at most one in-flight LLM
// operation of each kind per session.
package procstate

import (
	"sync"
	"time"

	"github.com/hearthline/voicegateway/internal/metrics"
)

// Kind names a pipeline operation kind. The zero value is invalid.
type Kind string

const (
	Summary Kind = "summary"
	MindMap Kind = "mind_map"
)

type slot struct {
	busy      bool
	startedAt time.Time
}

type sessionSlots struct {
	summary slot
	mindMap slot
}

func (s *sessionSlots) slotFor(kind Kind) *slot {
	if kind == Summary {
		return &s.summary
	}
	return &s.mindMap
}

func (s *sessionSlots) anyBusy() bool {
	return s.summary.busy || s.mindMap.busy
}

// Status is a snapshot of both slots for one session (spec.md §4.3).
type Status struct {
	SummaryBusy        bool
	MindMapBusy        bool
	SummaryStartedAt   *time.Time
	MindMapStartedAt   *time.Time
}

// Manager is the central concurrency gate. A single mutex guards a
// session→slots map; hold duration is O(1) and the lock is never held
// across an LLM call (spec.md §5 Locking discipline).
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*sessionSlots
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{sessions: make(map[string]*sessionSlots)}
}

// TryStart atomically checks that no slot for (sessionID, kind) is busy; if
// free, marks it busy with start time = now and returns true. Otherwise
// returns false without side effects.
func (m *Manager) TryStart(sessionID string, kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		s = &sessionSlots{}
		m.sessions[sessionID] = s
	}
	sl := s.slotFor(kind)
	if sl.busy {
		return false
	}
	sl.busy = true
	sl.startedAt = time.Now()
	metrics.ProcessingSlotsBusy.WithLabelValues(string(kind)).Inc()
	return true
}

// Stop clears the slot for (sessionID, kind). If no slots remain busy for
// the session afterward, the session's state is removed entirely
// (invariant 8 in spec.md §8: no sessions with all slots idle left in the
// map). Safe to call even if the slot was never started.
func (m *Manager) Stop(sessionID string, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	sl := s.slotFor(kind)
	if !sl.busy {
		return
	}
	sl.busy = false
	sl.startedAt = time.Time{}
	metrics.ProcessingSlotsBusy.WithLabelValues(string(kind)).Dec()

	if !s.anyBusy() {
		delete(m.sessions, sessionID)
	}
}

// Release returns a closure that calls Stop exactly once, for use in a
// scoped-release wrapper (spec.md §4.3 invariant 3: stop runs on every exit
// path — success, failure, or cancellation).
func (m *Manager) Release(sessionID string, kind Kind) func() {
	var once sync.Once
	return func() {
		once.Do(func() { m.Stop(sessionID, kind) })
	}
}

// IsBusy reports whether the given kind (or, if kind is empty, any kind) is
// busy for sessionID.
func (m *Manager) IsBusy(sessionID string, kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if kind == "" {
		return s.anyBusy()
	}
	return s.slotFor(kind).busy
}

// Status returns a snapshot of both slots for sessionID.
func (m *Manager) Status(sessionID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Status{}
	}
	st := Status{SummaryBusy: s.summary.busy, MindMapBusy: s.mindMap.busy}
	if s.summary.busy {
		t := s.summary.startedAt
		st.SummaryStartedAt = &t
	}
	if s.mindMap.busy {
		t := s.mindMap.startedAt
		st.MindMapStartedAt = &t
	}
	return st
}

// ActiveSessionCount returns the number of sessions with at least one busy
// slot. Used by tests to assert invariant 8.
func (m *Manager) ActiveSessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
