package procstate

import "testing"

func TestTryStartMutualExclusion(t *testing.T) {
	m := New()

	if !m.TryStart("s1", Summary) {
		t.Fatal("first TryStart should succeed")
	}
	if m.TryStart("s1", Summary) {
		t.Fatal("second TryStart for the same (session, kind) should fail while busy")
	}
}

func TestTryStartIndependentKinds(t *testing.T) {
	m := New()

	if !m.TryStart("s1", Summary) {
		t.Fatal("summary TryStart should succeed")
	}
	if !m.TryStart("s1", MindMap) {
		t.Fatal("mind_map TryStart should succeed independently of summary")
	}
}

func TestStopReleasesSlot(t *testing.T) {
	m := New()

	m.TryStart("s1", Summary)
	m.Stop("s1", Summary)

	if !m.TryStart("s1", Summary) {
		t.Fatal("TryStart should succeed again after Stop")
	}
}

func TestStopRemovesIdleSession(t *testing.T) {
	m := New()

	m.TryStart("s1", Summary)
	m.TryStart("s1", MindMap)
	m.Stop("s1", Summary)

	if m.ActiveSessionCount() != 1 {
		t.Fatalf("expected session to remain active with one busy slot, got count %d", m.ActiveSessionCount())
	}

	m.Stop("s1", MindMap)
	if m.ActiveSessionCount() != 0 {
		t.Fatalf("expected session to be removed once all slots are idle, got count %d", m.ActiveSessionCount())
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New()
	m.TryStart("s1", Summary)

	release := m.Release("s1", Summary)
	release()
	release()

	if !m.TryStart("s1", Summary) {
		t.Fatal("slot should be free after release, even after calling release twice")
	}
}

func TestStatusReportsStartedAt(t *testing.T) {
	m := New()
	m.TryStart("s1", Summary)

	st := m.Status("s1")
	if !st.SummaryBusy {
		t.Fatal("expected SummaryBusy true")
	}
	if st.SummaryStartedAt == nil {
		t.Fatal("expected SummaryStartedAt to be set")
	}
	if st.MindMapBusy {
		t.Fatal("expected MindMapBusy false")
	}
	if st.MindMapStartedAt != nil {
		t.Fatal("expected MindMapStartedAt nil")
	}
}

func TestIsBusyAnyKind(t *testing.T) {
	m := New()
	if m.IsBusy("s1", "") {
		t.Fatal("unknown session should not be busy")
	}
	m.TryStart("s1", MindMap)
	if !m.IsBusy("s1", "") {
		t.Fatal("expected IsBusy with empty kind to report true when any slot is busy")
	}
}
