package settings

import (
	"context"
	"sync"
	"sync/atomic"
)

// ProfileStore loads the persisted singleton settings profile. Implemented
// by internal/store.Store; kept as a narrow interface here so Resolver can
// be tested without a database (spec.md §4.7 step 1).
type ProfileStore interface {
	LoadSettingsProfile(ctx context.Context) (Effective, error)
}

// Resolver resolves per-session effective settings by applying the
// process-wide TemporaryOverride over the persisted profile. Writes to the
// override serialize through a single mutex; reads are lock-free snapshots
// via copy-on-write (spec.md §4.7, §5 Shared resources).
type Resolver struct {
	store    ProfileStore
	writeMu  sync.Mutex
	override atomic.Pointer[Patch]
}

// New creates a Resolver with no override set.
func New(store ProfileStore) *Resolver {
	r := &Resolver{store: store}
	r.override.Store(&Patch{})
	return r
}

// Resolve loads the persisted profile and applies the current override
// snapshot, returning an immutable Effective settings value. The override
// read here is a single atomic load: a concurrent Set cannot partially
// affect this resolution (spec.md §8 invariant 5, Settings isolation).
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (Effective, error) {
	base, err := r.store.LoadSettingsProfile(ctx)
	if err != nil {
		return Effective{}, err
	}
	patch := r.override.Load()
	return patch.apply(base), nil
}

// Set applies patch over the current override, field-wise (fields present
// in patch replace their counterparts; absent fields keep the existing
// override value). Concurrent Set calls serialize via writeMu; the
// replacement of the atomic pointer is then visible to all readers
// atomically.
func (r *Resolver) Set(patch Patch) Patch {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := *r.override.Load()
	merged := mergePatch(current, patch)
	r.override.Store(&merged)
	return merged
}

// Get returns the current override (may be empty).
func (r *Resolver) Get() Patch {
	return *r.override.Load()
}

// Clear removes the current override.
func (r *Resolver) Clear() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.override.Store(&Patch{})
}

func mergePatch(current, incoming Patch) Patch {
	merged := current
	if incoming.WhisperLanguage != nil {
		merged.WhisperLanguage = incoming.WhisperLanguage
	}
	if incoming.WhisperModel != nil {
		merged.WhisperModel = incoming.WhisperModel
	}
	if incoming.SummaryModel != nil {
		merged.SummaryModel = incoming.SummaryModel
	}
	if incoming.MindMapModel != nil {
		merged.MindMapModel = incoming.MindMapModel
	}
	if incoming.SummaryPrompt != nil {
		merged.SummaryPrompt = incoming.SummaryPrompt
	}
	if incoming.MindMapPrompt != nil {
		merged.MindMapPrompt = incoming.MindMapPrompt
	}
	return merged
}
