package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// RunEntry is one run as seen by the registry. While a run executes only
// its identity and start time are visible; the full report is published
// once, atomically, when the run finishes.
type RunEntry struct {
	RunID     uuid.UUID         `json:"run_id"`
	Entity    string            `json:"entity"`
	TenantID  uuid.UUID         `json:"tenant_id"`
	Status    entity.RunStatus  `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	Report    *entity.RunReport `json:"report,omitempty"`
}

// RunRegistry tracks runs for the lifetime of the process so callers can
// poll a run they triggered. It holds no durable state; restart forgets
// everything, matching the engine's restart-means-re-run policy.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunEntry
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[uuid.UUID]*RunEntry)}
}

// Started records a run as in flight.
func (r *RunRegistry) Started(runID uuid.UUID, entityName string, tenantID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = &RunEntry{
		RunID:     runID,
		Entity:    entityName,
		TenantID:  tenantID,
		Status:    entity.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Completed publishes the final report for a run.
func (r *RunRegistry) Completed(report *entity.RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.runs[report.RunID]
	if !ok {
		entry = &RunEntry{RunID: report.RunID, Entity: report.Entity, TenantID: report.TenantID, StartedAt: report.StartedAt}
		r.runs[report.RunID] = entry
	}
	entry.Status = report.Status
	entry.Report = report
}

// Get returns the entry for a run id.
func (r *RunRegistry) Get(runID uuid.UUID) (*RunEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.runs[runID]
	return entry, ok
}

// List returns all known runs, newest first.
func (r *RunRegistry) List() []*RunEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*RunEntry, 0, len(r.runs))
	for _, entry := range r.runs {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	return entries
}
