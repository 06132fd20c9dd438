package entity

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the user-visible outcome of a migration run.
type RunStatus string

const (
	RunStatusRunning            RunStatus = "running"
	RunStatusComplete           RunStatus = "complete"
	RunStatusCompleteWithErrors RunStatus = "complete_with_errors"
	RunStatusFailed             RunStatus = "failed"
)

// RunReport is the run-level aggregation across all pages of one
// orchestrated entity migration.
type RunReport struct {
	RunID    uuid.UUID `json:"run_id"`
	Entity   string    `json:"entity"`
	TenantID uuid.UUID `json:"tenant_id"`
	Status   RunStatus `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Pagination accounting. PagesRequested counts every page the reader
	// attempted; PagesFetched only those that arrived.
	PagesRequested int `json:"pages_requested"`
	PagesFetched   int `json:"pages_fetched"`

	// Load stats, split by phase.
	Primary   BatchRunStats `json:"primary"`
	Secondary BatchRunStats `json:"secondary"`

	// Warnings counts unresolved references by dimension name, plus the
	// reserved keys "primary" (secondary dropped because its primary never
	// persisted) and "transform" (source item dropped during transform).
	Warnings map[string]int `json:"warnings,omitempty"`

	// SkippedExisting counts source items dropped by the skip-if-migrated
	// pre-check.
	SkippedExisting int `json:"skipped_existing"`

	// FailureMessage is set when the run aborted before completion.
	FailureMessage string `json:"failure_message,omitempty"`
}

// NewRunReport starts accounting for one run.
func NewRunReport(entity string, tenantID uuid.UUID) *RunReport {
	return &RunReport{
		RunID:     uuid.New(),
		Entity:    entity,
		TenantID:  tenantID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
		Warnings:  make(map[string]int),
	}
}

// Warn increments the unresolved-reference counter for a dimension.
func (r *RunReport) Warn(dimension string) {
	r.Warnings[dimension]++
}

// Finish stamps the terminal status. A run is complete only when zero
// chunks failed in either phase; reference warnings alone do not demote it.
func (r *RunReport) Finish() {
	now := time.Now().UTC()
	r.CompletedAt = &now
	if r.Primary.Complete() && r.Secondary.Complete() {
		r.Status = RunStatusComplete
	} else {
		r.Status = RunStatusCompleteWithErrors
	}
}

// Fail stamps the run as aborted.
func (r *RunReport) Fail(err error) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = RunStatusFailed
	if err != nil {
		r.FailureMessage = err.Error()
	}
}
