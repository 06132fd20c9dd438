package entity

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchRunStatsAccounting(t *testing.T) {
	stats := &BatchRunStats{Target: "products", TotalRecords: 120}

	stats.RecordSuccess(50)
	stats.RecordFailure(1, 50, "duplicate key", "23505")
	stats.RecordSuccess(20)

	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.SuccessfulChunks)
	assert.Equal(t, 1, stats.FailedChunks)
	assert.Equal(t, 70, stats.InsertedRecords)
	assert.False(t, stats.Complete())

	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 50, stats.Errors[0].Offset)
	assert.Equal(t, "23505", stats.Errors[0].StoreCode)
}

func TestBatchRunStatsMerge(t *testing.T) {
	total := &BatchRunStats{}
	total.Merge(&BatchRunStats{Target: "invoices", TotalRecords: 100, TotalChunks: 2, SuccessfulChunks: 2, InsertedRecords: 100})
	total.Merge(&BatchRunStats{Target: "invoices", TotalRecords: 50, TotalChunks: 1, FailedChunks: 1, Errors: []ChunkError{{ChunkIndex: 0}}})
	total.Merge(nil)

	assert.Equal(t, "invoices", total.Target)
	assert.Equal(t, 150, total.TotalRecords)
	assert.Equal(t, 3, total.TotalChunks)
	assert.Equal(t, 1, total.FailedChunks)
	assert.Equal(t, 100, total.InsertedRecords)
	assert.Len(t, total.Errors, 1)
}

func TestRunReportFinishStatus(t *testing.T) {
	report := NewRunReport("invoices", uuid.Nil)
	assert.Equal(t, RunStatusRunning, report.Status)

	report.Primary.RecordSuccess(10)
	report.Warn("doctors")
	report.Finish()

	assert.Equal(t, RunStatusComplete, report.Status, "reference warnings alone do not demote a run")
	require.NotNil(t, report.CompletedAt)

	withErrors := NewRunReport("invoices", uuid.Nil)
	withErrors.Secondary.RecordFailure(0, 0, "boom", "")
	withErrors.Finish()
	assert.Equal(t, RunStatusCompleteWithErrors, withErrors.Status)
}

func TestRunReportFail(t *testing.T) {
	report := NewRunReport("invoices", uuid.Nil)
	report.Fail(errors.New("first page unreachable"))

	assert.Equal(t, RunStatusFailed, report.Status)
	assert.Equal(t, "first page unreachable", report.FailureMessage)
	assert.NotNil(t, report.CompletedAt)
}
