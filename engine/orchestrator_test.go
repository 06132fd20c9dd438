package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// invoiceTransform is the canonical fan-out shape used across these tests:
// one invoice primary plus one secondary per line, linked by invoice_id.
func invoiceTransform(src entity.SourceRecord, dims map[string]*entity.ReconciliationMapping) (*entity.FanOutGroup, error) {
	doctorID, ok := dims["doctors"].TargetID(src["doctor_id"].(string))
	if !ok {
		return nil, &UnresolvedReferenceError{Dimension: "doctors", SourceID: src.SourceID()}
	}

	primary := entity.TargetRecord{
		"source_id": src.SourceID(),
		"doctor_id": doctorID,
		"total":     src["total"],
	}

	var secondaries []entity.TargetRecord
	if lines, ok := src["lines"].([]interface{}); ok {
		for _, raw := range lines {
			line := raw.(map[string]interface{})
			secondaries = append(secondaries, entity.TargetRecord{
				"invoice_id":  src.SourceID(),
				"description": line["description"],
			})
		}
	}

	return entity.NewFanOutGroup(src.SourceID(), primary, "invoice_id", secondaries...), nil
}

func invoiceMigration() *EntityMigration {
	return &EntityMigration{
		Entity:         "invoices",
		Endpoint:       "/v2/invoices",
		Table:          "invoices",
		SecondaryTable: "invoice_lines",
		Dimensions: []Dimension{
			{
				Name:   "doctors",
				Policy: entity.ReconcilePolicy{RequireComplete: true},
				Source: func(ctx context.Context) ([]entity.SourceRecord, error) {
					return sourceSet("d1"), nil
				},
				Target: func(ctx context.Context) ([]entity.TargetRecord, error) {
					return targetSet("k1"), nil
				},
			},
		},
		Transform: invoiceTransform,
	}
}

func invoiceRecord(id string, lines ...string) entity.SourceRecord {
	rawLines := make([]interface{}, 0, len(lines))
	for _, desc := range lines {
		rawLines = append(rawLines, map[string]interface{}{"description": desc})
	}
	return entity.SourceRecord{
		"id":        id,
		"doctor_id": "d1",
		"total":     100.0,
		"lines":     rawLines,
	}
}

func newTestOrchestrator(t *testing.T, store *fakeStore, streamer *fakeStreamer, oracle *stubOracle) (*Orchestrator, *RunRegistry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reconciler := NewReconciliationEngine(oracle, NewReconciliationCache(), logger, nil)
	loader := NewChunkedLoader(store, LoaderConfig{ChunkSize: 50}, logger, nil)
	registry := NewRunRegistry()
	return NewOrchestrator(reconciler, streamer, loader, store, OrchestratorConfig{}, registry, logger, nil), registry
}

func TestRunFanOutLinksSecondariesToGeneratedIDs(t *testing.T) {
	store := &fakeStore{lookups: []map[string]int64{{"1": 101, "2": 102}}}
	streamer := &fakeStreamer{pages: []*entity.SourcePage{{
		Records: []entity.SourceRecord{
			invoiceRecord("1", "Consulta", "Raio-X"),
			invoiceRecord("2", "Limpeza", "Retorno"),
		},
		Total: 2,
	}}}
	oracle := &stubOracle{result: json.RawMessage(`{"mapper": {"d1": 7}, "missing": []}`)}

	orchestrator, registry := newTestOrchestrator(t, store, streamer, oracle)

	report, err := orchestrator.Run(context.Background(), invoiceMigration())

	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusComplete, report.Status)
	assert.Equal(t, 2, report.Primary.InsertedRecords)
	assert.Equal(t, 4, report.Secondary.InsertedRecords)
	assert.Equal(t, 1, report.PagesFetched)
	assert.Empty(t, report.Warnings)

	calls := store.calls()
	require.Len(t, calls, 2, "one primary chunk then one secondary chunk")
	assert.Contains(t, calls[0].query, `INSERT INTO "invoices"`)
	assert.Contains(t, calls[0].args, int64(7), "primary rows carry the reconciled doctor id")
	assert.Contains(t, calls[1].query, `INSERT INTO "invoice_lines"`)
	assert.Contains(t, calls[1].args, int64(101), "lines of invoice 1 carry its generated id")
	assert.Contains(t, calls[1].args, int64(102), "lines of invoice 2 carry its generated id")
	assert.NotContains(t, calls[1].args, "1", "no line may keep the pending source id reference")

	entry, ok := registry.Get(report.RunID)
	require.True(t, ok)
	assert.Equal(t, entity.RunStatusComplete, entry.Status)
	require.NotNil(t, entry.Report)
	assert.Equal(t, 4, entry.Report.Secondary.InsertedRecords)
}

func TestRunDropsRecordWithUnresolvedReference(t *testing.T) {
	store := &fakeStore{lookups: []map[string]int64{{"1": 101}}}
	unknown := invoiceRecord("2", "Retorno")
	unknown["doctor_id"] = "d-unknown"
	streamer := &fakeStreamer{pages: []*entity.SourcePage{{
		Records: []entity.SourceRecord{invoiceRecord("1", "Consulta"), unknown},
		Total:   2,
	}}}
	oracle := &stubOracle{result: json.RawMessage(`{"mapper": {"d1": 7}, "missing": []}`)}

	orchestrator, _ := newTestOrchestrator(t, store, streamer, oracle)

	report, err := orchestrator.Run(context.Background(), invoiceMigration())

	require.NoError(t, err, "an unresolved reference is a warning, not a run failure")
	assert.Equal(t, entity.RunStatusComplete, report.Status)
	assert.Equal(t, 1, report.Warnings["doctors"])
	assert.Equal(t, 1, report.Primary.InsertedRecords)
	assert.Equal(t, 1, report.Secondary.InsertedRecords)
}

func TestRunDropsSecondariesOfUnpersistedPrimary(t *testing.T) {
	// Invoice 2 never shows up in the natural-key re-query, as if its
	// chunk had failed: its lines must not load with a dangling reference.
	store := &fakeStore{lookups: []map[string]int64{{"1": 101}}}
	streamer := &fakeStreamer{pages: []*entity.SourcePage{{
		Records: []entity.SourceRecord{
			invoiceRecord("1", "Consulta", "Raio-X"),
			invoiceRecord("2", "Limpeza", "Retorno"),
		},
		Total: 2,
	}}}
	oracle := &stubOracle{result: json.RawMessage(`{"mapper": {"d1": 7}, "missing": []}`)}

	orchestrator, _ := newTestOrchestrator(t, store, streamer, oracle)

	report, err := orchestrator.Run(context.Background(), invoiceMigration())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Warnings["primary"])
	assert.Equal(t, 2, report.Secondary.InsertedRecords, "only invoice 1's lines load")

	calls := store.calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[1].args, "2", "no secondary of the dropped primary reaches the store")
}

func TestRunSkipsAlreadyMigratedRecords(t *testing.T) {
	// First lookup is the pre-check (invoice 1 already exists), second is
	// the re-query for what actually loaded.
	store := &fakeStore{lookups: []map[string]int64{{"1": 101}, {"2": 102}}}
	streamer := &fakeStreamer{pages: []*entity.SourcePage{{
		Records: []entity.SourceRecord{
			invoiceRecord("1", "Consulta"),
			invoiceRecord("2", "Limpeza"),
		},
		Total: 2,
	}}}
	oracle := &stubOracle{result: json.RawMessage(`{"mapper": {"d1": 7}, "missing": []}`)}

	orchestrator, _ := newTestOrchestrator(t, store, streamer, oracle)

	migration := invoiceMigration()
	migration.SkipMigrated = true
	report, err := orchestrator.Run(context.Background(), migration)

	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedExisting)
	assert.Equal(t, 1, report.Primary.InsertedRecords)
	assert.Equal(t, 1, report.Secondary.InsertedRecords)
}

func TestRunFailsWhenRequiredDimensionIncomplete(t *testing.T) {
	store := &fakeStore{}
	streamer := &fakeStreamer{}
	oracle := &stubOracle{result: json.RawMessage(`{"mapper": {}, "missing": [{"source_id": "d1"}]}`)}

	orchestrator, registry := newTestOrchestrator(t, store, streamer, oracle)

	report, err := orchestrator.Run(context.Background(), invoiceMigration())

	require.Error(t, err)
	assert.Equal(t, entity.RunStatusFailed, report.Status)
	assert.NotEmpty(t, report.FailureMessage)
	assert.Empty(t, store.calls(), "no page may load when a required dimension is incomplete")

	entry, ok := registry.Get(report.RunID)
	require.True(t, ok)
	assert.Equal(t, entity.RunStatusFailed, entry.Status)
}

func TestRunEnrichesRecordsWithDetailFetch(t *testing.T) {
	store := &fakeStore{lookups: []map[string]int64{{"1": 101, "2": 102}}}
	list := []entity.SourceRecord{
		{"id": "1", "doctor_id": "d1", "total": 50.0},
		{"id": "2", "doctor_id": "d1", "total": 80.0},
	}
	streamer := &fakeStreamer{pages: []*entity.SourcePage{{Records: list, Total: 2}}}
	oracle := &stubOracle{result: json.RawMessage(`{"mapper": {"d1": 7}, "missing": []}`)}

	orchestrator, _ := newTestOrchestrator(t, store, streamer, oracle)

	migration := invoiceMigration()
	migration.Detail = func(ctx context.Context, src entity.SourceRecord) (entity.SourceRecord, error) {
		enriched := entity.SourceRecord{}
		for k, v := range src {
			enriched[k] = v
		}
		enriched["lines"] = []interface{}{
			map[string]interface{}{"description": "line of " + src.SourceID()},
		}
		return enriched, nil
	}

	report, err := orchestrator.Run(context.Background(), migration)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Primary.InsertedRecords)
	assert.Equal(t, 2, report.Secondary.InsertedRecords, "lines only exist through detail enrichment")

	calls := store.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].args, "line of 1")
	assert.Contains(t, calls[1].args, "line of 2")
}

func TestRunRejectsMigrationWithoutTransform(t *testing.T) {
	orchestrator, _ := newTestOrchestrator(t, &fakeStore{}, &fakeStreamer{}, &stubOracle{})

	_, err := orchestrator.Run(context.Background(), &EntityMigration{Entity: "broken"})
	require.Error(t, err)

	_, err = orchestrator.Run(context.Background(), nil)
	require.Error(t, err)
}
