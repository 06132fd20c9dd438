package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
	"github.com/bgalvandev/clinicsay-migrations/pkg/metrics"
)

// PageStreamer is the slice of the paginated reader the orchestrator
// drives. Satisfied by connectors.PaginatedReader.
type PageStreamer interface {
	StreamPages(ctx context.Context, endpoint string, onPage func(ctx context.Context, page *entity.SourcePage, totalPages int) error) (*entity.TraversalStats, error)
}

// TransformFunc turns one source record into its fan-out group using the
// reconciled dimension mappings. Returning an UnresolvedReferenceError
// drops the record with a warning; any other error aborts the run.
type TransformFunc func(src entity.SourceRecord, dims map[string]*entity.ReconciliationMapping) (*entity.FanOutGroup, error)

// DetailFunc fetches per-item detail for one source record. Detail fetches
// within a page run concurrently with a bounded fan-out; results are
// reassembled in input order before transformation.
type DetailFunc func(ctx context.Context, src entity.SourceRecord) (entity.SourceRecord, error)

// UnresolvedReferenceError reports that a record references a foreign
// entity no dimension mapping could resolve. It is a warning, not a run
// failure: the record is dropped and counted under the dimension's name.
type UnresolvedReferenceError struct {
	Dimension string
	SourceID  string
}

// Error implements the error interface.
func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s reference for source item %s", e.Dimension, e.SourceID)
}

// Dimension is one reference dimension an entity migration depends on
// (e.g. categories, tax types, doctors). Its source and target sets are
// materialized up front and reconciled once per run.
type Dimension struct {
	Name   string
	Policy entity.ReconcilePolicy

	// Source fetches the dimension's collection from the ClinicSay API.
	Source func(ctx context.Context) ([]entity.SourceRecord, error)

	// Target fetches the dimension's already-present rows from the store.
	Target func(ctx context.Context) ([]entity.TargetRecord, error)
}

// EntityMigration declares one entity's migration: where its pages come
// from, which dimensions it needs reconciled, how a source record fans out
// into target records, and where the two phases load.
type EntityMigration struct {
	// Entity names the migration (e.g. "invoices").
	Entity string

	// Endpoint is the source collection endpoint streamed page by page.
	Endpoint string

	// Table receives primary records; SecondaryTable receives the
	// dependent records loaded after id re-query. SecondaryTable may be
	// empty when the entity never fans out.
	Table          string
	SecondaryTable string

	// Dimensions are reconciled before any page is fetched.
	Dimensions []Dimension

	// Transform builds the fan-out group for one source record.
	Transform TransformFunc

	// Detail optionally enriches each record with a per-item fetch.
	Detail DetailFunc

	// TenantID scopes natural-key re-queries.
	TenantID uuid.UUID

	// SkipMigrated drops source items whose natural key already exists in
	// the target table instead of inserting duplicates.
	SkipMigrated bool
}

// OrchestratorConfig tunes the orchestrator.
type OrchestratorConfig struct {
	// DetailConcurrency bounds the per-page detail fetch fan-out.
	DetailConcurrency int
}

// Orchestrator composes reconciliation, streaming fetch, chunked load and
// natural-key re-query into the two-phase linking pattern every entity
// migration follows: reconcile dimensions, stream-transform-load
// primaries, re-query generated ids, rewrite and load secondaries.
type Orchestrator struct {
	reconciler *ReconciliationEngine
	reader     PageStreamer
	loader     *ChunkedLoader
	store      Store
	config     OrchestratorConfig
	registry   *RunRegistry
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(reconciler *ReconciliationEngine, reader PageStreamer, loader *ChunkedLoader, store Store, config OrchestratorConfig, registry *RunRegistry, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if config.DetailConcurrency <= 0 {
		config.DetailConcurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		reconciler: reconciler,
		reader:     reader,
		loader:     loader,
		store:      store,
		config:     config,
		registry:   registry,
		logger:     logger.With(zap.String("component", "orchestrator")),
		metrics:    m,
	}
}

// Run executes one entity migration end to end and returns the run-level
// report. Pages are processed in strict order: each page's loads fully
// complete before the next page is fetched.
func (o *Orchestrator) Run(ctx context.Context, migration *EntityMigration) (*entity.RunReport, error) {
	return o.RunWithID(ctx, migration, uuid.New())
}

// RunWithID is Run with a caller-chosen run id, so a caller that starts
// the run asynchronously can hand out the id before the run begins.
func (o *Orchestrator) RunWithID(ctx context.Context, migration *EntityMigration, runID uuid.UUID) (*entity.RunReport, error) {
	if migration == nil || migration.Transform == nil {
		return nil, fmt.Errorf("migration definition with a transform is required")
	}

	report := entity.NewRunReport(migration.Entity, migration.TenantID)
	report.RunID = runID
	if o.registry != nil {
		o.registry.Started(report.RunID, migration.Entity, migration.TenantID)
	}
	logger := o.logger.With(
		zap.String("entity", migration.Entity),
		zap.String("run_id", report.RunID.String()))
	start := time.Now()

	logger.Info("Migration run starting",
		zap.String("endpoint", migration.Endpoint),
		zap.Int("dimensions", len(migration.Dimensions)))

	dims, err := o.reconcileDimensions(ctx, migration)
	if err != nil {
		report.Fail(err)
		o.publish(report)
		return report, err
	}

	stats, err := o.reader.StreamPages(ctx, migration.Endpoint, func(ctx context.Context, page *entity.SourcePage, totalPages int) error {
		return o.processPage(ctx, migration, dims, page, totalPages, report, logger)
	})
	if stats != nil {
		report.PagesRequested = stats.PagesRequested
		report.PagesFetched = stats.PagesFetched
	}
	if err != nil {
		report.Fail(err)
		o.publish(report)
		return report, err
	}

	report.Finish()
	o.publish(report)
	if o.metrics != nil {
		o.metrics.RunDuration.WithLabelValues(migration.Entity).Observe(time.Since(start).Seconds())
	}

	logger.Info("Migration run finished",
		zap.String("status", string(report.Status)),
		zap.Int("pages_fetched", report.PagesFetched),
		zap.Int("primary_inserted", report.Primary.InsertedRecords),
		zap.Int("secondary_inserted", report.Secondary.InsertedRecords),
		zap.Int("skipped_existing", report.SkippedExisting),
		zap.Any("warnings", report.Warnings))

	return report, nil
}

// reconcileDimensions resolves every reference dimension the entity needs,
// failing fast when a dimension demands completeness and has missing
// entries.
func (o *Orchestrator) reconcileDimensions(ctx context.Context, migration *EntityMigration) (map[string]*entity.ReconciliationMapping, error) {
	dims := make(map[string]*entity.ReconciliationMapping, len(migration.Dimensions))

	for _, dim := range migration.Dimensions {
		source, err := dim.Source(ctx)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: source fetch failed: %w", dim.Name, err)
		}
		target, err := dim.Target(ctx)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: target fetch failed: %w", dim.Name, err)
		}

		mapping, err := o.reconciler.Reconcile(ctx, dim.Name, source, target, dim.Policy)
		if err != nil {
			return nil, fmt.Errorf("dimension %s: reconciliation failed: %w", dim.Name, err)
		}

		if dim.Policy.RequireComplete && !mapping.Complete() {
			return nil, entity.NewMigrationError(entity.MigrationErrorKindValidation,
				"dimension %s has %d unmatched source items under a require-complete policy",
				dim.Name, len(mapping.Missing))
		}

		dims[dim.Name] = mapping
	}

	return dims, nil
}

// processPage runs one page through the full transform-load-link cycle.
func (o *Orchestrator) processPage(ctx context.Context, migration *EntityMigration, dims map[string]*entity.ReconciliationMapping, page *entity.SourcePage, totalPages int, report *entity.RunReport, logger *zap.Logger) error {
	logger.Debug("Processing page",
		zap.Int("page", page.Index),
		zap.Int("total_pages", totalPages),
		zap.Int("records", len(page.Records)))

	records := page.Records
	if migration.Detail != nil {
		enriched, err := o.fetchDetails(ctx, migration, records)
		if err != nil {
			return err
		}
		records = enriched
	}

	// Transform every source record into its fan-out group. Unresolved
	// references drop the record with a warning; anything else aborts.
	groups := make([]*entity.FanOutGroup, 0, len(records))
	for _, src := range records {
		group, err := migration.Transform(src, dims)
		if err != nil {
			var unresolved *UnresolvedReferenceError
			if errors.As(err, &unresolved) {
				report.Warn(unresolved.Dimension)
				logger.Warn("Dropping record with unresolved reference",
					zap.String("dimension", unresolved.Dimension),
					zap.String("source_id", unresolved.SourceID))
				continue
			}
			return fmt.Errorf("transform failed for source item %s: %w", src.SourceID(), err)
		}
		if group == nil {
			report.Warn("transform")
			continue
		}
		groups = append(groups, group)
	}

	if migration.SkipMigrated {
		var err error
		groups, err = o.dropAlreadyMigrated(ctx, migration, groups, report)
		if err != nil {
			return err
		}
	}

	if len(groups) == 0 {
		return nil
	}

	// Phase one: load primaries.
	primaries := make([]entity.TargetRecord, 0, len(groups))
	sourceIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		primaries = append(primaries, group.Primary)
		sourceIDs = append(sourceIDs, group.SourceID)
	}
	report.Primary.Merge(o.loader.LoadAll(ctx, migration.Table, primaries, nil))

	// Re-query generated ids by natural key. A primary absent from the
	// result failed to insert; its secondaries must not be loaded with a
	// garbage reference.
	generated, err := o.store.LookupGeneratedIDs(ctx, migration.Table, sourceIDs, migration.TenantID)
	if err != nil {
		return fmt.Errorf("generated id lookup on %s failed: %w", migration.Table, err)
	}

	// Phase two: rewrite and load secondaries.
	var secondaries []entity.TargetRecord
	for _, group := range groups {
		targetID, ok := generated[group.SourceID]
		if !ok {
			report.Warn("primary")
			logger.Warn("Primary never persisted; dropping dependents",
				zap.String("source_id", group.SourceID),
				zap.Int("dropped_secondaries", len(group.Secondaries)))
			continue
		}
		if err := group.MarkPersisted(targetID); err != nil {
			return err
		}
		linked, err := group.Link()
		if err != nil {
			return err
		}
		secondaries = append(secondaries, linked...)
	}

	if len(secondaries) > 0 {
		table := migration.SecondaryTable
		if table == "" {
			table = migration.Table
		}
		report.Secondary.Merge(o.loader.LoadAll(ctx, table, secondaries, nil))
	}

	return nil
}

// fetchDetails runs the per-item detail fetch for a page with a bounded
// fan-out. The whole batch completes before the page proceeds, and the
// results keep the input order regardless of completion order.
func (o *Orchestrator) fetchDetails(ctx context.Context, migration *EntityMigration, records []entity.SourceRecord) ([]entity.SourceRecord, error) {
	enriched := make([]entity.SourceRecord, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.DetailConcurrency)
	for i, src := range records {
		i, src := i, src
		g.Go(func() error {
			detail, err := migration.Detail(gctx, src)
			if err != nil {
				return fmt.Errorf("detail fetch for source item %s failed: %w", src.SourceID(), err)
			}
			enriched[i] = detail
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return enriched, nil
}

// dropAlreadyMigrated removes groups whose natural key already has a row
// in the target table.
func (o *Orchestrator) dropAlreadyMigrated(ctx context.Context, migration *EntityMigration, groups []*entity.FanOutGroup, report *entity.RunReport) ([]*entity.FanOutGroup, error) {
	sourceIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		sourceIDs = append(sourceIDs, group.SourceID)
	}

	existing, err := o.store.LookupGeneratedIDs(ctx, migration.Table, sourceIDs, migration.TenantID)
	if err != nil {
		return nil, fmt.Errorf("pre-check lookup on %s failed: %w", migration.Table, err)
	}
	if len(existing) == 0 {
		return groups, nil
	}

	kept := groups[:0]
	for _, group := range groups {
		if _, ok := existing[group.SourceID]; ok {
			report.SkippedExisting++
			continue
		}
		kept = append(kept, group)
	}
	return kept, nil
}

func (o *Orchestrator) publish(report *entity.RunReport) {
	if o.registry != nil {
		o.registry.Completed(report)
	}
}
