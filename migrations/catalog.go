// Package migrations declares the concrete ClinicSay entity migrations
// the service knows how to run. Each definition binds the generic
// orchestration pattern to one entity: its source endpoint, the reference
// dimensions it needs reconciled, and how a source item fans out into
// target rows.
package migrations

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bgalvandev/clinicsay-migrations/connectors"
	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
	"github.com/bgalvandev/clinicsay-migrations/engine"
)

// Deps carries the collaborators the entity definitions close over.
type Deps struct {
	Reader    *connectors.PaginatedReader
	Transport connectors.TransportClient
	DB        *sqlx.DB

	TenantID     uuid.UUID
	SkipMigrated bool
}

// Catalog returns the registered entity migrations keyed by entity name.
func Catalog(deps *Deps) map[string]*engine.EntityMigration {
	return map[string]*engine.EntityMigration{
		"products": Products(deps),
		"invoices": Invoices(deps),
	}
}

// Products migrates the product catalog. Products reference two
// dimensions: categories (duplicates on the source side are expected, so
// many source categories may collapse onto one local category) and tax
// types (must reconcile completely - a product without a valid tax type
// cannot be billed).
func Products(deps *Deps) *engine.EntityMigration {
	taxContext := map[string]map[string]int64{}

	return &engine.EntityMigration{
		Entity:       "products",
		Endpoint:     "/v2/products",
		Table:        "products",
		TenantID:     deps.TenantID,
		SkipMigrated: deps.SkipMigrated,
		Dimensions: []engine.Dimension{
			{
				Name: "categories",
				Policy: entity.ReconcilePolicy{
					Cardinality:  entity.CardinalityManyToOne,
					Instructions: "Match product categories by name, tolerating accents, casing and pluralization differences.",
				},
				Source: sourceCollection(deps, "/v2/product-categories"),
				Target: targetRows(deps, "SELECT id, source_id, name FROM product_categories WHERE tenant_id = $1"),
			},
			{
				Name: "tax_types",
				Policy: entity.ReconcilePolicy{
					Cardinality:     entity.CardinalityOneToOne,
					RequireComplete: true,
					Context:         taxContext,
					Instructions:    "Match tax types by rate and legal name.",
				},
				Source: sourceCollection(deps, "/v2/tax-types"),
				Target: targetRows(deps, "SELECT id, source_id, name, rate FROM tax_types WHERE tenant_id = $1"),
			},
		},
		Transform: func(src entity.SourceRecord, dims map[string]*entity.ReconciliationMapping) (*entity.FanOutGroup, error) {
			sourceID := src.SourceID()

			categoryID, err := dimensionID(dims, "categories", asString(src["category_id"]), sourceID)
			if err != nil {
				return nil, err
			}
			taxTypeID, err := dimensionID(dims, "tax_types", asString(src["tax_type_id"]), sourceID)
			if err != nil {
				return nil, err
			}

			primary := entity.TargetRecord{
				"source_id":   sourceID,
				"tenant_id":   deps.TenantID,
				"name":        src["name"],
				"description": src["description"],
				"price":       src["price"],
				"category_id": categoryID,
				"tax_type_id": taxTypeID,
			}
			return entity.NewFanOutGroup(sourceID, primary, ""), nil
		},
	}
}

// Invoices migrates invoices with their line items: the classic fan-out.
// The invoice row is the primary; each line becomes a secondary row whose
// invoice_id is rewritten once the invoice's generated id is known. Lines
// only arrive on the per-invoice detail endpoint, so every page runs a
// bounded batch of detail fetches first.
func Invoices(deps *Deps) *engine.EntityMigration {
	return &engine.EntityMigration{
		Entity:         "invoices",
		Endpoint:       "/v2/invoices",
		Table:          "invoices",
		SecondaryTable: "invoice_lines",
		TenantID:       deps.TenantID,
		SkipMigrated:   deps.SkipMigrated,
		Dimensions: []engine.Dimension{
			{
				Name: "doctors",
				Policy: entity.ReconcilePolicy{
					Cardinality:     entity.CardinalityOneToOne,
					RequireComplete: true,
					Instructions:    "Match doctors by full name and license number; never merge distinct practitioners.",
				},
				Source: sourceCollection(deps, "/v2/doctors"),
				Target: targetRows(deps, "SELECT id, source_id, full_name, license FROM doctors WHERE tenant_id = $1"),
			},
		},
		Detail: func(ctx context.Context, src entity.SourceRecord) (entity.SourceRecord, error) {
			resp, err := deps.Transport.Get(ctx, fmt.Sprintf("/v2/invoices/%s", src.SourceID()), nil)
			if err != nil {
				return nil, err
			}
			if !resp.Success {
				return nil, entity.NewMigrationError(entity.MigrationErrorKindTransport,
					"invoice detail for %s returned status %d", src.SourceID(), resp.StatusCode)
			}
			detail, err := decodeRecord(resp.Body)
			if err != nil {
				return nil, err
			}
			// The list payload stays authoritative; detail only adds the
			// fields the list omits (notably lines).
			merged := make(entity.SourceRecord, len(src)+len(detail))
			for k, v := range detail {
				merged[k] = v
			}
			for k, v := range src {
				merged[k] = v
			}
			return merged, nil
		},
		Transform: func(src entity.SourceRecord, dims map[string]*entity.ReconciliationMapping) (*entity.FanOutGroup, error) {
			sourceID := src.SourceID()

			doctorID, err := dimensionID(dims, "doctors", asString(src["doctor_id"]), sourceID)
			if err != nil {
				return nil, err
			}

			primary := entity.TargetRecord{
				"source_id": sourceID,
				"tenant_id": deps.TenantID,
				"number":    src["number"],
				"issued_on": src["date"],
				"doctor_id": doctorID,
				"total":     src["total"],
			}

			var secondaries []entity.TargetRecord
			if lines, ok := src["lines"].([]interface{}); ok {
				for _, raw := range lines {
					line, ok := raw.(map[string]interface{})
					if !ok {
						continue
					}
					secondaries = append(secondaries, entity.TargetRecord{
						"source_id":   sourceID,
						"tenant_id":   deps.TenantID,
						"invoice_id":  sourceID, // rewritten after the primary persists
						"description": line["description"],
						"quantity":    line["quantity"],
						"amount":      line["amount"],
					})
				}
			}

			return entity.NewFanOutGroup(sourceID, primary, "invoice_id", secondaries...), nil
		},
	}
}

// sourceCollection materializes a dimension's source set via the reader.
func sourceCollection(deps *Deps, endpoint string) func(ctx context.Context) ([]entity.SourceRecord, error) {
	return func(ctx context.Context) ([]entity.SourceRecord, error) {
		result, err := deps.Reader.FetchAll(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		return result.Records, nil
	}
}

// targetRows materializes a dimension's target set from the store. The
// query takes the tenant id as its only parameter.
func targetRows(deps *Deps, query string) func(ctx context.Context) ([]entity.TargetRecord, error) {
	return func(ctx context.Context) ([]entity.TargetRecord, error) {
		rows, err := deps.DB.QueryxContext(ctx, query, deps.TenantID)
		if err != nil {
			return nil, fmt.Errorf("dimension target query failed: %w", err)
		}
		defer rows.Close()

		var records []entity.TargetRecord
		for rows.Next() {
			row := map[string]interface{}{}
			if err := rows.MapScan(row); err != nil {
				return nil, fmt.Errorf("dimension target scan failed: %w", err)
			}
			records = append(records, entity.TargetRecord(row))
		}
		return records, rows.Err()
	}
}

// dimensionID resolves a reference through a reconciled dimension,
// converting absence into the unresolved-reference warning path.
func dimensionID(dims map[string]*entity.ReconciliationMapping, name, refID, sourceID string) (int64, error) {
	mapping, ok := dims[name]
	if !ok {
		return 0, &engine.UnresolvedReferenceError{Dimension: name, SourceID: sourceID}
	}
	id, ok := mapping.TargetID(refID)
	if !ok {
		return 0, &engine.UnresolvedReferenceError{Dimension: name, SourceID: sourceID}
	}
	return id, nil
}
