package engine

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// Store is the relational store as the engine sees it. The production
// implementation lives in the store package; tests substitute in-memory
// fakes.
type Store interface {
	// WithTransaction runs fn inside one transaction with guaranteed
	// begin/commit/rollback/release on every exit path.
	WithTransaction(ctx context.Context, fn func(tx StoreTx) error) error

	// LookupGeneratedIDs resolves store-assigned identifiers for rows of
	// the given table by their natural key, scoped to a tenant. Source ids
	// with no row are simply absent from the result.
	LookupGeneratedIDs(ctx context.Context, table string, sourceIDs []string, tenantID uuid.UUID) (map[string]int64, error)
}

// StoreTx is the transactional surface the loader executes against. It is
// satisfied by *sqlx.Tx.
type StoreTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OracleRequest is the payload shipped to the reconciliation oracle: two
// JSON-serializable collections plus the policy instructions.
type OracleRequest struct {
	EntityType   string                      `json:"entity_type"`
	Source       []entity.SourceRecord       `json:"source"`
	Target       []entity.TargetRecord       `json:"target"`
	Cardinality  entity.Cardinality          `json:"cardinality"`
	Instructions string                      `json:"instructions,omitempty"`
	Context      map[string]map[string]int64 `json:"context,omitempty"`
}

// Oracle is the external heuristic matcher. It returns the raw JSON it
// computed - either {"mapper": {...}, "missing": [...]} or {"error": ...,
// "message": ...}. The engine validates the shape; the oracle's internal
// reasoning is out of scope.
type Oracle interface {
	ProposeMapping(ctx context.Context, req *OracleRequest) (json.RawMessage, error)
}
