package entity

// Cardinality controls how many source identifiers may map onto a single
// target identifier during reconciliation.
type Cardinality string

const (
	// CardinalityOneToOne requires the mapping to be injective: every
	// source id maps to a distinct target id.
	CardinalityOneToOne Cardinality = "one-to-one"

	// CardinalityManyToOne allows several source ids to collapse onto the
	// same target id (e.g. duplicate categories on the source side).
	CardinalityManyToOne Cardinality = "many-to-one"
)

// ReconcilePolicy configures a reconciliation request. Cardinality and
// Context shape what the oracle is asked for; RequireComplete shapes what
// the caller accepts.
type ReconcilePolicy struct {
	// Cardinality of the requested mapping. Defaults to one-to-one.
	Cardinality Cardinality `json:"cardinality"`

	// RequireComplete marks a non-empty missing list as a policy
	// violation. The engine still returns what it computed; callers
	// decide whether to fail the run.
	RequireComplete bool `json:"require_complete"`

	// Context carries already-known auxiliary mappings (keyed by
	// dimension name) so that missing target-shaped records can carry
	// translated foreign keys instead of raw source ids.
	Context map[string]map[string]int64 `json:"context,omitempty"`

	// Instructions is free-form guidance forwarded to the oracle verbatim.
	Instructions string `json:"instructions,omitempty"`

	// SourceKeyField and TargetKeyField name the fields used to build the
	// cache key for the two collections. They default to SourceIDField
	// and NaturalKeyColumn respectively.
	SourceKeyField string `json:"source_key_field,omitempty"`
	TargetKeyField string `json:"target_key_field,omitempty"`
}

// Normalize fills in policy defaults.
func (p ReconcilePolicy) Normalize() ReconcilePolicy {
	if p.Cardinality == "" {
		p.Cardinality = CardinalityOneToOne
	}
	if p.SourceKeyField == "" {
		p.SourceKeyField = SourceIDField
	}
	if p.TargetKeyField == "" {
		p.TargetKeyField = NaturalKeyColumn
	}
	return p
}

// ReconciliationMapping is the validated result of reconciling a source
// collection against a target collection: a keys-unique mapping from
// source id to target id, plus target-shaped records for source items the
// oracle found no counterpart for.
type ReconciliationMapping struct {
	EntityType string           `json:"entity_type"`
	Mapper     map[string]int64 `json:"mapper"`
	Missing    []TargetRecord   `json:"missing"`
}

// TargetID looks up the target identifier for a source id.
func (m *ReconciliationMapping) TargetID(sourceID string) (int64, bool) {
	id, ok := m.Mapper[sourceID]
	return id, ok
}

// Complete reports whether every source item found a target counterpart.
func (m *ReconciliationMapping) Complete() bool {
	return len(m.Missing) == 0
}
