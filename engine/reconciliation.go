package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
	"github.com/bgalvandev/clinicsay-migrations/pkg/metrics"
)

// ReconciliationEngine produces identifier mappings between a source
// collection and a target collection. Matching itself is delegated to the
// oracle; the engine owns the cache, the strict parse of the oracle's
// two-field result, and the structural checks that decide whether the
// result can be trusted at all. A malformed result is a hard failure,
// never a silent coercion.
type ReconciliationEngine struct {
	oracle  Oracle
	cache   *ReconciliationCache
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReconciliationEngine creates an engine over the given oracle and
// cache.
func NewReconciliationEngine(oracle Oracle, cache *ReconciliationCache, logger *zap.Logger, m *metrics.Metrics) *ReconciliationEngine {
	if cache == nil {
		cache = NewReconciliationCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationEngine{
		oracle:  oracle,
		cache:   cache,
		logger:  logger.With(zap.String("component", "reconciliation_engine")),
		metrics: m,
	}
}

// Cache exposes the engine's cache for explicit invalidation.
func (e *ReconciliationEngine) Cache() *ReconciliationCache {
	return e.cache
}

// Reconcile maps the source collection onto the target collection under
// the given policy. Identical inputs return the cached mapping without a
// second oracle invocation. The mapping is returned even when it violates
// policy.RequireComplete - that flag changes caller behavior, not the
// engine's output shape.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, entityType string, source []entity.SourceRecord, target []entity.TargetRecord, policy entity.ReconcilePolicy) (*entity.ReconciliationMapping, error) {
	policy = policy.Normalize()

	sourceKeys := make([]string, 0, len(source))
	for _, rec := range source {
		sourceKeys = append(sourceKeys, keyOf(map[string]interface{}(rec), policy.SourceKeyField))
	}
	targetKeys := make([]string, 0, len(target))
	for _, rec := range target {
		targetKeys = append(targetKeys, keyOf(map[string]interface{}(rec), policy.TargetKeyField))
	}

	cacheKey := e.cache.Key(entityType, sourceKeys, targetKeys)
	if mapping, ok := e.cache.Get(cacheKey); ok {
		e.logger.Debug("Reconciliation cache hit",
			zap.String("entity_type", entityType),
			zap.Int("mapped", len(mapping.Mapper)))
		if e.metrics != nil {
			e.metrics.OracleCacheHits.Inc()
		}
		return mapping, nil
	}

	if e.metrics != nil {
		e.metrics.OracleCalls.Inc()
	}
	raw, err := e.oracle.ProposeMapping(ctx, &OracleRequest{
		EntityType:   entityType,
		Source:       source,
		Target:       target,
		Cardinality:  policy.Cardinality,
		Instructions: policy.Instructions,
		Context:      policy.Context,
	})
	if err != nil {
		return nil, err
	}

	mapping, err := e.parseOracleResult(entityType, raw, policy)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Reconciliation computed",
		zap.String("entity_type", entityType),
		zap.String("cardinality", string(policy.Cardinality)),
		zap.Int("source_items", len(source)),
		zap.Int("target_items", len(target)),
		zap.Int("mapped", len(mapping.Mapper)),
		zap.Int("missing", len(mapping.Missing)))

	if policy.RequireComplete && !mapping.Complete() {
		e.logger.Warn("Reconciliation incomplete under require_complete policy",
			zap.String("entity_type", entityType),
			zap.Int("missing", len(mapping.Missing)))
	}

	e.cache.Put(cacheKey, mapping)
	return mapping, nil
}

// parseOracleResult enforces the oracle contract: a strict two-field JSON
// object, mapper values coercible to the target id type, missing an array
// of target-shaped records. Any structural violation is returned to the
// caller as a validation error.
func (e *ReconciliationEngine) parseOracleResult(entityType string, raw json.RawMessage, policy entity.ReconcilePolicy) (*entity.ReconciliationMapping, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindValidation, err,
			"oracle result for %s is not a JSON object", entityType)
	}

	// An oracle-reported domain error is surfaced verbatim, distinct from
	// a malformed result.
	if errRaw, ok := envelope["error"]; ok {
		message := string(errRaw)
		if msgRaw, ok := envelope["message"]; ok {
			var msg string
			if json.Unmarshal(msgRaw, &msg) == nil {
				message = msg
			}
		}
		return nil, entity.NewMigrationError(entity.MigrationErrorKindOracle,
			"oracle reported a domain error for %s: %s", entityType, message)
	}

	mapperRaw, ok := envelope["mapper"]
	if !ok {
		return nil, entity.NewMigrationError(entity.MigrationErrorKindValidation,
			"oracle result for %s has no mapper field", entityType)
	}
	missingRaw, ok := envelope["missing"]
	if !ok {
		return nil, entity.NewMigrationError(entity.MigrationErrorKindValidation,
			"oracle result for %s has no missing field", entityType)
	}

	decoder := json.NewDecoder(bytes.NewReader(mapperRaw))
	decoder.UseNumber()
	var rawMapper map[string]interface{}
	if err := decoder.Decode(&rawMapper); err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindValidation, err,
			"oracle mapper for %s is not an object", entityType)
	}

	mapper := make(map[string]int64, len(rawMapper))
	for sourceID, value := range rawMapper {
		targetID, err := coerceTargetID(value)
		if err != nil {
			return nil, entity.WrapMigrationError(entity.MigrationErrorKindValidation, err,
				"oracle mapper for %s: source id %q has a non-numeric target id", entityType, sourceID)
		}
		mapper[sourceID] = targetID
	}

	var missing []entity.TargetRecord
	if err := json.Unmarshal(missingRaw, &missing); err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindValidation, err,
			"oracle missing list for %s is not an array of records", entityType)
	}
	if missing == nil {
		missing = []entity.TargetRecord{}
	}

	if policy.Cardinality == entity.CardinalityOneToOne {
		if err := checkInjective(entityType, mapper); err != nil {
			return nil, err
		}
	}

	return &entity.ReconciliationMapping{
		EntityType: entityType,
		Mapper:     mapper,
		Missing:    missing,
	}, nil
}

// checkInjective rejects a mapping where two source ids collapse onto one
// target id under a one-to-one policy.
func checkInjective(entityType string, mapper map[string]int64) error {
	seen := make(map[int64]string, len(mapper))
	for sourceID, targetID := range mapper {
		if prior, ok := seen[targetID]; ok {
			return entity.NewMigrationError(entity.MigrationErrorKindValidation,
				"oracle mapper for %s is not one-to-one: source ids %q and %q both map to target id %d",
				entityType, prior, sourceID, targetID)
		}
		seen[targetID] = sourceID
	}
	return nil
}

// coerceTargetID converts an oracle-provided id to int64. Numbers must be
// integral; strings must parse as base-10 integers.
func coerceTargetID(value interface{}) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, strconv.ErrSyntax
	}
}

func keyOf(record map[string]interface{}, field string) string {
	return stringifyValue(record[field])
}

func stringifyValue(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}
