package engine

import (
	"strings"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// Sanitize returns an equivalent record where every field holding "no
// value" is normalized to an explicit null. The source API is inconsistent
// about absence: some endpoints omit a field, others send "", "null" or an
// empty object. The store must always receive the column with an explicit
// NULL, so present-but-empty and absent collapse to the same thing.
// Fields are never dropped or renamed.
func Sanitize(record entity.TargetRecord) entity.TargetRecord {
	out := make(entity.TargetRecord, len(record))
	for field, value := range record {
		if isEmptyValue(value) {
			out[field] = nil
			continue
		}
		out[field] = value
	}
	return out
}

// EmptyFields lists the fields of a record that hold "no value", for
// diagnostic logging before a load.
func EmptyFields(record entity.TargetRecord) []string {
	var fields []string
	for field, value := range record {
		if isEmptyValue(value) {
			fields = append(fields, field)
		}
	}
	return fields
}

// CheckRequired reports which of the caller's required fields a record is
// missing a value for. It reports, it does not reject; the caller decides
// whether a gap matters for the target column's constraints.
func CheckRequired(record entity.TargetRecord, required []string) []string {
	var missing []string
	for _, field := range required {
		value, ok := record[field]
		if !ok || isEmptyValue(value) {
			missing = append(missing, field)
		}
	}
	return missing
}

// isEmptyValue decides what counts as "no value". Zero numbers and false
// are real values; only nil, blank strings and empty composites qualify.
func isEmptyValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		trimmed := strings.TrimSpace(v)
		return trimmed == "" || strings.EqualFold(trimmed, "null")
	case map[string]interface{}:
		return len(v) == 0
	case []interface{}:
		return len(v) == 0
	default:
		return false
	}
}
