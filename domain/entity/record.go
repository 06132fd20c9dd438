package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// SourceIDField is the field under which the ClinicSay API reports a
// record's own identifier.
const SourceIDField = "id"

// NaturalKeyColumn is the column on every migrated table that carries the
// originating ClinicSay identifier. It is the durable cross-reference used
// to re-locate a row after insertion.
const NaturalKeyColumn = "source_id"

// SourceRecord is a record exactly as received from the ClinicSay API: an
// opaque mapping of field name to value. Source records are immutable once
// fetched; transformation always builds new TargetRecords.
type SourceRecord map[string]interface{}

// TargetRecord is a record shaped for the local store: a mapping of column
// name to value. Fields absent in the source must be materialized as
// explicit nulls before load, never omitted.
type TargetRecord map[string]interface{}

// SourceID returns the record's source-assigned identifier in string form.
func (r SourceRecord) SourceID() string {
	return stringifyID(r[SourceIDField])
}

// SourceID returns the value of the record's natural key column in string
// form, or "" when the column is not set.
func (r TargetRecord) SourceID() string {
	return stringifyID(r[NaturalKeyColumn])
}

// Columns returns the record's column names in sorted order. Sorting keeps
// generated SQL deterministic regardless of map iteration order.
func (r TargetRecord) Columns() []string {
	cols := make([]string, 0, len(r))
	for col := range r {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a shallow copy of the record.
func (r TargetRecord) Clone() TargetRecord {
	out := make(TargetRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// stringifyID renders an identifier value the way the source API does:
// integral floats (the default JSON number decoding) lose their fraction,
// everything else goes through fmt-style formatting.
func stringifyID(v interface{}) string {
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
		return fmt.Sprintf("%v", id)
	}
}
