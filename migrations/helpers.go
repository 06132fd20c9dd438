package migrations

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bgalvandev/clinicsay-migrations/domain/entity"
)

// asString renders a source field as the string form used for dimension
// lookups. Numeric ids render without a decimal point so "7", 7 and 7.0
// all resolve to the same key.
func asString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		if value == float64(int64(value)) {
			return strconv.FormatInt(int64(value), 10)
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// decodeRecord parses one JSON object body into a source record.
func decodeRecord(body []byte) (entity.SourceRecord, error) {
	var record entity.SourceRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, entity.WrapMigrationError(entity.MigrationErrorKindValidation, err,
			"detail payload is not a JSON object")
	}
	return record, nil
}
