package catalog

import (
	"database/sql"
	"encoding/json"
)

// jsonColumn marshals v into a nullable TEXT column value. Nil or empty
// values persist as NULL.
func jsonColumn(v interface{}) sql.NullString {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}
	case []string:
		if len(t) == 0 {
			return sql.NullString{}
		}
	case map[string]interface{}:
		if len(t) == 0 {
			return sql.NullString{}
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}

func scanStringList(col sql.NullString) []string {
	if !col.Valid || col.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		return nil
	}
	return out
}

func scanMap(col sql.NullString) map[string]interface{} {
	if !col.Valid || col.String == "" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		return nil
	}
	return out
}
