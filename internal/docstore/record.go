// Record values, deep cloning, normalization and shallow merge.

package docstore

import (
	"encoding/json"
	"fmt"
	"maps"
)

// IDField is the name of the identifier field of every record.
const IDField = "id"

// Record is an open map of field to value. Field "id" holds a non-empty
// string unique within its collection.
type Record map[string]any

// ID returns the record id, or "" if unset or not a string.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, e := range t {
			c[k] = cloneValue(e)
		}
		return c
	case Record:
		return Record(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = cloneValue(e)
		}
		return c
	case []Record:
		c := make([]Record, len(t))
		for i, e := range t {
			c[i] = e.Clone()
		}
		return c
	default:
		return v
	}
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

// normalize converts r to plain JSON value types (float64, string, bool,
// nil, []any, map[string]any) so that every code path compares and indexes
// one representation, whatever Go types the caller used.
func normalize(r Record) (Record, error) {
	if r == nil {
		return Record{}, nil
	}
	data, err := json.Marshal(map[string]any(r))
	if err != nil {
		return nil, fmt.Errorf("record is not JSON-compatible: %w", err)
	}
	out := Record{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("record is not JSON-compatible: %w", err)
	}
	return out, nil
}

// Merge returns a new record with patch shallowly applied onto base. The id
// of base always wins; an "id" key in patch is ignored.
func Merge(base, patch Record) Record {
	out := make(Record, len(base)+len(patch))
	maps.Copy(out, base)
	for k, v := range patch {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	if id, ok := base[IDField]; ok {
		out[IDField] = id
	}
	return out
}

// checkID validates the id field of a record that carries one.
func checkID(r Record) (string, bool, error) {
	v, ok := r[IDField]
	if !ok || v == nil {
		return "", false, nil
	}
	id, isString := v.(string)
	if !isString || id == "" {
		return "", false, fmt.Errorf("field %q must be a non-empty string, got %v", IDField, v)
	}
	return id, true, nil
}
