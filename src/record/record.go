// Package record defines the runtime-typed document representation shared
// by every tdbx component: a Record is an unordered field->value mapping,
// a Collection is an ordered slice of Records (spec §3).
package record

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
)

// Record is an unordered mapping from field name to value. bson.M is a
// named map[string]interface{} type that encoding/json marshals like a
// plain map. It is a distinct type from map[string]interface{}, so nested
// objects decoded by encoding/json arrive as plain maps and the helpers
// below accept both.
type Record = bson.M

// Records is an ordered collection of Records; order is insertion order
// and must be preserved across load/save cycles (spec §3).
type Records = bson.A

// AsRecords narrows a bson.A holding decoded documents into a []Record,
// coercing plain map[string]interface{} values (as produced by
// encoding/json) into Record.
func AsRecords(a Records) ([]Record, error) {
	out := make([]Record, 0, len(a))
	for i, v := range a {
		switch m := v.(type) {
		case Record:
			out = append(out, m)
		case map[string]interface{}:
			out = append(out, Record(m))
		default:
			return nil, fmt.Errorf("element %d is not an object: %T", i, v)
		}
	}
	return out, nil
}

// ToRecords widens a []Record back into the Records/bson.A shape used for
// JSON array encoding.
func ToRecords(rs []Record) Records {
	out := make(Records, len(rs))
	for i, r := range rs {
		out[i] = r
	}
	return out
}

// Clone returns a deep copy of a Record so cache callers cannot mutate the
// cached copy (spec §9 "defensive copies").
func Clone(r Record) Record {
	return cloneValue(r).(Record)
}

// CloneAll deep-copies a slice of records.
func CloneAll(rs []Record) []Record {
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = Clone(r)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case Record:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]interface{}:
		out := make(Record, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case Records:
		out := make(Records, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Stringify renders a field value as the string key used by the index
// component: null/missing values map to "null" (spec §4.H).
func Stringify(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return trimFloat(t)
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// SortedFieldNames returns a Record's keys in stable sorted order, for
// callers that need a deterministic iteration order.
func SortedFieldNames(r Record) []string {
	names := make([]string, 0, len(r))
	for k := range r {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
