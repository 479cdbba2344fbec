// Package query implements the filter evaluator (spec §4.E), the query
// pipeline (spec §4.F) and the aggregation pipeline (spec §4.G). The
// scalar comparison logic is grounded on the teacher's
// engine/filter_parser.go evaluateClause/compareValues, generalized from
// a string WHERE-clause AST to spec §4.E's JSON-object filter tree.
package query

import (
	"strings"

	"tdbx/src/record"
	"tdbx/src/tdberr"
)

// Filter is a nested boolean/comparison predicate tree, expressed as a
// plain record.Record per spec §4.E.
type Filter = record.Record

// Match reports whether r satisfies filter (spec §4.E).
func Match(r record.Record, filter Filter) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	for key, val := range filter {
		ok, err := matchKey(r, key, val)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchKey(r record.Record, key string, val interface{}) (bool, error) {
	switch key {
	case "$and":
		subs, err := asFilterList(val, "$and")
		if err != nil {
			return false, err
		}
		for _, sub := range subs {
			ok, err := Match(r, sub)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case "$or":
		subs, err := asFilterList(val, "$or")
		if err != nil {
			return false, err
		}
		if len(subs) == 0 {
			return false, nil
		}
		for _, sub := range subs {
			ok, err := Match(r, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case "$not":
		sub, ok := val.(record.Record)
		if !ok {
			m, ok2 := val.(map[string]interface{})
			if !ok2 {
				return false, tdberr.Validation("$not requires an object argument")
			}
			sub = record.Record(m)
		}
		ok, err := Match(r, sub)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return matchField(r, key, val)
	}
}

func asFilterList(val interface{}, op string) ([]Filter, error) {
	arr, ok := val.([]interface{})
	if !ok {
		return nil, tdberr.Validation("%s requires an array argument", op)
	}
	out := make([]Filter, 0, len(arr))
	for _, item := range arr {
		switch m := item.(type) {
		case record.Record:
			out = append(out, m)
		case map[string]interface{}:
			out = append(out, record.Record(m))
		default:
			return nil, tdberr.Validation("%s array elements must be objects", op)
		}
	}
	return out, nil
}

// matchField evaluates {field: scalar} or {field: {op: arg, ...}}.
func matchField(r record.Record, field string, cond interface{}) (bool, error) {
	fieldValue, present := r[field]

	opMap, isOpMap := asOperatorMap(cond)
	if !isOpMap {
		// {field: scalar} — strict equality, no coercion. Missing field
		// never equals anything (spec §4.E).
		if !present {
			return false, nil
		}
		return strictEqual(fieldValue, cond), nil
	}

	for op, arg := range opMap {
		ok, err := evalOperator(op, fieldValue, present, arg)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// asOperatorMap recognizes {op: arg, ...} shapes where every key begins
// with "$". A plain object without any "$"-prefixed key is treated as a
// literal value to compare for equality (e.g. filtering a nested-record
// field), not an operator map.
func asOperatorMap(cond interface{}) (map[string]interface{}, bool) {
	var m map[string]interface{}
	switch t := cond.(type) {
	case record.Record:
		m = t
	case map[string]interface{}:
		m = t
	default:
		return nil, false
	}
	if len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func evalOperator(op string, fieldValue interface{}, present bool, arg interface{}) (bool, error) {
	switch op {
	case "$eq":
		return present && strictEqual(fieldValue, arg), nil
	case "$gt":
		return numericCompare(fieldValue, present, arg, func(a, b float64) bool { return a > b })
	case "$gte":
		return numericCompare(fieldValue, present, arg, func(a, b float64) bool { return a >= b })
	case "$lt":
		return numericCompare(fieldValue, present, arg, func(a, b float64) bool { return a < b })
	case "$lte":
		return numericCompare(fieldValue, present, arg, func(a, b float64) bool { return a <= b })
	case "$contains":
		return evalContains(fieldValue, present, arg), nil
	case "$in":
		return evalIn(fieldValue, present, arg)
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, tdberr.Validation("$exists requires a boolean argument")
		}
		return present == want, nil
	default:
		return false, tdberr.Validation("unknown filter operator %q", op)
	}
}

func numericCompare(fieldValue interface{}, present bool, arg interface{}, cmp func(a, b float64) bool) (bool, error) {
	if !present {
		return false, nil
	}
	a, aok := asFloat(fieldValue)
	b, bok := asFloat(arg)
	if !aok || !bok {
		return false, nil
	}
	return cmp(a, b), nil
}

func evalContains(fieldValue interface{}, present bool, arg interface{}) bool {
	if !present {
		return false
	}
	switch v := fieldValue.(type) {
	case []interface{}:
		for _, item := range v {
			if strictEqual(item, arg) {
				return true
			}
		}
		return false
	case string:
		sub, ok := arg.(string)
		if !ok {
			return false
		}
		return strings.Contains(v, sub)
	default:
		return false
	}
}

func evalIn(fieldValue interface{}, present bool, arg interface{}) (bool, error) {
	arr, ok := arg.([]interface{})
	if !ok {
		return false, tdberr.Validation("$in requires an array argument")
	}
	if !present {
		return false, nil
	}
	for _, item := range arr {
		if strictEqual(fieldValue, item) {
			return true, nil
		}
	}
	return false, nil
}

// strictEqual compares two decoded JSON values without numeric or
// string/bool coercion (spec §4.E "strict equality, no coercion").
func strictEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !strictEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}, record.Record:
		bm, ok := asMap(b)
		am, _ := asMap(a)
		if !ok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, ok := bm[k]
			if !ok || !strictEqual(v, bv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case record.Record:
		return t, true
	case map[string]interface{}:
		return t, true
	default:
		return nil, false
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// TopLevelFields returns the field names a filter directly compares
// against (used by the query-pattern counters and index consultation,
// spec §4.D/§4.H). Logical combinators are not fields.
func TopLevelFields(filter Filter) []string {
	var fields []string
	for k := range filter {
		if k == "$and" || k == "$or" || k == "$not" {
			continue
		}
		fields = append(fields, k)
	}
	return fields
}

// SingleEqualityLookup reports whether filter is exactly one top-level
// equality condition on field ({field: scalar} or {field: {"$eq": v}})
// with no other keys, and returns the value being matched. This is the
// shape the filter evaluator wires to an index lookup (spec §4.E
// expansion, resolving the "index never consulted" open question).
func SingleEqualityLookup(filter Filter) (field string, value interface{}, ok bool) {
	if len(filter) != 1 {
		return "", nil, false
	}
	for k, v := range filter {
		if k == "$and" || k == "$or" || k == "$not" {
			return "", nil, false
		}
		if opMap, isOpMap := asOperatorMap(v); isOpMap {
			if len(opMap) == 1 {
				if eqVal, has := opMap["$eq"]; has {
					return k, eqVal, true
				}
			}
			return "", nil, false
		}
		return k, v, true
	}
	return "", nil, false
}

