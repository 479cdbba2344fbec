package query

import (
	"context"
	"sort"
	"strings"

	"tdbx/src/record"
	"tdbx/src/tdberr"
)

// Stage is one aggregation pipeline stage: exactly one of the fields is
// set (spec §4.G).
type Stage struct {
	Match *Filter
	Group *GroupStage
	Sort  []SortKey
	Skip  *int
	Limit *int
}

// GroupStage describes a $group stage. IDSpec is nil for `_id: null`
// (single group), or a map of output-key -> source-field-name for the
// authoritative object-mapping form (spec §4.G, §9 resolved: bare field
// names are rejected, not silently coerced).
type GroupStage struct {
	IDSpec  map[string]string
	Outputs map[string]GroupOp
}

// GroupOp is one group-operator object: exactly one of Sum/Avg/Count/
// Min/Max applies.
type GroupOp struct {
	SumField   *string
	SumConst   *float64
	AvgField   *string
	Count      bool
	MinField   *string
	MaxField   *string
}

// ParseGroupID validates and converts a raw `_id` value from a $group
// stage document into a GroupStage.IDSpec, rejecting the non-authoritative
// bare-field-name shorthand (spec §9 resolved open question).
func ParseGroupID(raw interface{}) (map[string]string, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, tdberr.Validation("$group._id must be null or an object mapping output keys to field names")
	}
	spec := make(map[string]string, len(m))
	for outKey, fieldNameRaw := range m {
		fieldName, ok := fieldNameRaw.(string)
		if !ok {
			return nil, tdberr.Validation("$group._id.%s must name a field as a string", outKey)
		}
		spec[outKey] = fieldName
	}
	return spec, nil
}

// RunAggregate executes a linear sequence of stages over records
// (spec §4.G).
func RunAggregate(ctx context.Context, records []record.Record, stages []Stage) ([]record.Record, error) {
	current := records

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, tdberr.Validation("aggregation cancelled: %v", err)
		}

		switch {
		case stage.Match != nil:
			out := make([]record.Record, 0, len(current))
			for _, r := range current {
				ok, err := Match(r, *stage.Match)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, r)
				}
			}
			current = out

		case stage.Group != nil:
			out, err := runGroup(current, stage.Group)
			if err != nil {
				return nil, err
			}
			current = out

		case stage.Sort != nil:
			current = applySort(current, stage.Sort)

		case stage.Skip != nil:
			current = applySkip(current, *stage.Skip)

		case stage.Limit != nil:
			current = applyLimit(current, *stage.Limit)
		}
	}

	return current, nil
}

type groupBucket struct {
	key     string
	idValue interface{}
	records []record.Record
}

func runGroup(records []record.Record, g *GroupStage) ([]record.Record, error) {
	order := []string{}
	buckets := make(map[string]*groupBucket)

	for _, r := range records {
		key, idValue := groupKeyOf(r, g.IDSpec)
		b, ok := buckets[key]
		if !ok {
			b = &groupBucket{key: key, idValue: idValue}
			buckets[key] = b
			order = append(order, key)
		}
		b.records = append(b.records, r)
	}

	out := make([]record.Record, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		result := record.Record{"_id": b.idValue}
		for outKey, op := range g.Outputs {
			val, err := applyGroupOp(op, b.records)
			if err != nil {
				return nil, err
			}
			result[outKey] = val
		}
		out = append(out, result)
	}
	return out, nil
}

func groupKeyOf(r record.Record, idSpec map[string]string) (string, interface{}) {
	if idSpec == nil {
		return "", nil
	}

	parts := make([]string, 0, len(idSpec))
	idObj := make(record.Record, len(idSpec))
	// Iterate output keys in stable sorted order so the string group key
	// is deterministic regardless of map iteration order.
	keys := make([]string, 0, len(idSpec))
	for k := range idSpec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, outKey := range keys {
		fieldName := idSpec[outKey]
		v := r[fieldName]
		idObj[outKey] = v
		parts = append(parts, record.Stringify(v))
	}

	// If there is exactly one output key, the visible _id is the scalar
	// value itself (matches spec.md's S3 scenario, where a single-key
	// _id renders as a bare string, not a nested object).
	if len(idSpec) == 1 {
		for _, v := range idObj {
			return strings.Join(parts, "-"), v
		}
	}

	return strings.Join(parts, "-"), idObj
}

func applyGroupOp(op GroupOp, records []record.Record) (interface{}, error) {
	switch {
	case op.SumField != nil:
		var sum float64
		for _, r := range records {
			if f, ok := asFloat(r[*op.SumField]); ok {
				sum += f
			}
		}
		return sum, nil

	case op.SumConst != nil:
		return *op.SumConst * float64(len(records)), nil

	case op.AvgField != nil:
		if len(records) == 0 {
			return nil, nil
		}
		var sum float64
		for _, r := range records {
			if f, ok := asFloat(r[*op.AvgField]); ok {
				sum += f
			}
		}
		return sum / float64(len(records)), nil

	case op.Count:
		return len(records), nil

	case op.MinField != nil:
		return extremum(records, *op.MinField, func(a, b float64) bool { return a < b })

	case op.MaxField != nil:
		return extremum(records, *op.MaxField, func(a, b float64) bool { return a > b })

	default:
		return nil, tdberr.Validation("group operator has no recognized operation")
	}
}

func extremum(records []record.Record, field string, better func(a, b float64) bool) (interface{}, error) {
	var (
		best  float64
		found bool
	)
	for _, r := range records {
		f, ok := asFloat(r[field])
		if !ok {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return best, nil
}
