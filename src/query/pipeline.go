package query

import (
	"context"
	"sort"

	"tdbx/src/index"
	"tdbx/src/record"
	"tdbx/src/tdberr"
)

// SortKey pairs a field with its direction, preserving the order the
// caller wants sort keys applied in (spec §4.F "in key-iteration order").
type SortKey struct {
	Field     string
	Direction int // +1 or -1
}

// Pipeline describes one query: filter -> sort -> skip -> limit ->
// projection (spec §4.F).
type Pipeline struct {
	Filter     Filter
	Sort       []SortKey
	Skip       int
	Limit      int // 0 means "no limit"
	Projection []string
}

// checkpointEvery controls how often the pipeline checks ctx for
// cancellation while scanning large collections (SPEC_FULL §5, advisory
// queryTimeout wiring).
const checkpointEvery = 1024

// Run executes p against records, consulting idxReg/collection for
// single-equality index lookups (spec §4.E expansion).
func Run(ctx context.Context, records []record.Record, p Pipeline, idxReg *index.Registry, collection string) ([]record.Record, error) {
	filtered, err := filterWithCheckpoints(ctx, records, p.Filter, idxReg, collection)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, tdberr.Validation("query cancelled: %v", err)
	}

	sorted := applySort(filtered, p.Sort)

	skipped := applySkip(sorted, p.Skip)
	limited := applyLimit(skipped, p.Limit)

	if len(p.Projection) == 0 {
		return limited, nil
	}
	return applyProjection(limited, p.Projection), nil
}

func filterWithCheckpoints(ctx context.Context, records []record.Record, filter Filter, idxReg *index.Registry, collection string) ([]record.Record, error) {
	if field, value, ok := SingleEqualityLookup(filter); ok && idxReg != nil {
		if idx, found := idxReg.Get(collection, field); found {
			// record.Stringify collapses distinct values onto one key (a
			// missing field and an explicit null both stringify to "null";
			// numbers and their string forms collide too), so a position the
			// index returns is a candidate, not a guaranteed match. Re-run
			// the same strict-equality evaluator a full scan would use
			// before yielding a record, so the index never changes the
			// answer, only how fast it is found (spec §4.E).
			key := record.Stringify(value)
			positions := idx[key]
			out := make([]record.Record, 0, len(positions))
			for _, pos := range positions {
				if pos < 0 || pos >= len(records) {
					continue
				}
				r := records[pos]
				ok, err := Match(r, filter)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, r)
				}
			}
			return out, nil
		}
	}

	out := make([]record.Record, 0, len(records))
	for i, r := range records {
		if i%checkpointEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, tdberr.Validation("query cancelled: %v", err)
			}
		}
		ok, err := Match(r, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func applySort(records []record.Record, keys []SortKey) []record.Record {
	if len(keys) == 0 {
		return records
	}
	out := make([]record.Record, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		for _, k := range keys {
			cmp := compareForSort(out[i][k.Field], out[j][k.Field])
			if cmp == 0 {
				continue
			}
			if k.Direction < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return out
}

// compareForSort orders absent/null before present on ascending, per
// spec §4.F. It returns <0, 0, >0 for (a<b, a==b, a>b) in ascending
// terms; callers invert for descending.
func compareForSort(a, b interface{}) int {
	aAbsent := a == nil
	bAbsent := b == nil

	if aAbsent && bAbsent {
		return 0
	}
	if aAbsent {
		return -1
	}
	if bAbsent {
		return 1
	}

	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}

	return 0
}

func applySkip(records []record.Record, skip int) []record.Record {
	if skip <= 0 || skip >= len(records) {
		if skip >= len(records) {
			return []record.Record{}
		}
		return records
	}
	return records[skip:]
}

func applyLimit(records []record.Record, limit int) []record.Record {
	if limit <= 0 || limit >= len(records) {
		return records
	}
	return records[:limit]
}

func applyProjection(records []record.Record, fields []string) []record.Record {
	out := make([]record.Record, len(records))
	for i, r := range records {
		proj := make(record.Record, len(fields))
		for _, f := range fields {
			if v, ok := r[f]; ok {
				proj[f] = v
			}
		}
		out[i] = proj
	}
	return out
}
