// Command tdbx is the CLI front-end (spec.md §6.3): a thin translator
// from argv to Engine calls. Adapted from the teacher's src/main.go
// flag-parsing and validateArguments shape, reworked from a long-running
// server command into a one-shot argv-translator command per this
// contract's exit-code/stderr behavior.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"tdbx/src/config"
	"tdbx/src/engine"
	"tdbx/src/query"
	"tdbx/src/record"
	"tdbx/src/tdberr"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: %s <config-path> <command> <args...>", progName(args))
	}

	configPath := args[1]
	command := args[2]
	rest := args[3:]

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := context.Background()
	if cfg.QueryTimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.QueryTimeoutMS)*time.Millisecond)
		defer cancel()
	}

	result, err := dispatch(ctx, eng, command, rest)
	if err != nil {
		return err
	}
	if result != nil {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

func progName(args []string) string {
	if len(args) == 0 {
		return "tdbx"
	}
	return args[0]
}

// dispatch translates one CLI command into an Engine call. The first
// trailing argument is a plain collection name (or backup directory for
// restore); any further arguments are JSON literals.
func dispatch(ctx context.Context, eng *engine.Engine, command string, args []string) (interface{}, error) {
	switch command {
	case "query":
		return cmdQuery(ctx, eng, args)
	case "aggregate":
		return cmdAggregate(ctx, eng, args)
	case "insert":
		return nil, cmdInsert(ctx, eng, args)
	case "update":
		return cmdUpdate(ctx, eng, args)
	case "delete":
		return cmdDelete(ctx, eng, args)
	case "index":
		return nil, cmdBuildIndex(ctx, eng, args)
	case "drop-index":
		return nil, cmdDropIndex(ctx, eng, args)
	case "create-collection":
		return nil, cmdCreateCollection(ctx, eng, args)
	case "drop-collection":
		return nil, cmdDropCollection(ctx, eng, args)
	case "backup":
		return eng.Backup(ctx)
	case "restore":
		return nil, cmdRestore(ctx, eng, args)
	default:
		return nil, tdberr.Validation("unknown command %q", command)
	}
}

func requireArgs(command string, args []string, n int) error {
	if len(args) < n {
		return tdberr.Validation("%s requires %d argument(s)", command, n)
	}
	return nil
}

func decodeJSONArg(arg string, out interface{}) error {
	if err := json.Unmarshal([]byte(arg), out); err != nil {
		return tdberr.Validation("could not parse JSON argument %q: %v", arg, err)
	}
	return nil
}

// pipelineRequest is the CLI's JSON encoding of a query.Pipeline: sort
// keys are an ordered array (not an object) so key order survives JSON
// decoding, per spec.md §4.F "applied in key-iteration order".
type pipelineRequest struct {
	Filter     record.Record   `json:"filter"`
	Sort       [][2]interface{} `json:"sort"`
	Skip       int              `json:"skip"`
	Limit      int              `json:"limit"`
	Projection []string         `json:"projection"`
}

func (r pipelineRequest) toPipeline() (query.Pipeline, error) {
	keys := make([]query.SortKey, 0, len(r.Sort))
	for _, pair := range r.Sort {
		field, ok := pair[0].(string)
		if !ok {
			return query.Pipeline{}, tdberr.Validation("sort entry field name must be a string")
		}
		dir, ok := pair[1].(float64)
		if !ok {
			return query.Pipeline{}, tdberr.Validation("sort entry direction must be a number")
		}
		direction := 1
		if dir < 0 {
			direction = -1
		}
		keys = append(keys, query.SortKey{Field: field, Direction: direction})
	}
	return query.Pipeline{
		Filter:     r.Filter,
		Sort:       keys,
		Skip:       r.Skip,
		Limit:      r.Limit,
		Projection: r.Projection,
	}, nil
}

func cmdQuery(ctx context.Context, eng *engine.Engine, args []string) (interface{}, error) {
	if err := requireArgs("query", args, 1); err != nil {
		return nil, err
	}
	collection := args[0]

	var req pipelineRequest
	if len(args) >= 2 {
		if err := decodeJSONArg(args[1], &req); err != nil {
			return nil, err
		}
	}
	p, err := req.toPipeline()
	if err != nil {
		return nil, err
	}
	return eng.Query(ctx, collection, p)
}

// stageRequest is one aggregation stage in the CLI's JSON encoding.
type stageRequest struct {
	Match *record.Record `json:"$match"`
	Group *struct {
		ID      json.RawMessage          `json:"_id"`
		Outputs map[string]groupOpRaw    `json:"outputs"`
	} `json:"$group"`
	Sort  [][2]interface{} `json:"$sort"`
	Skip  *int             `json:"$skip"`
	Limit *int             `json:"$limit"`
}

type groupOpRaw struct {
	Sum   json.RawMessage `json:"$sum"`
	Avg   *string         `json:"$avg"`
	Count *bool           `json:"$count"`
	Min   *string         `json:"$min"`
	Max   *string         `json:"$max"`
}

func cmdAggregate(ctx context.Context, eng *engine.Engine, args []string) (interface{}, error) {
	if err := requireArgs("aggregate", args, 2); err != nil {
		return nil, err
	}
	collection := args[0]

	var raws []stageRequest
	if err := decodeJSONArg(args[1], &raws); err != nil {
		return nil, err
	}

	stages := make([]query.Stage, 0, len(raws))
	for _, raw := range raws {
		stage, err := raw.toStage()
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}
	return eng.Aggregate(ctx, collection, stages)
}

func (r stageRequest) toStage() (query.Stage, error) {
	switch {
	case r.Match != nil:
		return query.Stage{Match: (*query.Filter)(r.Match)}, nil

	case r.Group != nil:
		var idRaw interface{}
		if len(r.Group.ID) > 0 {
			if err := json.Unmarshal(r.Group.ID, &idRaw); err != nil {
				return query.Stage{}, tdberr.Validation("invalid $group._id: %v", err)
			}
		}
		idSpec, err := query.ParseGroupID(idRaw)
		if err != nil {
			return query.Stage{}, err
		}
		outputs := make(map[string]query.GroupOp, len(r.Group.Outputs))
		for outKey, opRaw := range r.Group.Outputs {
			op, err := opRaw.toGroupOp()
			if err != nil {
				return query.Stage{}, err
			}
			outputs[outKey] = op
		}
		return query.Stage{Group: &query.GroupStage{IDSpec: idSpec, Outputs: outputs}}, nil

	case r.Sort != nil:
		keys := make([]query.SortKey, 0, len(r.Sort))
		for _, pair := range r.Sort {
			field, ok := pair[0].(string)
			if !ok {
				return query.Stage{}, tdberr.Validation("$sort entry field name must be a string")
			}
			dir, _ := pair[1].(float64)
			direction := 1
			if dir < 0 {
				direction = -1
			}
			keys = append(keys, query.SortKey{Field: field, Direction: direction})
		}
		return query.Stage{Sort: keys}, nil

	case r.Skip != nil:
		return query.Stage{Skip: r.Skip}, nil

	case r.Limit != nil:
		return query.Stage{Limit: r.Limit}, nil

	default:
		return query.Stage{}, tdberr.Validation("aggregation stage has no recognized key")
	}
}

func (op groupOpRaw) toGroupOp() (query.GroupOp, error) {
	switch {
	case len(op.Sum) > 0:
		var asString string
		if err := json.Unmarshal(op.Sum, &asString); err == nil {
			return query.GroupOp{SumField: &asString}, nil
		}
		var asNumber float64
		if err := json.Unmarshal(op.Sum, &asNumber); err == nil {
			return query.GroupOp{SumConst: &asNumber}, nil
		}
		return query.GroupOp{}, tdberr.Validation("$sum must be a field name string or a numeric constant")
	case op.Avg != nil:
		return query.GroupOp{AvgField: op.Avg}, nil
	case op.Count != nil && *op.Count:
		return query.GroupOp{Count: true}, nil
	case op.Min != nil:
		return query.GroupOp{MinField: op.Min}, nil
	case op.Max != nil:
		return query.GroupOp{MaxField: op.Max}, nil
	default:
		return query.GroupOp{}, tdberr.Validation("group operator has no recognized operation")
	}
}

func cmdInsert(ctx context.Context, eng *engine.Engine, args []string) error {
	if err := requireArgs("insert", args, 2); err != nil {
		return err
	}
	var rec record.Record
	if err := decodeJSONArg(args[1], &rec); err != nil {
		return err
	}
	return eng.Insert(ctx, args[0], rec)
}

func cmdUpdate(ctx context.Context, eng *engine.Engine, args []string) (interface{}, error) {
	if err := requireArgs("update", args, 3); err != nil {
		return nil, err
	}
	var filter record.Record
	if err := decodeJSONArg(args[1], &filter); err != nil {
		return nil, err
	}
	var changes record.Record
	if err := decodeJSONArg(args[2], &changes); err != nil {
		return nil, err
	}
	n, err := eng.Update(ctx, args[0], filter, changes)
	if err != nil {
		return nil, err
	}
	return map[string]int{"modified": n}, nil
}

func cmdDelete(ctx context.Context, eng *engine.Engine, args []string) (interface{}, error) {
	if err := requireArgs("delete", args, 2); err != nil {
		return nil, err
	}
	var filter record.Record
	if err := decodeJSONArg(args[1], &filter); err != nil {
		return nil, err
	}
	n, err := eng.Delete(ctx, args[0], filter)
	if err != nil {
		return nil, err
	}
	return map[string]int{"removed": n}, nil
}

func cmdBuildIndex(ctx context.Context, eng *engine.Engine, args []string) error {
	if err := requireArgs("index", args, 2); err != nil {
		return err
	}
	var field string
	if err := decodeJSONArg(args[1], &field); err != nil {
		return err
	}
	return eng.BuildIndex(ctx, args[0], field)
}

func cmdDropIndex(ctx context.Context, eng *engine.Engine, args []string) error {
	if err := requireArgs("drop-index", args, 2); err != nil {
		return err
	}
	var field string
	if err := decodeJSONArg(args[1], &field); err != nil {
		return err
	}
	return eng.DropIndex(ctx, args[0], field)
}

func cmdCreateCollection(ctx context.Context, eng *engine.Engine, args []string) error {
	if err := requireArgs("create-collection", args, 1); err != nil {
		return err
	}
	return eng.CreateCollection(ctx, args[0])
}

func cmdDropCollection(ctx context.Context, eng *engine.Engine, args []string) error {
	if err := requireArgs("drop-collection", args, 1); err != nil {
		return err
	}
	return eng.DropCollection(ctx, args[0])
}

func cmdRestore(ctx context.Context, eng *engine.Engine, args []string) error {
	if err := requireArgs("restore", args, 1); err != nil {
		return err
	}
	return eng.Restore(ctx, args[0])
}
