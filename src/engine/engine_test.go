package engine

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tdbx/src/config"
	"tdbx/src/logging"
	"tdbx/src/query"
	"tdbx/src/record"
	"tdbx/src/tdberr"
)

func strPtr(s string) *string { return &s }

func newTestEngine(t *testing.T, mode config.Mode, role string) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		Database:       dir,
		EncryptionKey:  "a-reasonably-long-test-passphr",
		Mode:           mode,
		Role:           role,
		MaxCacheSize:   100,
		MaxConnections: 10,
		QueryTimeoutMS: 5000,
	}
	e, err := NewWithLogger(cfg, logging.Noop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// S1: encrypted round-trip.
func TestScenarioEncryptedRoundTrip(t *testing.T) {
	e := newTestEngine(t, config.ModeEncrypted, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "people", record.Record{"id": float64(1), "name": "Alice"}))
	require.NoError(t, e.Insert(ctx, "people", record.Record{"id": float64(2), "name": "Bob"}))

	out, err := e.Query(ctx, "people", query.Pipeline{Filter: query.Filter{"id": float64(2)}})
	require.NoError(t, err)
	require.Equal(t, []record.Record{{"id": float64(2), "name": "Bob"}}, out)
}

// S2: filter combinators preserve insertion order.
func TestScenarioFilterCombinators(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "items", record.Record{"a": float64(1), "b": "x"}))
	require.NoError(t, e.Insert(ctx, "items", record.Record{"a": float64(2), "b": "y"}))
	require.NoError(t, e.Insert(ctx, "items", record.Record{"a": float64(3), "b": "x"}))

	filter := query.Filter{"$or": []interface{}{
		query.Filter{"a": query.Filter{"$gt": float64(2)}},
		query.Filter{"b": "y"},
	}}
	out, err := e.Query(ctx, "items", query.Pipeline{Filter: filter})
	require.NoError(t, err)
	require.Equal(t, []record.Record{
		{"a": float64(2), "b": "y"},
		{"a": float64(3), "b": "x"},
	}, out)
}

// S3: group + sort.
func TestScenarioGroupAndSort(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "readings", record.Record{"r": "u", "s": float64(10)}))
	require.NoError(t, e.Insert(ctx, "readings", record.Record{"r": "u", "s": float64(30)}))
	require.NoError(t, e.Insert(ctx, "readings", record.Record{"r": "a", "s": float64(20)}))

	idSpec, err := query.ParseGroupID(map[string]interface{}{"r": "r"})
	require.NoError(t, err)

	stages := []query.Stage{
		{Group: &query.GroupStage{
			IDSpec: idSpec,
			Outputs: map[string]query.GroupOp{
				"avg": {AvgField: strPtr("s")},
				"n":   {Count: true},
			},
		}},
		{Sort: []query.SortKey{{Field: "avg", Direction: -1}}},
	}

	out, err := e.Aggregate(ctx, "readings", stages)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "u", out[0]["_id"])
	require.Equal(t, float64(20), out[0]["avg"])
	require.Equal(t, 2, out[0]["n"])
}

// S4: transaction rollback leaves collections byte-equal to their pre-tx content.
func TestScenarioTransactionRollback(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "a", record.Record{"seed": true}))
	require.NoError(t, e.Insert(ctx, "b", record.Record{"seed": true}))

	before := map[string][]byte{}
	for _, coll := range []string{"a", "b"} {
		data, err := os.ReadFile(e.collectionPath(coll))
		require.NoError(t, err)
		before[coll] = data
	}

	tx := e.BeginTx()
	require.NoError(t, e.InsertInTx(tx, "a", record.Record{"id": float64(9)}))
	require.NoError(t, e.InsertInTx(tx, "b", record.Record{"id": float64(9)}))
	require.NoError(t, e.RollbackTx(tx))

	for _, coll := range []string{"a", "b"} {
		data, err := os.ReadFile(e.collectionPath(coll))
		require.NoError(t, err)
		require.Equal(t, before[coll], data)
	}
}

// S5: corruption recovery.
func TestScenarioCorruptionRecovery(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"id": float64(1)}))

	path := e.collectionPath("widgets")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))
	e.cache.Invalidate("widgets")

	out, err := e.Query(ctx, "widgets", query.Pipeline{})
	require.NoError(t, err)
	require.Empty(t, out)

	entries, err := os.ReadDir(e.dbDir)
	require.NoError(t, err)
	var found bool
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "widgets.tdbx.backup.") {
			found = true
		}
	}
	require.True(t, found, "expected a backup sibling file after corruption recovery")
}

// S6: permission gate.
func TestScenarioPermissionDenied(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "reader")
	ctx := context.Background()

	err := e.Insert(ctx, "widgets", record.Record{"id": float64(1)})
	require.Error(t, err)
	kind, ok := tdberr.Of(err)
	require.True(t, ok)
	require.Equal(t, tdberr.KindPermission, kind)
	require.Contains(t, err.Error(), "query")
}

func TestUpdateRejectsDottedPathKeys(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"id": float64(1)}))

	_, err := e.Update(ctx, "widgets", query.Filter{"id": float64(1)}, record.Record{"meta.modified": true})
	require.Error(t, err)
}

func TestAuthenticateSwitchesActiveRole(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.CreateUser(ctx, "alice", "reader", "hunter2"))
	require.NoError(t, e.Authenticate("alice", "hunter2"))

	err := e.Insert(ctx, "widgets", record.Record{"id": float64(1)})
	require.Error(t, err)
	kind, ok := tdberr.Of(err)
	require.True(t, ok)
	require.Equal(t, tdberr.KindPermission, kind)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.CreateUser(ctx, "alice", "reader", "hunter2"))
	err := e.Authenticate("alice", "wrong-password")
	require.Error(t, err)
}

func TestCreateUserRequiresManageUsersPermission(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "reader")
	ctx := context.Background()

	err := e.CreateUser(ctx, "alice", "reader", "hunter2")
	require.Error(t, err)
}

func TestIndexIsRebuiltAfterInsert(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "A"}))
	require.NoError(t, e.BuildIndex(ctx, "widgets", "sku"))
	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "A"}))

	out, err := e.Query(ctx, "widgets", query.Pipeline{Filter: query.Filter{"sku": "A"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestIndexIsRebuiltAfterDelete(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "A"}))
	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "B"}))
	require.NoError(t, e.BuildIndex(ctx, "widgets", "sku"))

	_, err := e.Delete(ctx, "widgets", query.Filter{"sku": "A"})
	require.NoError(t, err)

	out, err := e.Query(ctx, "widgets", query.Pipeline{Filter: query.Filter{"sku": "B"}})
	require.NoError(t, err)
	require.Equal(t, []record.Record{{"sku": "B"}}, out)
}

func TestDiscardTxLeavesStorageUntouched(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, "a", record.Record{"seed": true}))

	before, err := os.ReadFile(e.collectionPath("a"))
	require.NoError(t, err)

	tx := e.BeginTx()
	require.NoError(t, e.InsertInTx(tx, "a", record.Record{"id": float64(9)}))
	e.DiscardTx(tx)

	after, err := os.ReadFile(e.collectionPath("a"))
	require.NoError(t, err)
	require.Equal(t, before, after)

	_, ok := e.txns.Get(tx.ID)
	require.False(t, ok, "discarded transaction should no longer be tracked")
}

// Index lookups must never change which records a query returns relative
// to a full scan: a missing field and an explicit null both stringify to
// the same on-disk index key, so the index fast-path has to re-verify
// strict equality itself rather than trust the key match.
func TestIndexLookupExcludesMissingFieldFromNullQuery(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "A", "tag": nil}))
	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "B"}))
	require.NoError(t, e.BuildIndex(ctx, "widgets", "tag"))

	out, err := e.Query(ctx, "widgets", query.Pipeline{Filter: query.Filter{"tag": nil}})
	require.NoError(t, err)
	require.Equal(t, []record.Record{{"sku": "A", "tag": nil}}, out)
}

// A numeric value and its string form stringify to the same index key, so
// {"code": 2} must not match a record storing code as the string "2".
func TestIndexLookupDoesNotCoerceNumberToString(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"code": float64(2)}))
	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"code": "2"}))
	require.NoError(t, e.BuildIndex(ctx, "widgets", "code"))

	out, err := e.Query(ctx, "widgets", query.Pipeline{Filter: query.Filter{"code": float64(2)}})
	require.NoError(t, err)
	require.Equal(t, []record.Record{{"code": float64(2)}}, out)
}

func TestLoadStrictRejectsNonArrayCollectionFile(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()

	path := e.collectionPath("widgets")
	require.NoError(t, os.WriteFile(path, []byte(`{"x":1}`), 0644))

	_, err := e.LoadStrict(ctx, "widgets")
	require.Error(t, err)
	kind, ok := tdberr.Of(err)
	require.True(t, ok)
	require.Equal(t, tdberr.KindDataFormat, kind)
}

func TestDropCollectionClearsCacheAndIndexes(t *testing.T) {
	e := newTestEngine(t, config.ModePlain, "admin")
	ctx := context.Background()
	require.NoError(t, e.Insert(ctx, "widgets", record.Record{"sku": "A"}))
	require.NoError(t, e.BuildIndex(ctx, "widgets", "sku"))

	require.NoError(t, e.DropCollection(ctx, "widgets"))

	require.False(t, e.cache.Has("widgets"))
	require.False(t, e.indexes.Exists("widgets", "sku"))

	names, err := e.ListCollections()
	require.NoError(t, err)
	require.NotContains(t, names, "widgets")
}
