package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tdbx/src/record"
)

func TestBuildMapsValuesToPositions(t *testing.T) {
	records := []record.Record{
		{"sku": "A"},
		{"sku": "B"},
		{"sku": "A"},
		{},
	}

	idx := Build(records, "sku")
	require.Equal(t, []int{0, 2}, idx["A"])
	require.Equal(t, []int{1}, idx["B"])
	require.Equal(t, []int{3}, idx["null"])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.index.sku.json")

	idx := Build([]record.Record{{"sku": "A"}, {"sku": "B"}}, "sku")
	require.NoError(t, Save(path, idx))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, idx, loaded)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	dir := t.TempDir()
	loaded, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestRegistryBuildAndPersistThenGet(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)

	records := []record.Record{{"sku": "A"}, {"sku": "B"}}
	require.NoError(t, reg.BuildAndPersist("widgets", "sku", records))

	require.True(t, reg.Exists("widgets", "sku"))
	idx, ok := reg.Get("widgets", "sku")
	require.True(t, ok)
	require.Equal(t, []int{0}, idx["A"])
}

func TestRegistryDropRemovesIndex(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)

	require.NoError(t, reg.BuildAndPersist("widgets", "sku", []record.Record{{"sku": "A"}}))
	require.NoError(t, reg.Drop("widgets", "sku"))

	require.False(t, reg.Exists("widgets", "sku"))
	_, err := Load(FilePath(dir, "widgets", "sku"))
	require.NoError(t, err)
}

func TestRegistryRebuildAllRefreshesTrackedFieldsOnly(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)

	require.NoError(t, reg.BuildAndPersist("widgets", "sku", []record.Record{{"sku": "A"}}))

	updated := []record.Record{{"sku": "A"}, {"sku": "A"}}
	require.NoError(t, reg.RebuildAll("widgets", updated))

	idx, ok := reg.Get("widgets", "sku")
	require.True(t, ok)
	require.Equal(t, []int{0, 1}, idx["A"])

	// A field with no built index stays untouched: RebuildAll must not
	// build indexes that were never requested.
	require.False(t, reg.Exists("widgets", "color"))
}

func TestRegistryRebuildAllNoOpWhenNothingTracked(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)
	require.NoError(t, reg.RebuildAll("widgets", []record.Record{{"sku": "A"}}))
}

func TestRegistryDropCollectionRemovesAllFields(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir)

	require.NoError(t, reg.BuildAndPersist("widgets", "sku", []record.Record{{"sku": "A"}}))
	require.NoError(t, reg.BuildAndPersist("widgets", "color", []record.Record{{"color": "red"}}))

	reg.DropCollection("widgets")

	require.False(t, reg.Exists("widgets", "sku"))
	require.False(t, reg.Exists("widgets", "color"))
}
