package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tdbx/src/record"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New(10)
	mtime := time.Now()
	records := []record.Record{{"a": float64(1)}}

	c.Put("widgets", records, mtime)

	got, ok := c.Get("widgets", mtime)
	require.True(t, ok)
	require.Equal(t, records, got)
}

func TestGetReturnsDefensiveCopy(t *testing.T) {
	c := New(10)
	mtime := time.Now()
	records := []record.Record{{"a": float64(1)}}
	c.Put("widgets", records, mtime)

	got, ok := c.Get("widgets", mtime)
	require.True(t, ok)
	got[0]["a"] = float64(999)

	got2, ok := c.Get("widgets", mtime)
	require.True(t, ok)
	require.Equal(t, float64(1), got2[0]["a"])
}

func TestGetStaleEntryMisses(t *testing.T) {
	c := New(10)
	mtime := time.Now()
	c.Put("widgets", []record.Record{{"a": float64(1)}}, mtime)

	_, ok := c.Get("widgets", mtime.Add(time.Second))
	require.False(t, ok)
}

func TestEvictionDropsOldestAccess(t *testing.T) {
	c := New(2)
	now := time.Now()

	c.Put("a", []record.Record{{"x": float64(1)}}, now)
	c.Put("b", []record.Record{{"x": float64(2)}}, now)

	// Touch "a" so it's more recently used than "b".
	_, _ = c.Get("a", now)

	c.Put("c", []record.Record{{"x": float64(3)}}, now)

	require.False(t, c.Has("b"))
	require.True(t, c.Has("a"))
	require.True(t, c.Has("c"))
}

func TestInvalidateDropsEntry(t *testing.T) {
	c := New(10)
	c.Put("widgets", []record.Record{}, time.Now())
	c.Invalidate("widgets")
	require.False(t, c.Has("widgets"))
}

func TestRecordFilterFieldsCrossesThreshold(t *testing.T) {
	c := New(10)
	var crossed []string
	for i := 0; i < AutoIndexThreshold+1; i++ {
		crossed = c.RecordFilterFields("widgets", []string{"sku"})
	}
	require.Contains(t, crossed, "sku")
}
