package txn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tdbx/src/record"
)

func TestBeginAssignsUniqueID(t *testing.T) {
	m := NewManager()
	a := m.Begin()
	b := m.Begin()

	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.Equal(t, StatusPending, a.Status)
}

func TestSnapshotIfNeededOnlySnapshotsOnce(t *testing.T) {
	m := NewManager()
	tx := m.Begin()

	first := []record.Record{{"id": float64(1)}}
	m.SnapshotIfNeeded(tx, "widgets", first)

	second := []record.Record{{"id": float64(2)}}
	m.SnapshotIfNeeded(tx, "widgets", second)

	require.Equal(t, first, tx.Backups["widgets"])
}

func TestCommitReplaysOperationsInOrder(t *testing.T) {
	m := NewManager()
	tx := m.Begin()

	var order []int
	m.Enqueue(tx, "widgets", func() error { order = append(order, 1); return nil })
	m.Enqueue(tx, "widgets", func() error { order = append(order, 2); return nil })

	require.NoError(t, m.Commit(tx))
	require.Equal(t, []int{1, 2}, order)

	_, ok := m.Get(tx.ID)
	require.False(t, ok, "committed transaction should no longer be tracked")
}

func TestCommitFailurePreservesTransactionForRollback(t *testing.T) {
	m := NewManager()
	tx := m.Begin()

	m.SnapshotIfNeeded(tx, "widgets", []record.Record{{"id": float64(1)}})
	m.Enqueue(tx, "widgets", func() error { return errors.New("boom") })

	err := m.Commit(tx)
	require.Error(t, err)

	_, ok := m.Get(tx.ID)
	require.True(t, ok, "failed commit should leave transaction active for rollback")
}

func TestRollbackReturnsSnapshotsAndClearsTransaction(t *testing.T) {
	m := NewManager()
	tx := m.Begin()

	pre := []record.Record{{"id": float64(1)}}
	m.SnapshotIfNeeded(tx, "widgets", pre)

	backups := m.Rollback(tx)
	require.Equal(t, pre, backups["widgets"])
	require.Equal(t, StatusRolledBack, tx.Status)

	_, ok := m.Get(tx.ID)
	require.False(t, ok)
}
