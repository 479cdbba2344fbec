// Package txn implements the transaction manager of spec §4.I:
// begin/enqueue/commit/rollback with per-collection snapshot-on-first-
// touch. Transaction IDs follow the teacher's helpers.GenerateUUID
// pattern via github.com/google/uuid.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"tdbx/src/record"
	"tdbx/src/tdberr"
)

// Status is the lifecycle state of a Transaction (spec §3 "Transaction
// record").
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled-back"
)

// Op is one pending mutation recorded inside a transaction. Apply is
// supplied by the engine layer, which knows how to replay each operation
// kind against live storage.
type Op struct {
	Collection string
	Apply      func() error
}

// Transaction is a transient entity: an ordered list of pending
// operations and a per-collection pre-image snapshot (spec §3).
type Transaction struct {
	ID       string
	Ops      []Op
	Backups  map[string][]record.Record
	Status   Status
}

// Manager tracks all active transactions for one engine instance
// (spec §9 "engine-instance fields, not module globals").
type Manager struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

// NewManager builds an empty transaction table.
func NewManager() *Manager {
	return &Manager{txns: make(map[string]*Transaction)}
}

// Begin allocates a fresh transaction identifier and an empty pending
// transaction (spec §4.I "Begin").
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Transaction{
		ID:      uuid.NewString(),
		Backups: make(map[string][]record.Record),
		Status:  StatusPending,
	}
	m.txns[t.ID] = t
	return t
}

// Get looks up an active transaction by ID.
func (m *Manager) Get(id string) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	return t, ok
}

// SnapshotIfNeeded records collection's pre-image the first time the
// transaction touches it (spec §4.I "Enqueue").
func (m *Manager) SnapshotIfNeeded(t *Transaction, collection string, currentRecords []record.Record) {
	if _, ok := t.Backups[collection]; ok {
		return
	}
	t.Backups[collection] = record.CloneAll(currentRecords)
}

// Enqueue appends a pending operation to t.
func (m *Manager) Enqueue(t *Transaction, collection string, apply func() error) {
	t.Ops = append(t.Ops, Op{Collection: collection, Apply: apply})
}

// Commit replays t's operations in order against live storage. On
// failure partway through, the caller is responsible for invoking
// Rollback with restore before surfacing a transaction-error (spec
// §4.I "Commit").
func (m *Manager) Commit(t *Transaction) error {
	for _, op := range t.Ops {
		if err := op.Apply(); err != nil {
			return tdberr.Transaction(err, "commit failed replaying operation on collection %q", op.Collection)
		}
	}

	m.mu.Lock()
	t.Status = StatusCommitted
	delete(m.txns, t.ID)
	m.mu.Unlock()

	return nil
}

// Rollback returns t's per-collection snapshots so the caller (engine
// layer) can rewrite each collection file with its pre-image and refresh
// the cache (spec §4.I "Rollback"). The Manager itself holds no storage
// reference, so it cannot perform the file rewrite.
func (m *Manager) Rollback(t *Transaction) map[string][]record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.Status = StatusRolledBack
	delete(m.txns, t.ID)
	return t.Backups
}

// Abort removes a transaction from the table without touching storage or
// returning its snapshots (used by the engine's DiscardTx).
func (m *Manager) Abort(t *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.txns, t.ID)
}
