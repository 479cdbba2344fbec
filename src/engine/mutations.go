package engine

import (
	"context"
	"strings"

	"tdbx/src/auth"
	"tdbx/src/query"
	"tdbx/src/record"
	"tdbx/src/storage"
	"tdbx/src/tdberr"
	"tdbx/src/txn"
)

// mutate performs one read-modify-write cycle against a collection file
// under its file gate: load, apply fn, persist, rebuild any indexes the
// write invalidated, refresh the cache (spec.md §4.C, §4.D, §4.H). fn
// returns the new record slice and an operation-specific affected count.
func (e *Engine) mutate(ctx context.Context, collection, action string, fn func([]record.Record) ([]record.Record, int, error)) (int, error) {
	if err := validateCollectionName(collection); err != nil {
		return 0, err
	}
	release, err := e.enter(ctx, action)
	if err != nil {
		return 0, err
	}
	defer release()

	path := e.collectionPath(collection)
	var affected int
	err = e.gate.WithPathLock(path, func() error {
		records, err := e.store.Load(path)
		if err != nil {
			return err
		}
		updated, n, err := fn(records)
		if err != nil {
			return err
		}
		if err := e.store.Save(path, updated); err != nil {
			return err
		}
		if err := e.indexes.RebuildAll(collection, updated); err != nil {
			return err
		}
		e.cache.Put(collection, updated, storage.Mtime(path))
		affected = n
		return nil
	})
	return affected, err
}

// Insert appends rec to collection (spec.md §4.H "Insert"). No
// uniqueness enforcement.
func (e *Engine) Insert(ctx context.Context, collection string, rec record.Record) error {
	if rec == nil {
		return tdberr.Validation("insert requires a non-nil record")
	}
	_, err := e.mutate(ctx, collection, auth.ActionInsert, func(records []record.Record) ([]record.Record, int, error) {
		return append(records, record.Clone(rec)), 1, nil
	})
	if err == nil {
		_ = e.journal.Record("insert", collection, "")
	}
	return err
}

// Update shallow-merges changes into every record matching filter,
// returning the number of records modified (spec.md §4.H "Update").
// Change keys containing "." are rejected rather than silently
// misinterpreted as a nested-path write (SPEC_FULL.md §4.H, resolved
// open question).
func (e *Engine) Update(ctx context.Context, collection string, filter query.Filter, changes record.Record) (int, error) {
	if err := validateChangeKeys(changes); err != nil {
		return 0, err
	}

	n, err := e.mutate(ctx, collection, auth.ActionUpdate, func(records []record.Record) ([]record.Record, int, error) {
		count := 0
		for i, r := range records {
			ok, err := query.Match(r, filter)
			if err != nil {
				return nil, 0, err
			}
			if !ok {
				continue
			}
			merged := record.Clone(r)
			for k, v := range changes {
				merged[k] = v
			}
			records[i] = merged
			count++
		}
		return records, count, nil
	})
	if err == nil {
		_ = e.journal.Record("update", collection, "")
	}
	return n, err
}

func validateChangeKeys(changes record.Record) error {
	for k := range changes {
		if strings.Contains(k, ".") {
			return tdberr.Validation("update change key %q may not contain '.'; dotted-path updates are not supported", k)
		}
	}
	return nil
}

// Delete removes every record matching filter, returning the number of
// records removed (spec.md §4.H "Delete").
func (e *Engine) Delete(ctx context.Context, collection string, filter query.Filter) (int, error) {
	n, err := e.mutate(ctx, collection, auth.ActionDelete, func(records []record.Record) ([]record.Record, int, error) {
		kept := make([]record.Record, 0, len(records))
		removed := 0
		for _, r := range records {
			ok, err := query.Match(r, filter)
			if err != nil {
				return nil, 0, err
			}
			if ok {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		return kept, removed, nil
	})
	if err == nil {
		_ = e.journal.Record("delete", collection, "")
	}
	return n, err
}

// BuildIndex streams collection, mapping each stringified field value to
// the positions that carry it, and persists the result (spec.md §4.H
// "Build index").
func (e *Engine) BuildIndex(ctx context.Context, collection, field string) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	release, err := e.enter(ctx, auth.ActionIndex)
	if err != nil {
		return err
	}
	defer release()

	path := e.collectionPath(collection)
	return e.gate.WithPathLock(path, func() error {
		records, err := e.store.Load(path)
		if err != nil {
			return err
		}
		if err := e.indexes.BuildAndPersist(collection, field, records); err != nil {
			return err
		}
		return e.journal.Record("build_index", collection, field)
	})
}

// DropIndex removes the in-memory and on-disk index artifacts for
// (collection, field) (spec.md §4.H "Drop index").
func (e *Engine) DropIndex(ctx context.Context, collection, field string) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	release, err := e.enter(ctx, auth.ActionIndex)
	if err != nil {
		return err
	}
	defer release()

	if err := e.indexes.Drop(collection, field); err != nil {
		return err
	}
	return e.journal.Record("drop_index", collection, field)
}

// BeginTx allocates a new pending transaction (spec.md §4.I "Begin").
func (e *Engine) BeginTx() *txn.Transaction {
	return e.txns.Begin()
}

// DiscardTx abandons tx without replaying or restoring anything, for a
// caller that decides not to proceed, whether or not it has enqueued
// operations (spec.md §4.I). Unlike RollbackTx, it never touches storage.
func (e *Engine) DiscardTx(tx *txn.Transaction) {
	e.txns.Abort(tx)
}

// InsertInTx enqueues an insert to run at commit time, snapshotting
// collection's pre-image on its first touch within tx (spec.md §4.I
// "Enqueue").
func (e *Engine) InsertInTx(tx *txn.Transaction, collection string, rec record.Record) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if err := e.perms.Check(e.currentRole(), auth.ActionInsert); err != nil {
		return err
	}
	if rec == nil {
		return tdberr.Validation("insert requires a non-nil record")
	}

	current, err := e.loadCollection(collection)
	if err != nil {
		return err
	}
	e.txns.SnapshotIfNeeded(tx, collection, current)

	e.txns.Enqueue(tx, collection, func() error {
		return e.Insert(context.Background(), collection, rec)
	})
	return nil
}

// UpdateInTx enqueues an update to run at commit time.
func (e *Engine) UpdateInTx(tx *txn.Transaction, collection string, filter query.Filter, changes record.Record) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if err := validateChangeKeys(changes); err != nil {
		return err
	}
	if err := e.perms.Check(e.currentRole(), auth.ActionUpdate); err != nil {
		return err
	}

	current, err := e.loadCollection(collection)
	if err != nil {
		return err
	}
	e.txns.SnapshotIfNeeded(tx, collection, current)

	e.txns.Enqueue(tx, collection, func() error {
		_, err := e.Update(context.Background(), collection, filter, changes)
		return err
	})
	return nil
}

// DeleteInTx enqueues a delete to run at commit time.
func (e *Engine) DeleteInTx(tx *txn.Transaction, collection string, filter query.Filter) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if err := e.perms.Check(e.currentRole(), auth.ActionDelete); err != nil {
		return err
	}

	current, err := e.loadCollection(collection)
	if err != nil {
		return err
	}
	e.txns.SnapshotIfNeeded(tx, collection, current)

	e.txns.Enqueue(tx, collection, func() error {
		_, err := e.Delete(context.Background(), collection, filter)
		return err
	})
	return nil
}

// CommitTx replays tx's operations in order against live storage. On
// failure partway through it rolls back and surfaces the original error
// as a transaction-error (spec.md §4.I "Commit").
func (e *Engine) CommitTx(tx *txn.Transaction) error {
	if err := e.txns.Commit(tx); err != nil {
		_ = e.RollbackTx(tx)
		return err
	}
	return e.journal.Record("commit", "", tx.ID)
}

// RollbackTx rewrites every collection tx touched with its pre-image and
// refreshes the cache (spec.md §4.I "Rollback").
func (e *Engine) RollbackTx(tx *txn.Transaction) error {
	backups := e.txns.Rollback(tx)
	for collection, records := range backups {
		path := e.collectionPath(collection)
		err := e.gate.WithPathLock(path, func() error {
			if err := e.store.Save(path, records); err != nil {
				return err
			}
			if err := e.indexes.RebuildAll(collection, records); err != nil {
				return err
			}
			e.cache.Put(collection, records, storage.Mtime(path))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return e.journal.Record("rollback", "", tx.ID)
}
