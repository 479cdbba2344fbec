// Package engine wires components A-K together into the public Engine
// type: the single entry point an embedding process calls into. Grounded
// on the teacher's directors/database_service.go (a service struct
// holding a storage engine, a factory, and a logger, exposing CRUD
// methods) and directors/service_manager.go (one instance constructed per
// process).
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"tdbx/src/auth"
	"tdbx/src/backup"
	"tdbx/src/cache"
	"tdbx/src/config"
	"tdbx/src/gate"
	"tdbx/src/index"
	"tdbx/src/journal"
	"tdbx/src/logging"
	"tdbx/src/query"
	"tdbx/src/record"
	"tdbx/src/storage"
	"tdbx/src/tdberr"
	"tdbx/src/txn"
)

const (
	authFileName  = ".auth"
	usersFileName = ".users"
	journalName   = ".journal"
)

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Engine is the single in-process entry point embedding processes call
// into (spec.md §1, §9 "one engine per database directory").
type Engine struct {
	dbDir   string
	roleMu  sync.RWMutex
	role    string
	store   *storage.Store
	gate    *gate.Gate
	cache   *cache.Cache
	indexes *index.Registry
	txns    *txn.Manager
	perms   *auth.Table
	users   *auth.UserStore
	logger  *zap.SugaredLogger
	journal *journal.Journal

	authPath  string
	usersPath string

	queryTimeoutMS int
}

// New constructs an Engine from a fully-validated configuration record
// (spec.md §1 "the engine receives a fully-validated configuration
// record at construction").
func New(cfg config.Config) (*Engine, error) {
	logger, err := logging.New(false)
	if err != nil {
		return nil, fmt.Errorf("constructing logger: %w", err)
	}
	return NewWithLogger(cfg, logger)
}

// NewWithLogger constructs an Engine the same way New does, but with a
// caller-supplied logger instead of the default production one. Tests and
// embedders that already run their own zap logger (or want
// logging.Noop() to silence engine output) use this instead of New.
func NewWithLogger(cfg config.Config, logger *zap.SugaredLogger) (*Engine, error) {
	if err := os.MkdirAll(cfg.Database, 0755); err != nil {
		return nil, tdberr.FileWrite(err, "creating database directory %s", cfg.Database)
	}

	j, err := journal.Open(filepath.Join(cfg.Database, journalName), journal.DefaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("opening mutation journal: %w", err)
	}

	st := storage.New(storage.Mode(cfg.Mode), cfg.EncryptionKey, logger, j)

	authPath := filepath.Join(cfg.Database, authFileName)
	var perms *auth.Table
	if _, statErr := os.Stat(authPath); os.IsNotExist(statErr) {
		// First run against a database with no auth file yet: bootstrap the
		// conventional admin/writer/reader table and persist it so
		// subsequent runs see a stable table.
		perms = auth.DefaultTable()
		if err := perms.Save(authPath); err != nil {
			return nil, err
		}
	} else {
		perms, err = auth.LoadTable(authPath)
		if err != nil {
			return nil, err
		}
	}

	usersPath := filepath.Join(cfg.Database, usersFileName)
	users, err := auth.LoadUserStore(usersPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dbDir:          cfg.Database,
		role:           cfg.Role,
		store:          st,
		gate:           gate.New(cfg.MaxConnections),
		cache:          cache.New(cfg.MaxCacheSize),
		indexes:        index.NewRegistry(cfg.Database),
		txns:           txn.NewManager(),
		perms:          perms,
		users:          users,
		logger:         logger,
		journal:        j,
		authPath:       authPath,
		usersPath:      usersPath,
		queryTimeoutMS: cfg.QueryTimeoutMS,
	}
	return e, nil
}

// QueryTimeout returns the configured advisory query timeout in
// milliseconds (spec.md §6.2 "queryTimeout"), for callers that want to
// derive a context.WithTimeout before calling Query/Aggregate.
func (e *Engine) QueryTimeout() int {
	return e.queryTimeoutMS
}

// Close releases the resources the engine holds open (currently just the
// mutation journal file handle).
func (e *Engine) Close() error {
	if e.journal == nil {
		return nil
	}
	return e.journal.Close()
}

// collectionPath returns the on-disk path of a collection's data file.
func (e *Engine) collectionPath(name string) string {
	return filepath.Join(e.dbDir, name+".tdbx")
}

func validateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return tdberr.Validation("collection name %q must match [A-Za-z0-9_-]{1,64}", name)
	}
	return nil
}

// enter acquires a global concurrency permit and checks the role's
// permission for action, in that order (spec.md §5, §9 "permit pool
// bounded by maxConnections", acquired before the permission check).
// The returned release func must be called exactly once.
func (e *Engine) enter(ctx context.Context, action string) (func(), error) {
	if err := e.gate.AcquirePermit(ctx); err != nil {
		return nil, err
	}
	if err := e.perms.Check(e.currentRole(), action); err != nil {
		e.gate.ReleasePermit()
		return nil, err
	}
	return e.gate.ReleasePermit, nil
}

// currentRole returns the role the engine is currently acting under.
func (e *Engine) currentRole() string {
	e.roleMu.RLock()
	defer e.roleMu.RUnlock()
	return e.role
}

func (e *Engine) setRole(role string) {
	e.roleMu.Lock()
	defer e.roleMu.Unlock()
	e.role = role
}

// Authenticate verifies a username/password pair against the optional
// user store and, on success, switches the role the engine acts under to
// the verified user's configured role (spec.md §4.J expansion, §12 "an
// optional layer in front of role selection... never required").
func (e *Engine) Authenticate(username, password string) error {
	role, ok := e.users.Verify(username, password)
	if !ok {
		return tdberr.Permission(username, "authenticate", nil)
	}
	e.setRole(role)
	return e.journal.Record("authenticate", "", username)
}

// CreateUser adds a user to the optional user store and persists it,
// requiring the "manage_users" permission (spec.md §4.J expansion).
func (e *Engine) CreateUser(ctx context.Context, username, role, password string) error {
	release, err := e.enter(ctx, auth.ActionManageUsers)
	if err != nil {
		return err
	}
	defer release()

	if err := e.users.AddUser(username, role, password); err != nil {
		return err
	}
	if err := e.users.Save(); err != nil {
		return err
	}
	return e.journal.Record("create_user", "", username)
}

// loadCollection returns a collection's records, consulting the cache
// lock-free and refetching from storage under the file gate only when
// the cache entry is stale or absent (spec.md §4.C, §4.D).
func (e *Engine) loadCollection(collection string) ([]record.Record, error) {
	path := e.collectionPath(collection)
	mtime := storage.Mtime(path)

	if recs, ok := e.cache.Get(collection, mtime); ok {
		return recs, nil
	}

	var recs []record.Record
	err := e.gate.WithPathLock(path, func() error {
		if fresh, ok := e.cache.Get(collection, storage.Mtime(path)); ok {
			recs = fresh
			return nil
		}
		loaded, err := e.store.Load(path)
		if err != nil {
			return err
		}
		recs = loaded
		e.cache.Put(collection, loaded, storage.Mtime(path))
		return nil
	})
	return recs, err
}

// Query runs a filter/sort/skip/limit/projection pipeline over a
// collection (spec.md §4.F), honoring the query-pattern counters that
// drive auto-indexing (spec.md §4.D, §4.H) and an advisory context
// deadline (SPEC_FULL.md §5).
func (e *Engine) Query(ctx context.Context, collection string, p query.Pipeline) ([]record.Record, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	release, err := e.enter(ctx, auth.ActionQuery)
	if err != nil {
		return nil, err
	}
	defer release()

	records, err := e.loadCollection(collection)
	if err != nil {
		return nil, err
	}

	e.maybeAutoIndex(collection, records, query.TopLevelFields(p.Filter))

	return query.Run(ctx, records, p, e.indexes, collection)
}

// LoadStrict returns collection's records without the usual non-array
// auto-wrap: a collection file holding a bare JSON object or scalar
// surfaces a data-format-error instead of being silently wrapped in a
// single-element slice (spec.md §7 "data-format-error ... when auto-wrap
// is disabled for the caller"). It bypasses the cache since the cache
// only ever stores auto-wrapped results.
func (e *Engine) LoadStrict(ctx context.Context, collection string) ([]record.Record, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	release, err := e.enter(ctx, auth.ActionQuery)
	if err != nil {
		return nil, err
	}
	defer release()

	path := e.collectionPath(collection)
	var recs []record.Record
	err = e.gate.WithPathLock(path, func() error {
		loaded, err := e.store.LoadStrict(path)
		if err != nil {
			return err
		}
		recs = loaded
		return nil
	})
	return recs, err
}

// Aggregate runs a $match/$group/$sort/$skip/$limit stage sequence over a
// collection (spec.md §4.G).
func (e *Engine) Aggregate(ctx context.Context, collection string, stages []query.Stage) ([]record.Record, error) {
	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	release, err := e.enter(ctx, auth.ActionQuery)
	if err != nil {
		return nil, err
	}
	defer release()

	records, err := e.loadCollection(collection)
	if err != nil {
		return nil, err
	}
	return query.RunAggregate(ctx, records, stages)
}

// maybeAutoIndex increments the per-field query-pattern counters and
// synchronously builds an index for any field whose counter is above the
// threshold and has none yet (spec.md §4.D, §4.H).
func (e *Engine) maybeAutoIndex(collection string, records []record.Record, fields []string) {
	if len(fields) == 0 {
		return
	}
	crossed := e.cache.RecordFilterFields(collection, fields)
	for _, field := range crossed {
		if e.indexes.Exists(collection, field) {
			continue
		}
		if err := e.indexes.BuildAndPersist(collection, field, records); err != nil {
			e.logger.Warnw("auto-index build failed", "collection", collection, "field", field, "error", err)
			continue
		}
		e.logger.Debugw("auto-index built", "collection", collection, "field", field)
	}
}

// ListCollections returns every collection name with a ".tdbx" file
// under the database directory.
func (e *Engine) ListCollections() ([]string, error) {
	entries, err := os.ReadDir(e.dbDir)
	if err != nil {
		return nil, tdberr.FileRead(err, "reading database directory %s", e.dbDir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		const suffix = ".tdbx"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			names = append(names, name[:len(name)-len(suffix)])
		}
	}
	return names, nil
}

// CreateCollection explicitly creates an empty collection file (spec.md
// §3 "Lifecycle" — a collection may also be created implicitly by the
// first successful insert).
func (e *Engine) CreateCollection(ctx context.Context, collection string) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	release, err := e.enter(ctx, auth.ActionCreateCollection)
	if err != nil {
		return err
	}
	defer release()

	path := e.collectionPath(collection)
	return e.gate.WithPathLock(path, func() error {
		if err := e.store.Save(path, []record.Record{}); err != nil {
			return err
		}
		e.cache.Put(collection, []record.Record{}, storage.Mtime(path))
		return e.journal.Record("create_collection", collection, "")
	})
}

// DropCollection deletes a collection's file, cache entry, indexes, and
// query-pattern counters (spec.md §3 "Lifecycle").
func (e *Engine) DropCollection(ctx context.Context, collection string) error {
	if err := validateCollectionName(collection); err != nil {
		return err
	}
	release, err := e.enter(ctx, auth.ActionDropCollection)
	if err != nil {
		return err
	}
	defer release()

	path := e.collectionPath(collection)
	err = e.gate.WithPathLock(path, func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return tdberr.FileWrite(err, "removing collection file %s", path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.cache.Invalidate(collection)
	e.indexes.DropCollection(collection)
	e.gate.Forget(path)
	return e.journal.Record("drop_collection", collection, "")
}

// Backup snapshots every collection and metadata file into a fresh
// backup directory (spec.md §4.K).
func (e *Engine) Backup(ctx context.Context) (string, error) {
	release, err := e.enter(ctx, auth.ActionBackup)
	if err != nil {
		return "", err
	}
	defer release()

	dir, err := backup.Backup(e.dbDir, string(e.currentMode()))
	if err != nil {
		return "", err
	}
	_ = e.journal.Record("backup", "", dir)
	return dir, nil
}

// Restore replaces the live database with the contents of backupDir,
// then clears every cache/index and reloads the auth/users documents
// (spec.md §4.K).
func (e *Engine) Restore(ctx context.Context, backupDir string) error {
	release, err := e.enter(ctx, auth.ActionRestore)
	if err != nil {
		return err
	}
	defer release()

	if err := backup.Restore(e.dbDir, backupDir, string(e.currentMode())); err != nil {
		return err
	}

	e.cache = cache.New(e.cache.MaxSize())
	e.indexes = index.NewRegistry(e.dbDir)

	perms, err := auth.LoadTable(e.authPath)
	if err != nil {
		return err
	}
	e.perms = perms

	users, err := auth.LoadUserStore(e.usersPath)
	if err != nil {
		return err
	}
	e.users = users

	return e.journal.Record("restore", "", backupDir)
}

func (e *Engine) currentMode() storage.Mode {
	return e.store.Mode
}
