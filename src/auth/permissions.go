// Package auth implements the role-based permission gate (spec §4.J) and
// an optional user store (SPEC_FULL §4.J expansion, §12) adapted from the
// teacher's auth/user.go Argon2id password hashing.
package auth

import (
	"encoding/json"
	"os"
	"sync"

	"tdbx/src/tdberr"
)

// Action names the permission gate checks (spec §4.J).
const (
	ActionQuery            = "query"
	ActionInsert           = "insert"
	ActionUpdate           = "update"
	ActionDelete           = "delete"
	ActionIndex            = "index"
	ActionCreateCollection = "create_collection"
	ActionDropCollection   = "drop_collection"
	ActionBackup           = "backup"
	ActionRestore          = "restore"
	ActionManageUsers      = "manage_users"
)

// Table is a static role name -> permitted action names mapping,
// sourced from the ".auth" metadata document (spec §3, §6.1).
type Table struct {
	mu    sync.RWMutex
	roles map[string][]string
}

// LoadTable reads the .auth JSON document at path.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Table{roles: make(map[string][]string)}, nil
		}
		return nil, tdberr.FileRead(err, "reading auth file %s", path)
	}

	var roles map[string][]string
	if err := json.Unmarshal(data, &roles); err != nil {
		return nil, tdberr.DataCorruption(err, "auth file %s is not valid JSON", path)
	}
	return &Table{roles: roles}, nil
}

// Save writes the table back to path as pretty JSON.
func (t *Table) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	data, err := json.MarshalIndent(t.roles, "", "  ")
	if err != nil {
		return tdberr.FileWrite(err, "encoding auth file %s", path)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return tdberr.FileWrite(err, "writing auth file %s", path)
	}
	return nil
}

// SetRole assigns the allowed actions for a role, used by tests and
// bootstrap code that has no .auth file yet.
func (t *Table) SetRole(role string, actions []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.roles == nil {
		t.roles = make(map[string][]string)
	}
	t.roles[role] = actions
}

// Allowed returns the actions permitted for role.
func (t *Table) Allowed(role string) ([]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	actions, ok := t.roles[role]
	return actions, ok
}

// Check enforces spec §4.J: absence of the role or of the action within
// the role's allowed set yields a permission-error enumerating what the
// role may do.
func (t *Table) Check(role, action string) error {
	allowed, ok := t.Allowed(role)
	if !ok {
		return tdberr.Permission(role, action, nil)
	}
	for _, a := range allowed {
		if a == action {
			return nil
		}
	}
	return tdberr.Permission(role, action, allowed)
}

// DefaultTable returns a permission table with a conventional
// "admin"/"reader"/"writer" starter set, used when no .auth file exists
// yet (first run).
func DefaultTable() *Table {
	t := &Table{roles: make(map[string][]string)}
	t.SetRole("admin", []string{
		ActionQuery, ActionInsert, ActionUpdate, ActionDelete, ActionIndex,
		ActionCreateCollection, ActionDropCollection, ActionBackup, ActionRestore,
		ActionManageUsers,
	})
	t.SetRole("writer", []string{ActionQuery, ActionInsert, ActionUpdate, ActionDelete})
	t.SetRole("reader", []string{ActionQuery})
	return t
}
