// users.go implements the optional ".users" metadata document (spec §3,
// §6.1): user name -> {role, ...}. Password hashing follows the
// teacher's auth/user.go Argon2id parameters exactly (SPEC_FULL §4.J
// expansion), but the store itself is scoped down to spec §3's flatter
// "name -> {role}" shape; the teacher's asset-level Read/Write ACL has no
// counterpart here.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"

	"tdbx/src/tdberr"
)

const (
	argon2Time    = uint32(1)
	argon2Memory  = uint32(64 * 1024)
	argon2Threads = uint8(4)
	argon2KeyLen  = uint32(32)
)

// UserRecord is one entry in the .users document.
type UserRecord struct {
	Role         string `json:"role"`
	PasswordSalt string `json:"passwordSalt,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

// UserStore is an optional layer in front of role selection: if present,
// callers can verify a username/password before acting under the
// resulting role. Engine construction never requires this.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]UserRecord
	path  string
}

// LoadUserStore reads the .users JSON document at path, or returns an
// empty store if it does not exist.
func LoadUserStore(path string) (*UserStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &UserStore{users: make(map[string]UserRecord), path: path}, nil
		}
		return nil, tdberr.FileRead(err, "reading users file %s", path)
	}

	var users map[string]UserRecord
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, tdberr.DataCorruption(err, "users file %s is not valid JSON", path)
	}
	return &UserStore{users: users, path: path}, nil
}

// Save persists the store back to its path.
func (s *UserStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return tdberr.FileWrite(err, "encoding users file %s", s.path)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return tdberr.FileWrite(err, "writing users file %s", s.path)
	}
	return nil
}

// AddUser creates a user with an Argon2id-hashed password, using the
// same parameters as the teacher's auth/user.go AddUser.
func (s *UserStore) AddUser(name, role, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.users == nil {
		s.users = make(map[string]UserRecord)
	}
	if _, exists := s.users[name]; exists {
		return tdberr.Validation("user %q already exists", name)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return tdberr.Validation("failed to generate salt: %v", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	s.users[name] = UserRecord{
		Role:         role,
		PasswordSalt: hex.EncodeToString(salt),
		PasswordHash: hex.EncodeToString(hash),
	}
	return nil
}

// Verify checks a username/password pair, returning the user's role on
// success.
func (s *UserStore) Verify(name, password string) (role string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[name]
	if !exists || u.PasswordSalt == "" {
		return "", false
	}

	salt, err := hex.DecodeString(u.PasswordSalt)
	if err != nil {
		return "", false
	}
	want, err := hex.DecodeString(u.PasswordHash)
	if err != nil {
		return "", false
	}

	got := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	if !constantTimeEqual(got, want) {
		return "", false
	}
	return u.Role, true
}

// RoleOf returns the configured role for a user without checking a
// password, used when callers only want name->role resolution.
func (s *UserStore) RoleOf(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[name]
	if !ok {
		return "", false
	}
	return u.Role, true
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := range a {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
