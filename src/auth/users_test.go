package auth

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddUserAndVerify(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadUserStore(filepath.Join(dir, ".users"))
	require.NoError(t, err)

	require.NoError(t, store.AddUser("alice", "writer", "hunter2"))

	role, ok := store.Verify("alice", "hunter2")
	require.True(t, ok)
	require.Equal(t, "writer", role)

	_, ok = store.Verify("alice", "wrong-password")
	require.False(t, ok)
}

func TestAddUserDuplicateFails(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadUserStore(filepath.Join(dir, ".users"))
	require.NoError(t, err)

	require.NoError(t, store.AddUser("alice", "writer", "hunter2"))
	require.Error(t, store.AddUser("alice", "reader", "another"))
}

func TestUserStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".users")

	store, err := LoadUserStore(path)
	require.NoError(t, err)
	require.NoError(t, store.AddUser("bob", "reader", "s3cret"))
	require.NoError(t, store.Save())

	reloaded, err := LoadUserStore(path)
	require.NoError(t, err)

	role, ok := reloaded.RoleOf("bob")
	require.True(t, ok)
	require.Equal(t, "reader", role)

	_, ok = reloaded.Verify("bob", "s3cret")
	require.True(t, ok)
}

func TestVerifyUnknownUserFails(t *testing.T) {
	dir := t.TempDir()
	store, err := LoadUserStore(filepath.Join(dir, ".users"))
	require.NoError(t, err)

	_, ok := store.Verify("nobody", "whatever")
	require.False(t, ok)
}
