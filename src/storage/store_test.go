package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tdbx/src/record"
	"tdbx/src/tdberr"
)

func newTestStore() *Store {
	return New(ModePlain, "", nil, nil)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.tdbx")
	s := newTestStore()

	records := []record.Record{
		{"id": float64(1), "name": "Alice"},
		{"id": float64(2), "name": "Bob"},
	}

	require.NoError(t, s.Save(path, records))

	loaded, err := s.Load(path)
	require.NoError(t, err)
	require.Equal(t, records, loaded)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore()

	loaded, err := s.Load(filepath.Join(dir, "nope.tdbx"))
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestLoadEmptyFileAutoRepairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.tdbx")
	require.NoError(t, os.WriteFile(path, []byte{}, 0644))

	s := newTestStore()
	loaded, err := s.Load(path)
	require.NoError(t, err)
	require.Empty(t, loaded)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))
}

func TestLoadCorruptFilePreservesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.tdbx")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	s := newTestStore()
	loaded, err := s.Load(path)
	require.NoError(t, err)
	require.Empty(t, loaded)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var foundBackup bool
	for _, e := range entries {
		if e.Name() != "widgets.tdbx" {
			foundBackup = true
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			require.Equal(t, "not json", string(data))
		}
	}
	require.True(t, foundBackup, "expected a .backup.<ts> sibling file")
}

func TestLoadNonArrayValueAutoWraps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.tdbx")
	require.NoError(t, os.WriteFile(path, []byte(`{"x":1}`), 0644))

	s := newTestStore()
	loaded, err := s.Load(path)
	require.NoError(t, err)
	require.Equal(t, []record.Record{{"x": float64(1)}}, loaded)
}

func TestLoadStrictRejectsNonArrayValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.tdbx")
	require.NoError(t, os.WriteFile(path, []byte(`{"x":1}`), 0644))

	s := newTestStore()
	_, err := s.LoadStrict(path)
	require.Error(t, err)

	kind, ok := tdberr.Of(err)
	require.True(t, ok)
	require.Equal(t, tdberr.KindDataFormat, kind)
}

func TestLoadStrictAcceptsArrayValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widgets.tdbx")
	s := newTestStore()
	require.NoError(t, s.Save(path, []record.Record{{"id": float64(1)}}))

	loaded, err := s.LoadStrict(path)
	require.NoError(t, err)
	require.Equal(t, []record.Record{{"id": float64(1)}}, loaded)
}

func TestEncryptedModeRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.tdbx")
	s := New(ModeEncrypted, "a-reasonably-long-passphrase-32", nil, nil)

	records := []record.Record{{"secret": "value"}}
	require.NoError(t, s.Save(path, records))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")

	loaded, err := s.Load(path)
	require.NoError(t, err)
	require.Equal(t, records, loaded)
}
