// Package storage implements the on-disk collection-file format: load,
// save, atomic rename, and the empty/corrupt-file recovery rules of spec
// §4.B. It generalizes the teacher's bundle_storage_engine.go open-write-
// close shape from BSON+mmap to JSON (optionally wrapped in the crypto
// envelope).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"tdbx/src/crypto"
	"tdbx/src/journal"
	"tdbx/src/record"
	"tdbx/src/tdberr"
)

// Mode selects whether collection files are stored plaintext or wrapped
// in the crypto envelope.
type Mode string

const (
	ModePlain     Mode = "plain"
	ModeEncrypted Mode = "encrypted"
)

// Store reads and writes one collection file at a time. It holds no
// per-collection state itself; callers (the file gate, the cache) provide
// serialization and memoization around it.
type Store struct {
	Mode       Mode
	Passphrase string
	Logger     *zap.SugaredLogger
	Journal    *journal.Journal
}

// New builds a Store for the given mode/passphrase.
func New(mode Mode, passphrase string, logger *zap.SugaredLogger, j *journal.Journal) *Store {
	return &Store{Mode: mode, Passphrase: passphrase, Logger: logger, Journal: j}
}

// Load reads a collection file at path, applying the recovery rules of
// spec §4.B. A missing file returns an empty slice, not an error. A
// loaded value that isn't a JSON array is wrapped in a single-element
// slice rather than rejected.
func (s *Store) Load(path string) ([]record.Record, error) {
	return s.load(path, true)
}

// LoadStrict behaves like Load but rejects a non-array loaded value with
// a data-format-error instead of auto-wrapping it, for callers that want
// to treat a stray scalar/object file as a real problem rather than
// silently accept it (spec §7 "data-format-error ... when auto-wrap is
// disabled for the caller").
func (s *Store) LoadStrict(path string) ([]record.Record, error) {
	return s.load(path, false)
}

func (s *Store) load(path string, allowAutoWrap bool) ([]record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []record.Record{}, nil
		}
		return nil, tdberr.FileRead(err, "reading collection file %s", path)
	}

	if len(data) == 0 {
		if err := s.writeEmptyArray(path); err != nil {
			return nil, err
		}
		s.logf("collection file %s was empty, auto-repaired to []", path)
		return []record.Record{}, nil
	}

	plaintext, err := s.plaintextOf(path, data)
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return s.recoverCorrupt(path, data, err)
	}

	switch v := raw.(type) {
	case []interface{}:
		recs, err := record.AsRecords(record.Records(v))
		if err != nil {
			return s.recoverCorrupt(path, data, err)
		}
		return recs, nil
	case map[string]interface{}:
		if !allowAutoWrap {
			return nil, tdberr.DataFormat("collection file %s holds a JSON object, not an array", path)
		}
		// Non-array value: wrap it in a single-element array (spec §4.B).
		return []record.Record{record.Record(v)}, nil
	default:
		if !allowAutoWrap {
			return nil, tdberr.DataFormat("collection file %s holds a scalar value, not an array", path)
		}
		// Scalar value: wrap it too.
		return []record.Record{{"value": v}}, nil
	}
}

// plaintextOf decrypts data if the store is in encrypted mode.
func (s *Store) plaintextOf(path string, data []byte) ([]byte, error) {
	if s.Mode != ModeEncrypted {
		return data, nil
	}
	plaintext, err := crypto.Decrypt(string(data), s.Passphrase)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// recoverCorrupt implements spec §4.B's corruption path: back up the
// original bytes, reinitialize the file to an empty array, log, and
// return an empty collection rather than fail the caller.
func (s *Store) recoverCorrupt(path string, original []byte, cause error) ([]record.Record, error) {
	backupPath := fmt.Sprintf("%s.backup.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(backupPath, original, 0644); err != nil {
		return nil, tdberr.DataCorruption(cause, "failed to preserve corrupt file %s as %s: %v", path, backupPath, err)
	}

	if err := s.writeEmptyArray(path); err != nil {
		return nil, err
	}

	s.logf("collection file %s was corrupt (%v); original preserved at %s", path, cause, backupPath)
	if s.Journal != nil {
		_ = s.Journal.Record("recover", filepath.Base(path), fmt.Sprintf("corrupt file backed up to %s: %v", backupPath, cause))
	}

	return []record.Record{}, nil
}

func (s *Store) writeEmptyArray(path string) error {
	return s.writeRaw(path, []byte("[]"))
}

// Save serializes records as pretty-printed JSON (encrypting if
// configured) and atomically replaces the collection file (spec §4.B).
func (s *Store) Save(path string, records []record.Record) error {
	if records == nil {
		records = []record.Record{}
	}

	data, err := json.MarshalIndent(record.ToRecords(records), "", "  ")
	if err != nil {
		return tdberr.FileWrite(err, "encoding collection %s", path)
	}

	if s.Mode == ModeEncrypted {
		envelope, err := crypto.Encrypt(data, s.Passphrase)
		if err != nil {
			return err
		}
		data = []byte(envelope)
	}

	return s.writeRaw(path, data)
}

// writeRaw performs the temp-file-then-rename atomic write (spec §4.B
// "Rationale").
func (s *Store) writeRaw(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return tdberr.FileWrite(err, "creating directory %s", dir)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return tdberr.FileWrite(err, "writing temp file %s", tmpPath)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return tdberr.FileWrite(err, "renaming %s to %s", tmpPath, path)
	}

	return nil
}

// Mtime returns the collection file's modification time, or the zero
// time if the file does not exist.
func Mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Warnf(format, args...)
	}
}
