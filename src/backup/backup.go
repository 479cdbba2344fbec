// Package backup implements the backup/restore protocol of spec §4.K:
// snapshot every collection file and metadata document into a timestamped
// directory with a manifest, and restore from one with a mode check.
// Multi-file copy errors are aggregated with go.uber.org/multierr instead
// of aborting on the first failure, grounded on the teacher's
// database_storage_engine.go warn-and-continue load loop.
package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"tdbx/src/tdberr"
)

// Manifest describes one backup directory's contents (spec §6.1).
type Manifest struct {
	Timestamp   string   `json:"timestamp"`
	Collections []string `json:"collections"`
	Version     string   `json:"version"`
	Mode        string   `json:"mode"`
}

const ManifestVersion = "1.0"

// Backup copies every ".tdbx" collection file and the metadata documents
// (.auth, .users if present) byte-for-byte into a fresh
// "backup-<timestamp>/" directory under dbDir, then writes manifest.json
// (spec §4.K "Backup").
func Backup(dbDir string, mode string) (string, error) {
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		return "", tdberr.Backup(err, "reading database directory %s", dbDir)
	}

	var toCopy []string
	var collections []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".tdbx"):
			toCopy = append(toCopy, name)
			collections = append(collections, strings.TrimSuffix(name, ".tdbx"))
		case name == ".auth", name == ".users":
			toCopy = append(toCopy, name)
		}
	}

	stamp := time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
	backupDir := filepath.Join(dbDir, "backup-"+stamp)
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", tdberr.Backup(err, "creating backup directory %s", backupDir)
	}

	var errs error
	for _, name := range toCopy {
		if err := copyFile(filepath.Join(dbDir, name), filepath.Join(backupDir, name)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("copying %s: %w", name, err))
		}
	}
	if errs != nil {
		return "", tdberr.Backup(errs, "one or more files failed to copy")
	}

	manifest := Manifest{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Collections: collections,
		Version:     ManifestVersion,
		Mode:        mode,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", tdberr.Backup(err, "encoding manifest")
	}
	if err := os.WriteFile(filepath.Join(backupDir, "manifest.json"), data, 0644); err != nil {
		return "", tdberr.Backup(err, "writing manifest")
	}

	return backupDir, nil
}

// Restore requires manifest.json inside backupDir, checks its mode
// against the engine's current mode, and copies every named collection
// file (plus metadata documents) over dbDir (spec §4.K "Restore").
// Callers are responsible for clearing caches/indexes and reloading
// auth/users afterward.
func Restore(dbDir, backupDir, currentMode string) error {
	manifestPath := filepath.Join(backupDir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return tdberr.Restore(err, "backup %s has no manifest.json", backupDir)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return tdberr.Restore(err, "manifest.json in %s is not valid JSON", backupDir)
	}

	if manifest.Mode != currentMode {
		return tdberr.Validation("backup mode %q does not match database mode %q", manifest.Mode, currentMode)
	}

	var errs error
	for _, collection := range manifest.Collections {
		name := collection + ".tdbx"
		if err := copyFile(filepath.Join(backupDir, name), filepath.Join(dbDir, name)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("restoring %s: %w", name, err))
		}
	}
	for _, meta := range []string{".auth", ".users"} {
		src := filepath.Join(backupDir, meta)
		if _, err := os.Stat(src); err == nil {
			if err := copyFile(src, filepath.Join(dbDir, meta)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("restoring %s: %w", meta, err))
			}
		}
	}

	if errs != nil {
		return tdberr.Restore(errs, "one or more files failed to restore")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
