// Package journal implements the append-only mutation/recovery audit log
// (SPEC_FULL §12), adapted from the teacher's engine/journal.go: same
// pipe-delimited line format, but rotated by size only (spec has no notion
// of calendar-day rotation).
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxFileSize matches the teacher's own default (1MB) journal file
// size before rotation.
const DefaultMaxFileSize = int64(1_000_000)

// Journal is an append-only log of accepted mutations and storage
// recovery events.
type Journal struct {
	mu          sync.Mutex
	path        string
	maxFileSize int64
	file        *os.File
	currentSize int64
}

// Open creates or appends to the journal file at path.
func Open(path string, maxFileSize int64) (*Journal, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	j := &Journal{path: path, maxFileSize: maxFileSize}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) openFile() error {
	file, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file %s: %w", j.path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat journal file %s: %w", j.path, err)
	}
	j.file = file
	j.currentSize = stat.Size()
	return nil
}

// Record appends one entry: "<RFC3339 timestamp> | <command> | <collection> | <details>".
func (j *Journal) Record(command, collection, details string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSize >= j.maxFileSize {
		if err := j.rotate(); err != nil {
			return err
		}
	}

	line := fmt.Sprintf("%s | %s | %s | %s\n", time.Now().Format(time.RFC3339), command, collection, details)
	n, err := j.file.WriteString(line)
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file for rotation: %w", err)
	}
	rotated := fmt.Sprintf("%s.%s", j.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(j.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate journal file: %w", err)
	}
	return j.openFile()
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
