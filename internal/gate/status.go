// internal/gate/status.go
package gate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// statusFileName is the on-disk gate state artifact inside the state dir.
const statusFileName = "gates-status.yaml"

// statusEntry is one gate's row in gates-status.yaml. Entries are written
// in canonical gate order so the file is stable across saves.
type statusEntry struct {
	ID     ID `yaml:"id"`
	Record `yaml:",inline"`
}

type statusFile struct {
	Gates []statusEntry `yaml:"gates"`
}

// StatusStore persists per-gate status and approvals to gates-status.yaml.
type StatusStore struct {
	path string
}

// NewStatusStore creates a store rooted at the given state directory.
func NewStatusStore(stateDir string) *StatusStore {
	return &StatusStore{path: filepath.Join(stateDir, statusFileName)}
}

// Path returns the backing file path.
func (s *StatusStore) Path() string {
	return s.path
}

// Load reads gate records. A missing file yields a fresh map with every
// gate not_started. A malformed file is a fatal configuration error
// requiring manual repair, not a recoverable condition.
func (s *StatusStore) Load() (map[ID]*Record, error) {
	records := make(map[ID]*Record, len(AllIDs()))
	for _, id := range AllIDs() {
		records[id] = &Record{Status: StatusNotStarted}
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return records, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var file statusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("malformed gate state in %s (manual repair required): %w", s.path, err)
	}

	for _, entry := range file.Gates {
		if _, err := ParseID(string(entry.ID)); err != nil {
			return nil, fmt.Errorf("malformed gate state in %s (manual repair required): %w", s.path, err)
		}
		record := entry.Record
		records[entry.ID] = &record
	}
	return records, nil
}

// Save writes gate records atomically (write-then-rename).
func (s *StatusStore) Save(records map[ID]*Record) error {
	file := statusFile{Gates: make([]statusEntry, 0, len(AllIDs()))}
	for _, id := range AllIDs() {
		record := records[id]
		if record == nil {
			record = &Record{Status: StatusNotStarted}
		}
		file.Gates = append(file.Gates, statusEntry{ID: id, Record: *record})
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal gate state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write gate state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace gate state: %w", err)
	}
	return nil
}

// Touch updates a record's status and timestamps.
func Touch(record *Record, status Status, now time.Time) {
	record.Status = status
	record.UpdatedAt = now
	if status == StatusPassed || status == StatusPassedWithWarnings {
		passed := now
		record.PassedAt = &passed
	}
}
