package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const sessionFileName = "session.json"

// loadSession reads the persisted session. A missing file means no
// session has been started. A malformed file is a fatal configuration
// error requiring manual repair, never silently discarded.
func loadSession(stateDir string) (*Session, error) {
	path := filepath.Join(stateDir, sessionFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("malformed session state in %s (manual repair required): %w", path, err)
	}
	switch s.Status {
	case StatusPendingApproval, StatusActive, StatusPaused, StatusEnded:
	default:
		return nil, fmt.Errorf("malformed session state in %s (manual repair required): unknown status %q", path, s.Status)
	}
	return &s, nil
}

// saveSession writes the session atomically (write-then-rename).
func saveSession(stateDir string, s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	path := filepath.Join(stateDir, sessionFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace session state: %w", err)
	}
	return nil
}
