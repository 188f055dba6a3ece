package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const auditFileName = "audit.log"

// appendAuditLine mirrors an audit entry to the append-only log file as
// one JSON line. The in-session copy is authoritative for round-trips;
// the log file survives session archival and feeds external review.
func appendAuditLine(stateDir string, entry AuditEntry) error {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(stateDir, auditFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return f.Sync()
}
