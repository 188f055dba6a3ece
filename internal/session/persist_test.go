package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/requirement"
)

func TestSessionPersistence_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ended := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	original := &Session{
		ID:                 "sess-01",
		RequirementsSource: "reqs.md",
		Status:             StatusEnded,
		PreflightApproved:  true,
		StartedAt:          time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		EndedAt:            &ended,
		Requirements: []requirement.Requirement{
			{
				ID:            "REQ-001",
				Description:   "payment capture",
				Priority:      requirement.PriorityCritical,
				Status:        requirement.StatusDone,
				Gate:          gate.G2,
				ImplementedIn: loc("src/a.ts:10-20"),
			},
			{
				ID:            "REQ-002",
				Description:   "refund flow",
				Priority:      requirement.PriorityHigh,
				Status:        requirement.StatusBlocked,
				Gate:          gate.G3,
				BlockedReason: "API key missing",
			},
		},
		Validation: &Validation{
			LastRun:  time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC),
			Coverage: 0.5,
			Issues:   []string{"missing traceability: REQ-002 is done but never referenced in source"},
		},
		Audit: []AuditEntry{
			{ID: "a-1", Timestamp: time.Date(2026, 8, 25, 9, 0, 1, 0, time.UTC), Actor: "agent",
				Op: "start", Before: "none", After: "pending_approval"},
			{ID: "a-2", Timestamp: time.Date(2026, 8, 25, 9, 0, 2, 0, time.UTC), Actor: "agent",
				Op: "mark", Subject: "REQ-001", Before: "pending", After: "done", Detail: "src/a.ts:10-20"},
		},
	}

	require.NoError(t, saveSession(dir, original))
	loaded, err := loadSession(dir)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestLoadSession_Missing(t *testing.T) {
	s, err := loadSession(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadSession_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionFileName), []byte("]["), 0600))

	_, err := loadSession(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual repair required")
}

func TestLoadSession_UnknownStatus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionFileName),
		[]byte(`{"id":"s1","status":"limbo"}`), 0600))

	_, err := loadSession(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual repair required")
}

func TestSaveSession_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	first := &Session{ID: "s1", Status: StatusPendingApproval, Requirements: []requirement.Requirement{}}
	require.NoError(t, saveSession(dir, first))

	second := first.Clone()
	second.Status = StatusActive
	require.NoError(t, saveSession(dir, second))

	loaded, err := loadSession(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, loaded.Status)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dir, sessionFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestAppendAuditLine_AppendOnly(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, appendAuditLine(dir, AuditEntry{ID: "a-1", Op: "start"}))
	require.NoError(t, appendAuditLine(dir, AuditEntry{ID: "a-2", Op: "approve"}))

	data, err := os.ReadFile(filepath.Join(dir, auditFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"a-1"`)
	assert.Contains(t, string(data), `"id":"a-2"`)
	assert.Equal(t, 2, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
