// Package session implements the strict-implementation session: a scoped,
// approved set of requirements that work is locked to, with a state
// machine guarding every transition and an append-only audit trail.
package session

import (
	"time"

	"github.com/fyrsmithlabs/gated/internal/requirement"
)

// Status is the session lifecycle state.
//
// pending_approval -> active <-> paused, active -> ended. Ended is
// terminal.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusPaused          Status = "paused"
	StatusEnded           Status = "ended"
)

// Validation is the persisted summary of the latest traceability scan.
type Validation struct {
	LastRun    time.Time `json:"last_run"`
	Coverage   float64   `json:"coverage"`
	Issues     []string  `json:"issues,omitempty"`
	Incomplete bool      `json:"incomplete,omitempty"`
}

// AuditEntry records one mutating transition. Entries are append-only and
// mirrored to the audit log file.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Op        string    `json:"op"`
	Subject   string    `json:"subject,omitempty"`
	Before    string    `json:"before"`
	After     string    `json:"after"`
	Detail    string    `json:"detail,omitempty"`
}

// Session is the persisted session record. It round-trips through
// session.json without loss: requirement statuses, locations, validation
// summary, and audit entries are all carried.
type Session struct {
	ID                 string                    `json:"id"`
	RequirementsSource string                    `json:"requirements_source"`
	Status             Status                    `json:"status"`
	PreflightApproved  bool                      `json:"preflight_approved"`
	StartedAt          time.Time                 `json:"started_at"`
	EndedAt            *time.Time                `json:"ended_at,omitempty"`
	Requirements       []requirement.Requirement `json:"requirements"`
	Validation         *Validation               `json:"validation,omitempty"`
	Audit              []AuditEntry              `json:"audit"`
}

// Clone deep-copies the session for safe hand-out.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Requirements = make([]requirement.Requirement, len(s.Requirements))
	for i := range s.Requirements {
		r := s.Requirements[i]
		r.ImplementedIn = append([]requirement.CodeLocation(nil), r.ImplementedIn...)
		clone.Requirements[i] = r
	}
	clone.Audit = append([]AuditEntry(nil), s.Audit...)
	if s.Validation != nil {
		v := *s.Validation
		v.Issues = append([]string(nil), s.Validation.Issues...)
		clone.Validation = &v
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		clone.EndedAt = &t
	}
	return &clone
}
