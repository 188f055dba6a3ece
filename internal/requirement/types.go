// Package requirement holds requirement records, their parsing from
// markdown and YAML sources, and the in-memory store a session works on.
package requirement

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/gated/internal/gate"
)

// Sentinel errors shared with the session controller.
var (
	// ErrUnknownRequirement is returned for operations naming an ID that
	// is not part of the store.
	ErrUnknownRequirement = errors.New("unknown requirement")

	// ErrMissingEvidence is returned when a requirement is marked done
	// without a code location.
	ErrMissingEvidence = errors.New("done requires a code location")

	// ErrMissingReason is returned when a requirement is marked blocked
	// without a reason.
	ErrMissingReason = errors.New("blocked requires a reason")

	// ErrDuplicateID is returned when a requirements source declares the
	// same ID twice. Duplicates are rejected at parse time.
	ErrDuplicateID = errors.New("duplicate requirement id")
)

// Priority orders requirements by importance.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority parses a priority, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	}
	return "", fmt.Errorf("unknown priority %q (valid: critical, high, medium, low)", s)
}

// MustTrace reports whether this priority counts toward compliance.
// Compliance is computed over Critical and High requirements only.
func (p Priority) MustTrace() bool {
	return p == PriorityCritical || p == PriorityHigh
}

// Status is the work state of a requirement.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// ParseStatus parses a requirement status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusDone:
		return StatusDone, nil
	case StatusBlocked:
		return StatusBlocked, nil
	}
	return "", fmt.Errorf("unknown status %q (valid: pending, in_progress, done, blocked)", s)
}

// CodeLocation points at the source range implementing a requirement.
// Serialized in the compact "file:start-end" form.
type CodeLocation struct {
	File      string
	StartLine int
	EndLine   int
}

// ParseCodeLocation parses "file", "file:12", or "file:10-20".
func ParseCodeLocation(s string) (CodeLocation, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CodeLocation{}, errors.New("empty code location")
	}

	i := strings.LastIndex(s, ":")
	if i < 0 {
		return CodeLocation{File: s}, nil
	}

	file, lines := s[:i], s[i+1:]
	if file == "" {
		return CodeLocation{}, fmt.Errorf("invalid code location %q: missing file", s)
	}

	start, end := lines, lines
	if j := strings.Index(lines, "-"); j >= 0 {
		start, end = lines[:j], lines[j+1:]
	}

	startLine, err := strconv.Atoi(start)
	if err != nil {
		// The suffix is not a line spec; treat the whole string as a path
		// (Windows drive letters, URLs with colons).
		return CodeLocation{File: s}, nil
	}
	endLine, err := strconv.Atoi(end)
	if err != nil || endLine < startLine || startLine < 1 {
		return CodeLocation{}, fmt.Errorf("invalid line range in code location %q", s)
	}

	return CodeLocation{File: file, StartLine: startLine, EndLine: endLine}, nil
}

// String renders the compact form.
func (l CodeLocation) String() string {
	switch {
	case l.StartLine == 0:
		return l.File
	case l.StartLine == l.EndLine:
		return fmt.Sprintf("%s:%d", l.File, l.StartLine)
	default:
		return fmt.Sprintf("%s:%d-%d", l.File, l.StartLine, l.EndLine)
	}
}

// MarshalJSON implements json.Marshaler.
func (l CodeLocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *CodeLocation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCodeLocation(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Requirement is one tracked requirement within a session.
//
// Invariants, enforced by the store: StatusDone implies ImplementedIn is
// non-empty; StatusBlocked implies BlockedReason is set.
type Requirement struct {
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	Priority      Priority       `json:"priority"`
	Status        Status         `json:"status"`
	Gate          gate.ID        `json:"gate"`
	ImplementedIn []CodeLocation `json:"implemented_in,omitempty"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
}
