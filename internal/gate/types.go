// Package gate implements the quality gate graph, gate evaluation, and
// persisted gate state for gated.
//
// The gate topology is fixed: design gates D1 through D4 run in sequence,
// followed by engineering gates G2 through G4. A gate unlocks only when all
// of its prerequisites have passed. Customer-facing gates additionally
// require a recorded customer approval before they can pass.
package gate

import (
	"fmt"
	"time"
)

// ID identifies a gate in the fixed topology.
type ID string

const (
	D1 ID = "D1"
	D2 ID = "D2"
	D3 ID = "D3"
	D4 ID = "D4"
	G2 ID = "G2"
	G3 ID = "G3"
	G4 ID = "G4"
)

// AllIDs returns every gate in canonical order.
func AllIDs() []ID {
	return []ID{D1, D2, D3, D4, G2, G3, G4}
}

// ParseID validates a gate identifier string.
func ParseID(s string) (ID, error) {
	id := ID(s)
	for _, known := range AllIDs() {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown gate %q (valid: D1-D4, G2-G4)", s)
}

// Status is the lifecycle state of a gate.
type Status string

const (
	StatusNotStarted         Status = "not_started"
	StatusInProgress         Status = "in_progress"
	StatusPassed             Status = "passed"
	StatusFailed             Status = "failed"
	StatusPassedWithWarnings Status = "passed_with_warnings"
)

// CountsAsPassed reports whether the status satisfies a prerequisite.
// With strict=true, passed_with_warnings does not count.
func (s Status) CountsAsPassed(strict bool) bool {
	if s == StatusPassed {
		return true
	}
	return s == StatusPassedWithWarnings && !strict
}

// ChecklistItemStatus is the resolution state of a checklist item.
type ChecklistItemStatus string

const (
	ChecklistPending ChecklistItemStatus = "pending"
	ChecklistDone    ChecklistItemStatus = "done"
)

// ChecklistItem is one entry on a gate's checklist.
type ChecklistItem struct {
	Description string              `json:"description" yaml:"description"`
	Required    bool                `json:"required" yaml:"required"`
	Status      ChecklistItemStatus `json:"status" yaml:"status"`
	EvidenceRef string              `json:"evidence_ref,omitempty" yaml:"evidence_ref,omitempty"`
}

// CheckResult is the outcome of an external automated check (lint, tests,
// coverage, security scan). Produced by environment tooling; the engine
// consumes only the structured numbers.
type CheckResult struct {
	Name string `json:"name" yaml:"name"`

	// Value is the measured result, e.g. coverage percentage or pass rate.
	Value float64 `json:"value" yaml:"value"`

	// Threshold is the minimum Value for the check to pass.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// WarnBelow, when > Threshold, marks values in [Threshold, WarnBelow)
	// as warnings rather than clean passes. Zero disables the warning band.
	WarnBelow float64 `json:"warn_below,omitempty" yaml:"warn_below,omitempty"`

	// Passed is the tool's own verdict. A false verdict fails the gate
	// regardless of Value.
	Passed bool `json:"passed" yaml:"passed"`
}

// IssueSource distinguishes where an evaluation issue came from.
type IssueSource string

const (
	SourceChecklist IssueSource = "checklist"
	SourceCheck     IssueSource = "check"
)

// Issue is a single failure or warning from gate evaluation.
type Issue struct {
	Source IssueSource `json:"source"`
	Name   string      `json:"name"`
	Detail string      `json:"detail"`
}

// Evaluation is the result of evaluating a gate.
type Evaluation struct {
	Status   Status  `json:"status"`
	Failures []Issue `json:"failures,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// ApprovalRecord is a recorded sign-off on a gate.
type ApprovalRecord struct {
	Role       string    `json:"role" yaml:"role"`
	Approver   string    `json:"approver,omitempty" yaml:"approver,omitempty"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// Record is the persisted state of one gate.
type Record struct {
	Status    Status           `yaml:"status"`
	UpdatedAt time.Time        `yaml:"updated_at,omitempty"`
	PassedAt  *time.Time       `yaml:"passed_at,omitempty"`
	Approvals []ApprovalRecord `yaml:"approvals,omitempty"`
}
