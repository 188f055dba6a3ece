package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/requirement"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

const reportsDirName = "reports"

// ComplianceLevel grades the end-of-session coverage.
type ComplianceLevel string

const (
	LevelCompliant      ComplianceLevel = "COMPLIANT"
	LevelNeedsAttention ComplianceLevel = "NEEDS_ATTENTION"
	LevelNonCompliant   ComplianceLevel = "NON_COMPLIANT"
)

// GateSummary is the per-gate slice of the compliance report. Complete
// requires both a passing technical status and, for customer-facing
// gates, a recorded customer approval.
type GateSummary struct {
	ID                       gate.ID     `json:"id"`
	Status                   gate.Status `json:"status"`
	RequiresCustomerApproval bool        `json:"requires_customer_approval"`
	CustomerApproved         bool        `json:"customer_approved"`
	Complete                 bool        `json:"complete"`
}

// Report is the immutable end-of-session compliance summary. Coverage is
// the fraction of Critical and High requirements that are done with
// traceability confirmed by the final scan.
type Report struct {
	SessionID      string             `json:"session_id"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Result         ComplianceLevel    `json:"result"`
	Coverage       float64            `json:"coverage"`
	Total          int                `json:"total_requirements"`
	MustTrace      int                `json:"must_trace"`
	Done           int                `json:"done"`
	Blocked        int                `json:"blocked"`
	TracedDone     int                `json:"traced_done"`
	Missing        []string           `json:"missing,omitempty"`
	ScopeCreep     []trace.Annotation `json:"scope_creep,omitempty"`
	ScanIncomplete bool               `json:"scan_incomplete,omitempty"`
	Gates          []GateSummary      `json:"gates"`
}

// complianceThresholds pins the grading bands.
type complianceThresholds struct {
	compliantMin float64
	attentionMin float64
}

// computeCompliance grades the session from its requirements and the
// final traceability match. Coverage counts Critical and High
// requirements only; a done requirement counts as traced when the scan
// located it, or when the scan was cut short and its claimed locations
// stand unverified (traceability is advisory, so an incomplete scan
// never downgrades the result on its own).
func computeCompliance(reqs []requirement.Requirement, match *trace.Match, t complianceThresholds) Report {
	report := Report{Total: len(reqs), Coverage: 1}

	for _, r := range reqs {
		switch r.Status {
		case requirement.StatusDone:
			report.Done++
		case requirement.StatusBlocked:
			report.Blocked++
		}
		if !r.Priority.MustTrace() {
			continue
		}
		report.MustTrace++
		if r.Status != requirement.StatusDone {
			continue
		}
		if len(match.Locations[r.ID]) > 0 || (match.Incomplete && len(r.ImplementedIn) > 0) {
			report.TracedDone++
		}
	}

	if report.MustTrace > 0 {
		report.Coverage = float64(report.TracedDone) / float64(report.MustTrace)
	}

	switch {
	case report.Coverage >= t.compliantMin:
		report.Result = LevelCompliant
	case report.Coverage >= t.attentionMin:
		report.Result = LevelNeedsAttention
	default:
		report.Result = LevelNonCompliant
	}

	report.Missing = append([]string(nil), match.Missing...)
	report.ScopeCreep = append([]trace.Annotation(nil), match.ScopeCreep...)
	report.ScanIncomplete = match.Incomplete
	return report
}

// summarizeGates builds the per-gate report slice. A customer-facing gate
// is not complete without its approval, even when the technical
// evaluation passed.
func summarizeGates(graph *gate.Graph, records map[gate.ID]*gate.Record, approvals interface{ IsApproved(gate.ID) bool }) []GateSummary {
	out := make([]GateSummary, 0, len(gate.AllIDs()))
	for _, id := range gate.AllIDs() {
		record := records[id]
		status := gate.StatusNotStarted
		if record != nil {
			status = record.Status
		}
		requires := graph.RequiresCustomerApproval(id)
		approved := approvals.IsApproved(id)
		out = append(out, GateSummary{
			ID:                       id,
			Status:                   status,
			RequiresCustomerApproval: requires,
			CustomerApproved:         !requires || approved,
			Complete:                 status.CountsAsPassed(false) && approved,
		})
	}
	return out
}

// writeReport persists the report under reports/<session-id>.json. The
// file is created exclusively and read-only; a report is written once.
func writeReport(stateDir string, report Report) (string, error) {
	dir := filepath.Join(stateDir, reportsDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, report.SessionID+".json")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0444)
	if err != nil {
		return "", fmt.Errorf("failed to create report %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
