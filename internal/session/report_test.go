package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/requirement"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

var testThresholds = complianceThresholds{compliantMin: 0.9, attentionMin: 0.5}

func loc(s string) []requirement.CodeLocation {
	l, _ := requirement.ParseCodeLocation(s)
	return []requirement.CodeLocation{l}
}

func TestComputeCompliance_Bands(t *testing.T) {
	tests := []struct {
		name     string
		reqs     []requirement.Requirement
		located  []string
		coverage float64
		want     ComplianceLevel
	}{
		{
			name: "all critical traced",
			reqs: []requirement.Requirement{
				{ID: "REQ-001", Priority: requirement.PriorityCritical, Status: requirement.StatusDone},
				{ID: "REQ-002", Priority: requirement.PriorityHigh, Status: requirement.StatusDone},
			},
			located:  []string{"REQ-001", "REQ-002"},
			coverage: 1,
			want:     LevelCompliant,
		},
		{
			name: "two of three",
			reqs: []requirement.Requirement{
				{ID: "REQ-001", Priority: requirement.PriorityCritical, Status: requirement.StatusDone},
				{ID: "REQ-002", Priority: requirement.PriorityCritical, Status: requirement.StatusDone},
				{ID: "REQ-003", Priority: requirement.PriorityCritical, Status: requirement.StatusBlocked},
			},
			located:  []string{"REQ-001", "REQ-002"},
			coverage: 2.0 / 3.0,
			want:     LevelNeedsAttention,
		},
		{
			name: "nothing done",
			reqs: []requirement.Requirement{
				{ID: "REQ-001", Priority: requirement.PriorityCritical, Status: requirement.StatusPending},
				{ID: "REQ-002", Priority: requirement.PriorityHigh, Status: requirement.StatusPending},
			},
			coverage: 0,
			want:     LevelNonCompliant,
		},
		{
			name: "done but untraced",
			reqs: []requirement.Requirement{
				{ID: "REQ-001", Priority: requirement.PriorityCritical, Status: requirement.StatusDone},
			},
			coverage: 0,
			want:     LevelNonCompliant,
		},
		{
			name: "low priority does not count",
			reqs: []requirement.Requirement{
				{ID: "REQ-001", Priority: requirement.PriorityLow, Status: requirement.StatusPending},
				{ID: "REQ-002", Priority: requirement.PriorityMedium, Status: requirement.StatusPending},
			},
			coverage: 1,
			want:     LevelCompliant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			match := &trace.Match{Locations: map[string][]requirement.CodeLocation{}}
			for _, id := range tt.located {
				match.Locations[id] = loc("src/a.go:1")
			}
			report := computeCompliance(tt.reqs, match, testThresholds)
			assert.InDelta(t, tt.coverage, report.Coverage, 0.001)
			assert.Equal(t, tt.want, report.Result)
		})
	}
}

func TestComputeCompliance_IncompleteScanTrustsClaims(t *testing.T) {
	reqs := []requirement.Requirement{
		{ID: "REQ-001", Priority: requirement.PriorityCritical, Status: requirement.StatusDone,
			ImplementedIn: loc("src/a.go:1")},
	}
	match := &trace.Match{
		Locations:  map[string][]requirement.CodeLocation{},
		Incomplete: true,
	}

	report := computeCompliance(reqs, match, testThresholds)
	assert.Equal(t, LevelCompliant, report.Result)
	assert.True(t, report.ScanIncomplete)
}

func TestSummarizeGates_CustomerGateNeedsApproval(t *testing.T) {
	records := map[gate.ID]*gate.Record{}
	for _, id := range gate.AllIDs() {
		records[id] = &gate.Record{Status: gate.StatusNotStarted}
	}
	records[gate.D1] = &gate.Record{Status: gate.StatusPassed}
	// D2 passed technically but carries no customer approval.
	records[gate.D2] = &gate.Record{Status: gate.StatusPassed}

	approved := map[gate.ID]bool{}
	summaries := summarizeGates(gate.NewGraph(), records, stubChecker(approved))

	byID := map[gate.ID]GateSummary{}
	for _, s := range summaries {
		byID[s.ID] = s
	}

	assert.True(t, byID[gate.D1].Complete, "non-customer gate completes on technical pass")
	assert.False(t, byID[gate.D2].Complete, "customer gate is not complete without approval")
	assert.False(t, byID[gate.D2].CustomerApproved)

	approved[gate.D2] = true
	summaries = summarizeGates(gate.NewGraph(), records, stubChecker(approved))
	for _, s := range summaries {
		if s.ID == gate.D2 {
			assert.True(t, s.Complete)
			assert.True(t, s.CustomerApproved)
		}
	}
}

// stubChecker approves customer gates present in the map; non-customer
// gates are always approved, matching the ledger's contract.
type stubChecker map[gate.ID]bool

func (s stubChecker) IsApproved(id gate.ID) bool {
	if !gate.NewGraph().RequiresCustomerApproval(id) {
		return true
	}
	return s[id]
}

func TestWriteReport_ImmutableFile(t *testing.T) {
	dir := t.TempDir()
	report := Report{SessionID: "sess-01", Result: LevelCompliant, Coverage: 1}

	path, err := writeReport(dir, report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reports", "sess-01.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, report.Result, back.Result)

	// A second write for the same session must not overwrite.
	_, err = writeReport(dir, report)
	require.Error(t, err)
}
