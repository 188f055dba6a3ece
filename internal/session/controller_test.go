package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/gated/internal/approval"
	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/requirement"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

// fixture wires a full controller stack over a temp project root with a
// deterministic clock and ID sequence.
type fixture struct {
	root       string
	controller *Controller
	gates      *gate.Manager
	ledger     *approval.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	var tick int64
	now := func() time.Time {
		tick++
		return time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}
	var seq int
	newID := func() string {
		seq++
		return fmt.Sprintf("id-%04d", seq)
	}

	logger := logging.NewNop()
	store := gate.NewStatusStore(filepath.Join(root, ".gated"))

	var ledger *approval.Ledger
	gates, err := gate.NewManager(store, gate.ApprovalCheckerFunc(func(id gate.ID) bool {
		return ledger.IsApproved(id)
	}), logger, gate.ManagerConfig{Now: now})
	require.NoError(t, err)

	ledger, err = approval.NewLedger(gates.Graph(), gates, "customer", logger)
	require.NoError(t, err)
	ledger.Seed(gates.Records())

	scanner, err := trace.NewScanner(trace.DefaultConfig(), logger)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Now = now
	cfg.NewID = newID
	controller, err := NewController(root, scanner, gates, ledger, logger, cfg)
	require.NoError(t, err)

	return &fixture{root: root, controller: controller, gates: gates, ledger: ledger}
}

func (f *fixture) writeFile(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

// threeCriticalReqs writes a requirements source with three Critical
// requirements and returns its path.
func (f *fixture) threeCriticalReqs(t *testing.T) string {
	t.Helper()
	f.writeFile(t, "reqs.md", `# Checkout

- REQ-001 [Critical] payment capture
- REQ-002 [Critical] refund flow
- REQ-003 [Critical] invoice export
`)
	return filepath.Join(f.root, "reqs.md")
}

func (f *fixture) startApproved(t *testing.T) {
	t.Helper()
	_, err := f.controller.Start(context.Background(), f.threeCriticalReqs(t))
	require.NoError(t, err)
	_, err = f.controller.Approve(context.Background())
	require.NoError(t, err)
}

func TestStart_ParsesRequirementsIntoPendingSession(t *testing.T) {
	f := newFixture(t)

	sess, err := f.controller.Start(context.Background(), f.threeCriticalReqs(t))
	require.NoError(t, err)

	assert.Equal(t, StatusPendingApproval, sess.Status)
	assert.False(t, sess.PreflightApproved)
	require.Len(t, sess.Requirements, 3)
	for _, r := range sess.Requirements {
		assert.Equal(t, requirement.StatusPending, r.Status)
	}
	require.Len(t, sess.Audit, 1)
	assert.Equal(t, "start", sess.Audit[0].Op)

	_, err = os.Stat(filepath.Join(f.root, ".gated", "session.json"))
	require.NoError(t, err)
}

func TestStart_RejectsSecondSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.Start(context.Background(), f.threeCriticalReqs(t))
	require.NoError(t, err)

	_, err = f.controller.Start(context.Background(), filepath.Join(f.root, "reqs.md"))
	require.ErrorIs(t, err, ErrSessionAlreadyActive)

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "start", te.Op)
	assert.Equal(t, StatusPendingApproval, te.State)
}

func TestApprove_LocksScope(t *testing.T) {
	f := newFixture(t)
	_, err := f.controller.Start(context.Background(), f.threeCriticalReqs(t))
	require.NoError(t, err)

	sess, err := f.controller.Approve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
	assert.True(t, sess.PreflightApproved)

	_, err = f.controller.Approve(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMark_DoneWithLocation(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	loc, err := requirement.ParseCodeLocation("src/a.ts:10-20")
	require.NoError(t, err)

	r, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusDone, &loc, "")
	require.NoError(t, err)
	assert.Equal(t, requirement.StatusDone, r.Status)
	require.Len(t, r.ImplementedIn, 1)
	assert.Equal(t, "src/a.ts:10-20", r.ImplementedIn[0].String())
}

func TestMark_DoneWithoutLocationRejected(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	_, err := f.controller.Mark(context.Background(), "REQ-002", requirement.StatusDone, nil, "")
	require.ErrorIs(t, err, requirement.ErrMissingEvidence)

	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, requirement.StatusPending, sess.Requirements[1].Status)
}

func TestMark_BlockedNeedsReason(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	_, err := f.controller.Mark(context.Background(), "REQ-003", requirement.StatusBlocked, nil, "")
	require.ErrorIs(t, err, requirement.ErrMissingReason)

	r, err := f.controller.Mark(context.Background(), "REQ-003", requirement.StatusBlocked, nil, "API key missing")
	require.NoError(t, err)
	assert.Equal(t, requirement.StatusBlocked, r.Status)
	assert.Equal(t, "API key missing", r.BlockedReason)
}

func TestMark_Preconditions(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusInProgress, nil, "")
	require.ErrorIs(t, err, ErrNoActiveSession)

	_, err = f.controller.Start(context.Background(), f.threeCriticalReqs(t))
	require.NoError(t, err)

	// Scope is not locked yet.
	_, err = f.controller.Mark(context.Background(), "REQ-001", requirement.StatusInProgress, nil, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.controller.Approve(context.Background())
	require.NoError(t, err)
	_, err = f.controller.Mark(context.Background(), "REQ-404", requirement.StatusInProgress, nil, "")
	require.ErrorIs(t, err, requirement.ErrUnknownRequirement)

	_, err = f.controller.Pause(context.Background())
	require.NoError(t, err)
	_, err = f.controller.Mark(context.Background(), "REQ-001", requirement.StatusInProgress, nil, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMark_FailedWriteLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	// Occupy the session writer's temp path so the next save fails.
	tmp := filepath.Join(f.root, ".gated", "session.json.tmp")
	require.NoError(t, os.Mkdir(tmp, 0700))

	loc, _ := requirement.ParseCodeLocation("src/a.go:1")
	_, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusDone, &loc, "")
	require.Error(t, err)

	// The rejected mark must not appear in memory, the audit trail, or
	// the mirror log.
	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, requirement.StatusPending, sess.Requirements[0].Status)
	assert.Empty(t, sess.Requirements[0].ImplementedIn)
	for _, e := range sess.Audit {
		assert.NotEqual(t, "mark", e.Op)
	}
	data, err := os.ReadFile(filepath.Join(f.root, ".gated", "audit.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"mark"`)

	// Writes work again; the next save must not carry the rejected mark.
	require.NoError(t, os.Remove(tmp))
	_, err = f.controller.Pause(context.Background())
	require.NoError(t, err)

	reloaded, err := loadSession(filepath.Join(f.root, ".gated"))
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, reloaded.Status)
	assert.Equal(t, requirement.StatusPending, reloaded.Requirements[0].Status)
	ops := make([]string, len(reloaded.Audit))
	for i, e := range reloaded.Audit {
		ops[i] = e.Op
	}
	assert.Equal(t, []string{"start", "approve", "pause"}, ops)
}

func TestPause_FailedWriteRollsBackStatus(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	tmp := filepath.Join(f.root, ".gated", "session.json.tmp")
	require.NoError(t, os.Mkdir(tmp, 0700))

	_, err := f.controller.Pause(context.Background())
	require.Error(t, err)

	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
	for _, e := range sess.Audit {
		assert.NotEqual(t, "pause", e.Op)
	}
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	sess, err := f.controller.Pause(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, sess.Status)

	_, err = f.controller.Pause(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)

	sess, err = f.controller.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sess.Status)
}

func TestValidate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)
	f.writeFile(t, "src/a.go", "// REQ-001 payment capture\nfunc Capture() {}\n")

	loc, _ := requirement.ParseCodeLocation("src/a.go:1-2")
	_, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusDone, &loc, "")
	require.NoError(t, err)

	first, err := f.controller.Validate(context.Background())
	require.NoError(t, err)
	second, err := f.controller.Validate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Locations, second.Locations)
	assert.Equal(t, first.Missing, second.Missing)
	assert.Equal(t, first.ScopeCreep, second.ScopeCreep)

	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess.Validation)
	assert.InDelta(t, 1.0/3.0, sess.Validation.Coverage, 0.001)
}

func TestValidate_ReportsIssues(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)
	f.writeFile(t, "src/extra.go", "// REQ-777 not in scope\n")

	// Done without any matching annotation in source.
	loc, _ := requirement.ParseCodeLocation("src/missing.go:1")
	_, err := f.controller.Mark(context.Background(), "REQ-002", requirement.StatusDone, &loc, "")
	require.NoError(t, err)

	match, err := f.controller.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"REQ-002"}, match.Missing)
	require.Len(t, match.ScopeCreep, 1)
	assert.Equal(t, "REQ-777", match.ScopeCreep[0].ID)

	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	assert.Len(t, sess.Validation.Issues, 2)
}

func TestEnd_TwoOfThreeCritical(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)
	f.writeFile(t, "src/a.go", "// REQ-001 payment capture\n")
	f.writeFile(t, "src/b.go", "// REQ-002 refund flow\n")

	locA, _ := requirement.ParseCodeLocation("src/a.go:1")
	locB, _ := requirement.ParseCodeLocation("src/b.go:1")
	_, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusDone, &locA, "")
	require.NoError(t, err)
	_, err = f.controller.Mark(context.Background(), "REQ-002", requirement.StatusDone, &locB, "")
	require.NoError(t, err)
	_, err = f.controller.Mark(context.Background(), "REQ-003", requirement.StatusBlocked, nil, "API key missing")
	require.NoError(t, err)

	report, err := f.controller.End(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, report.Coverage, 0.001)
	assert.Equal(t, LevelNeedsAttention, report.Result)
	assert.Equal(t, 3, report.MustTrace)
	assert.Equal(t, 2, report.Done)
	assert.Equal(t, 1, report.Blocked)

	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, sess.Status)
	require.NotNil(t, sess.EndedAt)

	// The report is written once and is read-only.
	path := filepath.Join(f.root, ".gated", "reports", report.SessionID+".json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0444), info.Mode().Perm())
}

func TestEnd_SecondCallRejected(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	_, err := f.controller.End(context.Background())
	require.NoError(t, err)

	_, err = f.controller.End(context.Background())
	require.ErrorIs(t, err, ErrSessionAlreadyEnded)
}

func TestEnd_RequiresActive(t *testing.T) {
	f := newFixture(t)

	_, err := f.controller.End(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)

	_, err = f.controller.Start(context.Background(), f.threeCriticalReqs(t))
	require.NoError(t, err)
	_, err = f.controller.End(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEndedSession_IsReadOnly(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)
	_, err := f.controller.End(context.Background())
	require.NoError(t, err)

	_, err = f.controller.Mark(context.Background(), "REQ-001", requirement.StatusInProgress, nil, "")
	require.ErrorIs(t, err, ErrNoActiveSession)
	_, err = f.controller.Approve(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)
	_, err = f.controller.Pause(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)
	_, err = f.controller.Validate(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)

	// Read-only queries still work.
	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, sess.Status)
}

func TestStart_AfterEndOpensNewSession(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)
	_, err := f.controller.End(context.Background())
	require.NoError(t, err)

	sess, err := f.controller.Start(context.Background(), filepath.Join(f.root, "reqs.md"))
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, sess.Status)
}

func TestSession_RoundTripsThroughDisk(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)
	f.writeFile(t, "src/a.go", "// REQ-001 payment capture\n")

	loc, _ := requirement.ParseCodeLocation("src/a.go:1")
	_, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusDone, &loc, "")
	require.NoError(t, err)
	_, err = f.controller.Mark(context.Background(), "REQ-003", requirement.StatusBlocked, nil, "waiting on vendor")
	require.NoError(t, err)
	_, err = f.controller.Validate(context.Background())
	require.NoError(t, err)

	before, err := f.controller.Status(context.Background())
	require.NoError(t, err)

	// A fresh controller over the same root sees the identical session.
	scanner, err := trace.NewScanner(trace.DefaultConfig(), logging.NewNop())
	require.NoError(t, err)
	reloaded, err := NewController(f.root, scanner, f.gates, f.ledger, logging.NewNop(), DefaultConfig())
	require.NoError(t, err)

	after, err := reloaded.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestNewController_MalformedStateIsFatal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, ".gated"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, ".gated", "session.json"), []byte("{not json"), 0600))

	scanner, err := trace.NewScanner(trace.DefaultConfig(), logging.NewNop())
	require.NoError(t, err)
	_, err = NewController(f.root, scanner, f.gates, f.ledger, logging.NewNop(), DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manual repair required")
}

func TestAuditTrail_CoversEveryMutation(t *testing.T) {
	f := newFixture(t)
	f.startApproved(t)

	loc, _ := requirement.ParseCodeLocation("src/a.go:1")
	_, err := f.controller.Mark(context.Background(), "REQ-001", requirement.StatusDone, &loc, "")
	require.NoError(t, err)
	_, err = f.controller.Pause(context.Background())
	require.NoError(t, err)
	_, err = f.controller.Resume(context.Background())
	require.NoError(t, err)
	_, err = f.controller.End(context.Background())
	require.NoError(t, err)

	sess, err := f.controller.Status(context.Background())
	require.NoError(t, err)

	ops := make([]string, len(sess.Audit))
	for i, e := range sess.Audit {
		ops[i] = e.Op
	}
	assert.Equal(t, []string{"start", "approve", "mark", "pause", "resume", "end"}, ops)

	mark := sess.Audit[2]
	assert.Equal(t, "REQ-001", mark.Subject)
	assert.Equal(t, "pending", mark.Before)
	assert.Equal(t, "done", mark.After)
	assert.Equal(t, "agent", mark.Actor)

	// Every entry is mirrored to the append-only log.
	data, err := os.ReadFile(filepath.Join(f.root, ".gated", "audit.log"))
	require.NoError(t, err)
	for _, op := range ops {
		assert.Contains(t, string(data), fmt.Sprintf("%q:%q", "op", op))
	}
}
