package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/approval"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/requirement"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/gated/internal/session"

// Config configures a Controller.
type Config struct {
	// StateDir is the state directory relative to the project root.
	StateDir string

	// Actor is recorded in audit entries.
	Actor string

	// CompliantMin and AttentionMin are the compliance grading bands:
	// coverage >= CompliantMin is COMPLIANT, >= AttentionMin is
	// NEEDS_ATTENTION, anything lower is NON_COMPLIANT.
	CompliantMin float64
	AttentionMin float64

	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time

	// NewID overrides ID generation (tests). Defaults to uuid.NewString.
	NewID func() string
}

// DefaultConfig returns controller defaults.
func DefaultConfig() Config {
	return Config{
		StateDir:     ".gated",
		Actor:        "agent",
		CompliantMin: 0.9,
		AttentionMin: 0.5,
	}
}

// FromAppConfig converts the application configuration.
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		StateDir:     cfg.Session.StateDir,
		Actor:        cfg.Session.Actor,
		CompliantMin: cfg.Compliance.CompliantMin,
		AttentionMin: cfg.Compliance.AttentionMin,
	}
}

// Controller is the session state machine. One controller guards one
// project root; all mutations go through its mutex, and every mutating
// transition appends an audit entry before the state file is rewritten.
type Controller struct {
	mu          sync.Mutex
	root        string
	stateDir    string
	actor       string
	thresholds  complianceThresholds
	scanner     *trace.Scanner
	gates       *gate.Manager
	ledger      *approval.Ledger
	logger      *logging.Logger
	tracer      oteltrace.Tracer
	meter       metric.Meter
	transitions metric.Int64Counter
	store       *requirement.Store
	session     *Session
	now         func() time.Time
	newID       func() string
}

// NewController loads any persisted session for the project root and
// returns a controller bound to it. Malformed persisted state fails
// construction; it is never silently reset.
func NewController(root string, scanner *trace.Scanner, gates *gate.Manager, ledger *approval.Ledger, logger *logging.Logger, cfg Config) (*Controller, error) {
	if root == "" {
		return nil, errors.New("project root is required")
	}
	if scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if gates == nil {
		return nil, errors.New("gate manager is required")
	}
	if ledger == nil {
		return nil, errors.New("approval ledger is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultConfig().StateDir
	}
	if cfg.Actor == "" {
		cfg.Actor = DefaultConfig().Actor
	}
	if cfg.CompliantMin == 0 {
		cfg.CompliantMin = DefaultConfig().CompliantMin
	}
	if cfg.AttentionMin == 0 {
		cfg.AttentionMin = DefaultConfig().AttentionMin
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	stateDir := filepath.Join(root, cfg.StateDir)
	sess, err := loadSession(stateDir)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		root:       root,
		stateDir:   stateDir,
		actor:      cfg.Actor,
		thresholds: complianceThresholds{compliantMin: cfg.CompliantMin, attentionMin: cfg.AttentionMin},
		scanner:    scanner,
		gates:      gates,
		ledger:     ledger,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		session:    sess,
		now:        now,
		newID:      newID,
	}
	if sess != nil {
		store, err := requirement.NewStore(sess.Requirements)
		if err != nil {
			return nil, fmt.Errorf("malformed session state in %s (manual repair required): %w",
				filepath.Join(stateDir, sessionFileName), err)
		}
		c.store = store
	}
	c.initMetrics()
	return c, nil
}

func (c *Controller) initMetrics() {
	var err error
	c.transitions, err = c.meter.Int64Counter(
		"gated.session.transitions_total",
		metric.WithDescription("Session state transitions and requirement marks applied."),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		c.logger.Warn(context.Background(), "failed to create transition counter", zap.Error(err))
	}
}

// Start parses a requirements source and opens a new session in
// pending_approval. Exactly one non-ended session may exist per project
// root.
func (c *Controller) Start(ctx context.Context, requirementsPath string) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "session.Start",
		oteltrace.WithAttributes(attribute.String("requirements.source", requirementsPath)))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.Status != StatusEnded {
		return nil, rejected("start", c.session.Status,
			"a session is already active for this project root; end it first", ErrSessionAlreadyActive)
	}

	reqs, err := requirement.ParseFile(requirementsPath)
	if err != nil {
		return nil, err
	}
	store, err := requirement.NewStore(reqs)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:                 c.newID(),
		RequirementsSource: requirementsPath,
		Status:             StatusPendingApproval,
		StartedAt:          c.now(),
		Requirements:       reqs,
	}
	entry := c.newAuditEntry("start", "", "none", string(StatusPendingApproval),
		fmt.Sprintf("%d requirements from %s", len(reqs), requirementsPath))
	if err := c.commit(ctx, sess, entry, nil); err != nil {
		return nil, err
	}
	c.session = sess
	c.store = store

	ctx = logging.WithSessionID(ctx, sess.ID)
	c.countTransition(ctx, "start")
	c.logger.Info(ctx, "session started",
		zap.String("source", requirementsPath),
		zap.Int("requirements", len(reqs)))
	return sess.Clone(), nil
}

// Approve locks the requirement scope: pending_approval -> active.
func (c *Controller) Approve(ctx context.Context) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, "session.Approve")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require("approve", StatusPendingApproval); err != nil {
		return nil, err
	}

	before := c.session.Status
	c.session.Status = StatusActive
	c.session.PreflightApproved = true
	entry := c.newAuditEntry("approve", "", string(before), string(StatusActive), "scope locked")
	if err := c.commit(ctx, c.session, entry, func() {
		c.session.Status = before
		c.session.PreflightApproved = false
	}); err != nil {
		return nil, err
	}

	c.countTransition(ctx, "approve")
	c.logger.Info(logging.WithSessionID(ctx, c.session.ID), "session approved")
	return c.session.Clone(), nil
}

// Mark transitions one requirement's status. Valid only while active;
// done requires a code location and blocked requires a reason.
func (c *Controller) Mark(ctx context.Context, id string, status requirement.Status, location *requirement.CodeLocation, reason string) (requirement.Requirement, error) {
	ctx, span := c.tracer.Start(ctx, "session.Mark",
		oteltrace.WithAttributes(
			attribute.String("requirement.id", id),
			attribute.String("requirement.status", string(status))))
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require("mark", StatusActive); err != nil {
		return requirement.Requirement{}, err
	}

	before, after, err := c.store.Mark(id, status, location, reason)
	if err != nil {
		return requirement.Requirement{}, err
	}

	detail := ""
	if location != nil {
		detail = location.String()
	}
	if status == requirement.StatusBlocked {
		detail = reason
	}
	c.session.Requirements = c.store.List()
	entry := c.newAuditEntry("mark", id, string(before.Status), string(after.Status), detail)
	if err := c.commit(ctx, c.session, entry, func() {
		c.store.Restore(before)
		c.session.Requirements = c.store.List()
	}); err != nil {
		return requirement.Requirement{}, err
	}

	c.countTransition(ctx, "mark")
	c.logger.Info(logging.WithRequirementID(logging.WithSessionID(ctx, c.session.ID), id),
		"requirement marked",
		zap.String("before", string(before.Status)),
		zap.String("after", string(after.Status)))
	return after, nil
}

// Validate runs a traceability scan and records the summary on the
// session. It never changes the session state; the returned match is the
// report end() uses to gate completion. On scan timeout the partial
// match is returned together with ErrScanTimeout.
func (c *Controller) Validate(ctx context.Context) (*trace.Match, error) {
	ctx, span := c.tracer.Start(ctx, "session.Validate")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require("validate", StatusActive); err != nil {
		return nil, err
	}

	match, scanErr := c.runScanLocked(ctx)
	if match == nil {
		return nil, scanErr
	}
	if err := saveSession(c.stateDir, c.session); err != nil {
		return nil, err
	}

	c.logger.Info(logging.WithSessionID(ctx, c.session.ID), "validation recorded",
		zap.Float64("coverage", c.session.Validation.Coverage),
		zap.Int("issues", len(c.session.Validation.Issues)),
		zap.Bool("incomplete", match.Incomplete))
	return match, scanErr
}

// Pause suspends the session: active -> paused. No other operation is
// permitted until Resume.
func (c *Controller) Pause(ctx context.Context) (*Session, error) {
	return c.toggle(ctx, "session.Pause", "pause", StatusActive, StatusPaused)
}

// Resume reactivates a paused session: paused -> active.
func (c *Controller) Resume(ctx context.Context) (*Session, error) {
	return c.toggle(ctx, "session.Resume", "resume", StatusPaused, StatusActive)
}

func (c *Controller) toggle(ctx context.Context, spanName, op string, from, to Status) (*Session, error) {
	ctx, span := c.tracer.Start(ctx, spanName)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(op, from); err != nil {
		return nil, err
	}

	c.session.Status = to
	entry := c.newAuditEntry(op, "", string(from), string(to), "")
	if err := c.commit(ctx, c.session, entry, func() { c.session.Status = from }); err != nil {
		return nil, err
	}

	c.countTransition(ctx, op)
	c.logger.Info(logging.WithSessionID(ctx, c.session.ID), "session "+string(to))
	return c.session.Clone(), nil
}

// End runs a final validation, computes compliance over Critical and
// High requirements, writes the immutable report, and transitions the
// session to ended. Ended is terminal; a second End fails with
// ErrSessionAlreadyEnded.
func (c *Controller) End(ctx context.Context) (*Report, error) {
	ctx, span := c.tracer.Start(ctx, "session.End")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.Status == StatusEnded {
		return nil, rejected("end", StatusEnded, "the session has already ended; reports are immutable", ErrSessionAlreadyEnded)
	}
	if err := c.require("end", StatusActive); err != nil {
		return nil, err
	}

	match, scanErr := c.runScanLocked(ctx)
	if match == nil {
		return nil, scanErr
	}

	report := computeCompliance(c.store.List(), match, c.thresholds)
	report.SessionID = c.session.ID
	report.GeneratedAt = c.now()
	report.Gates = summarizeGates(c.gates.Graph(), c.gates.Records(), c.ledger)

	path, err := writeReport(c.stateDir, report)
	if err != nil {
		return nil, err
	}

	before := c.session.Status
	now := c.now()
	c.session.Status = StatusEnded
	c.session.EndedAt = &now
	entry := c.newAuditEntry("end", "", string(before), string(StatusEnded),
		fmt.Sprintf("%s at %.0f%% coverage", report.Result, report.Coverage*100))
	if err := c.commit(ctx, c.session, entry, func() {
		c.session.Status = before
		c.session.EndedAt = nil
	}); err != nil {
		return nil, err
	}

	c.countTransition(ctx, "end")
	c.logger.Info(logging.WithSessionID(ctx, c.session.ID), "session ended",
		zap.String("result", string(report.Result)),
		zap.Float64("coverage", report.Coverage),
		zap.String("report", path))
	return &report, nil
}

// Status returns a snapshot of the session. Read-only; permitted in
// every state, including ended.
func (c *Controller) Status(ctx context.Context) (*Session, error) {
	_, span := c.tracer.Start(ctx, "session.Status")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil, fmt.Errorf("%w for this project root", ErrNoActiveSession)
	}
	return c.session.Clone(), nil
}

// runScanLocked scans the project and refreshes the session's validation
// summary. A timeout yields the partial match plus ErrScanTimeout; other
// scan failures yield a nil match.
func (c *Controller) runScanLocked(ctx context.Context) (*trace.Match, error) {
	reqs := c.store.List()
	match, scanErr := c.scanner.Scan(ctx, c.root, reqs)
	if scanErr != nil && !errors.Is(scanErr, trace.ErrScanTimeout) {
		return nil, scanErr
	}

	coverage := computeCompliance(reqs, match, c.thresholds).Coverage
	var issues []string
	for _, id := range match.Missing {
		issues = append(issues, fmt.Sprintf("missing traceability: %s is done but never referenced in source", id))
	}
	for _, creep := range match.ScopeCreep {
		issues = append(issues, fmt.Sprintf("potential scope creep: %s at %s matches no requirement", creep.ID, creep.Location))
	}
	c.session.Validation = &Validation{
		LastRun:    c.now(),
		Coverage:   coverage,
		Issues:     issues,
		Incomplete: match.Incomplete,
	}
	return match, scanErr
}

// require checks that a session exists and is in one of the allowed
// states. Mutating operations on an ended session fail with
// ErrNoActiveSession; only End reports ErrSessionAlreadyEnded.
func (c *Controller) require(op string, allowed ...Status) error {
	if c.session == nil {
		return rejected(op, "none", "no session has been started for this project root", ErrNoActiveSession)
	}
	state := c.session.Status
	if state == StatusEnded {
		return rejected(op, state, "the session has ended and is read-only", ErrNoActiveSession)
	}
	for _, s := range allowed {
		if state == s {
			return nil
		}
	}
	want := make([]string, len(allowed))
	for i, s := range allowed {
		want[i] = string(s)
	}
	return rejected(op, state,
		fmt.Sprintf("requires session state %s", strings.Join(want, " or ")), ErrInvalidTransition)
}

func (c *Controller) newAuditEntry(op, subject, before, after, detail string) AuditEntry {
	return AuditEntry{
		ID:        c.newID(),
		Timestamp: c.now(),
		Actor:     c.actor,
		Op:        op,
		Subject:   subject,
		Before:    before,
		After:     after,
		Detail:    detail,
	}
}

// commit records an operation: audit entry appended, session persisted,
// entry mirrored to the append-only log. A failed write drops the entry
// and runs rollback, restoring memory to the pre-operation state; the
// mirror line is written only once the session is on disk, so a rejected
// operation leaves no trace anywhere.
func (c *Controller) commit(ctx context.Context, sess *Session, entry AuditEntry, rollback func()) error {
	sess.Audit = append(sess.Audit, entry)
	if err := saveSession(c.stateDir, sess); err != nil {
		sess.Audit = sess.Audit[:len(sess.Audit)-1]
		if rollback != nil {
			rollback()
		}
		return err
	}
	if err := appendAuditLine(c.stateDir, entry); err != nil {
		c.logger.Warn(ctx, "failed to mirror audit entry", zap.String("op", entry.Op), zap.Error(err))
	}
	return nil
}

func (c *Controller) countTransition(ctx context.Context, op string) {
	if c.transitions != nil {
		c.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
