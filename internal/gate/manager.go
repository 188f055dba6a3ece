// internal/gate/manager.go
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/logging"
)

// Sentinel errors for gate transitions.
var (
	// ErrPrerequisiteNotMet is returned when a gate is started or completed
	// before all of its prerequisite gates have passed.
	ErrPrerequisiteNotMet = errors.New("prerequisite gate not passed")

	// ErrApprovalPending is returned when a customer-facing gate would pass
	// technically but has no recorded customer approval.
	ErrApprovalPending = errors.New("customer approval pending")
)

// ApprovalChecker answers whether a gate carries the approvals it needs.
// Implemented by approval.Ledger.
type ApprovalChecker interface {
	IsApproved(id ID) bool
}

// ApprovalCheckerFunc adapts a function to ApprovalChecker. The ledger is
// built after the manager it persists through, so wiring closes the loop
// with a func value.
type ApprovalCheckerFunc func(id ID) bool

func (f ApprovalCheckerFunc) IsApproved(id ID) bool {
	return f(id)
}

// Manager drives gate lifecycle: begin, evaluate, complete. It owns the
// persisted gate records and enforces prerequisite and approval rules.
type Manager struct {
	graph     *Graph
	store     *StatusStore
	evaluator *Evaluator
	approvals ApprovalChecker
	strict    bool
	logger    *logging.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	passes    metric.Int64Counter
	rejects   metric.Int64Counter
	records   map[ID]*Record
	now       func() time.Time
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// StrictWarnings makes passed_with_warnings not satisfy prerequisites.
	StrictWarnings bool

	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time
}

// NewManager loads gate state and returns a Manager.
func NewManager(store *StatusStore, approvals ApprovalChecker, logger *logging.Logger, cfg ManagerConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("status store is required")
	}
	if approvals == nil {
		return nil, errors.New("approval checker is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	records, err := store.Load()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		graph:     NewGraph(),
		store:     store,
		evaluator: NewEvaluator(logger),
		approvals: approvals,
		strict:    cfg.StrictWarnings,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		records:   records,
		now:       now,
	}
	m.initMetrics()
	return m, nil
}

func (m *Manager) initMetrics() {
	var err error
	m.passes, err = m.meter.Int64Counter(
		"gated.gate.passes_total",
		metric.WithDescription("Gates that transitioned to passed or passed_with_warnings."),
		metric.WithUnit("{gate}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create gate pass counter", zap.Error(err))
	}
	m.rejects, err = m.meter.Int64Counter(
		"gated.gate.rejections_total",
		metric.WithDescription("Gate transitions rejected by prerequisite or approval rules."),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create gate rejection counter", zap.Error(err))
	}
}

// Graph exposes the static topology.
func (m *Manager) Graph() *Graph {
	return m.graph
}

// Statuses returns a snapshot of every gate's status.
func (m *Manager) Statuses() map[ID]Status {
	out := make(map[ID]Status, len(m.records))
	for id, record := range m.records {
		out[id] = record.Status
	}
	return out
}

// Records returns a deep copy of the persisted gate records.
func (m *Manager) Records() map[ID]*Record {
	out := make(map[ID]*Record, len(m.records))
	for id, record := range m.records {
		clone := *record
		clone.Approvals = append([]ApprovalRecord(nil), record.Approvals...)
		out[id] = &clone
	}
	return out
}

// Begin moves a gate to in_progress. The gate must be unlocked.
func (m *Manager) Begin(ctx context.Context, id ID) error {
	ctx, span := m.tracer.Start(ctx, "gate.Begin",
		trace.WithAttributes(attribute.String("gate.id", string(id))))
	defer span.End()

	if _, err := ParseID(string(id)); err != nil {
		return err
	}
	if !m.graph.IsUnlocked(id, m.Statuses(), m.strict) {
		m.countRejection(ctx, id, "prerequisite")
		return m.blocked(id, ErrPrerequisiteNotMet)
	}

	Touch(m.records[id], StatusInProgress, m.now())
	if err := m.store.Save(m.records); err != nil {
		return err
	}

	m.logger.Info(ctx, "gate started", zap.String("gate", string(id)))
	return nil
}

// Complete evaluates a gate and, if it passes, records the final status.
//
// A customer-facing gate is rejected with ErrApprovalPending when the
// technical evaluation passes but no customer approval is recorded. A
// failed evaluation is persisted as failed and returned without error;
// the Evaluation carries the failure detail.
func (m *Manager) Complete(ctx context.Context, id ID, checklist []ChecklistItem, checks []CheckResult) (Evaluation, error) {
	ctx, span := m.tracer.Start(ctx, "gate.Complete",
		trace.WithAttributes(attribute.String("gate.id", string(id))))
	defer span.End()

	if _, err := ParseID(string(id)); err != nil {
		return Evaluation{}, err
	}
	if !m.graph.IsUnlocked(id, m.Statuses(), m.strict) {
		m.countRejection(ctx, id, "prerequisite")
		return Evaluation{}, m.blocked(id, ErrPrerequisiteNotMet)
	}

	eval := m.evaluator.Evaluate(ctx, id, checklist, checks)

	if eval.Status != StatusFailed && m.graph.RequiresCustomerApproval(id) && !m.approvals.IsApproved(id) {
		m.countRejection(ctx, id, "approval")
		return eval, m.blocked(id, ErrApprovalPending)
	}

	Touch(m.records[id], eval.Status, m.now())
	if err := m.store.Save(m.records); err != nil {
		return eval, err
	}

	if eval.Status != StatusFailed && m.passes != nil {
		m.passes.Add(ctx, 1, metric.WithAttributes(attribute.String("gate", string(id))))
	}

	m.logger.Info(ctx, "gate completed",
		zap.String("gate", string(id)),
		zap.String("status", string(eval.Status)))
	return eval, nil
}

// SetApprovals replaces a gate's approval records and persists them.
// Called by the approval ledger after recording a sign-off.
func (m *Manager) SetApprovals(id ID, approvals []ApprovalRecord) error {
	record, ok := m.records[id]
	if !ok {
		return fmt.Errorf("unknown gate %q", id)
	}
	record.Approvals = append([]ApprovalRecord(nil), approvals...)
	record.UpdatedAt = m.now()
	return m.store.Save(m.records)
}

func (m *Manager) countRejection(ctx context.Context, id ID, reason string) {
	if m.rejects != nil {
		m.rejects.Add(ctx, 1, metric.WithAttributes(
			attribute.String("gate", string(id)),
			attribute.String("reason", reason),
		))
	}
}

// blocked formats the "Gate Enforcement: BLOCKED" rejection: current state,
// attempted gate, and the missing precondition.
func (m *Manager) blocked(id ID, sentinel error) error {
	missing := make([]ID, 0, 2)
	for _, prereq := range m.graph.PrerequisitesOf(id) {
		if !m.records[prereq].Status.CountsAsPassed(m.strict) {
			missing = append(missing, prereq)
		}
	}
	if errors.Is(sentinel, ErrApprovalPending) {
		return fmt.Errorf("gate %s blocked (status %s): %w from role designated customer",
			id, m.records[id].Status, sentinel)
	}
	return fmt.Errorf("gate %s blocked (status %s): %w: %v", id, m.records[id].Status, sentinel, missing)
}
