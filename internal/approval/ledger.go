// Package approval records human sign-offs on quality gates.
//
// Customer-facing gates (D2, D3, D4, G4) cannot pass on technical results
// alone: the ledger must hold at least one approval from the role designated
// as the customer. The ledger seeds from persisted gate records and pushes
// every new approval back through its Persister.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
)

// ErrUnknownRole is returned when an approval names an empty role.
var ErrUnknownRole = errors.New("approver role is required")

// Persister stores approval records durably. Implemented by gate.Manager.
type Persister interface {
	SetApprovals(id gate.ID, approvals []gate.ApprovalRecord) error
}

// Ledger is the in-memory approval ledger backed by a Persister.
type Ledger struct {
	mu           sync.RWMutex
	graph        *gate.Graph
	persister    Persister
	customerRole string
	approvals    map[gate.ID][]gate.ApprovalRecord
	logger       *logging.Logger
}

// NewLedger creates a ledger. customerRole defaults to "customer".
func NewLedger(graph *gate.Graph, persister Persister, customerRole string, logger *logging.Logger) (*Ledger, error) {
	if graph == nil {
		return nil, errors.New("gate graph is required")
	}
	if persister == nil {
		return nil, errors.New("persister is required")
	}
	if customerRole == "" {
		customerRole = "customer"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ledger{
		graph:        graph,
		persister:    persister,
		customerRole: customerRole,
		approvals:    make(map[gate.ID][]gate.ApprovalRecord),
		logger:       logger,
	}, nil
}

// Seed loads existing approvals from persisted gate records.
func (l *Ledger) Seed(records map[gate.ID]*gate.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, record := range records {
		if record == nil || len(record.Approvals) == 0 {
			continue
		}
		l.approvals[id] = append([]gate.ApprovalRecord(nil), record.Approvals...)
	}
}

// RecordApproval appends a sign-off for a gate and persists it.
func (l *Ledger) RecordApproval(ctx context.Context, id gate.ID, role, approver string, at time.Time) error {
	if _, err := gate.ParseID(string(id)); err != nil {
		return err
	}
	if role == "" {
		return fmt.Errorf("cannot record approval for gate %s: %w", id, ErrUnknownRole)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.approvals[id] = append(l.approvals[id], gate.ApprovalRecord{
		Role:       role,
		Approver:   approver,
		RecordedAt: at,
	})

	if err := l.persister.SetApprovals(id, l.approvals[id]); err != nil {
		// Roll back the in-memory append so the ledger matches disk.
		l.approvals[id] = l.approvals[id][:len(l.approvals[id])-1]
		return fmt.Errorf("failed to persist approval for gate %s: %w", id, err)
	}

	l.logger.Info(ctx, "approval recorded",
		zap.String("gate", string(id)),
		zap.String("role", role),
		zap.String("approver", approver))
	return nil
}

// IsApproved reports whether the gate carries the approvals it needs.
// Gates that are not customer-facing need none.
func (l *Ledger) IsApproved(id gate.ID) bool {
	if !l.graph.RequiresCustomerApproval(id) {
		return true
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.approvals[id] {
		if a.Role == l.customerRole {
			return true
		}
	}
	return false
}

// Approvals returns a copy of the recorded approvals for a gate.
func (l *Ledger) Approvals(id gate.ID) []gate.ApprovalRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]gate.ApprovalRecord(nil), l.approvals[id]...)
}
