package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/requirement"
	"github.com/fyrsmithlabs/gated/internal/session"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() error {
	s.registerSessionTools()
	s.registerRequirementTools()
	s.registerGateTools()
	return nil
}

// ===== SESSION TOOLS =====

type sessionStartInput struct {
	RequirementsPath string `json:"requirements_path" jsonschema:"required,Path to the requirements source (markdown or YAML)"`
}

type sessionStartOutput struct {
	SessionID    string `json:"session_id" jsonschema:"New session identifier"`
	Status       string `json:"status" jsonschema:"Session status (pending_approval)"`
	Requirements int    `json:"requirements" jsonschema:"Number of parsed requirements"`
}

type sessionStatusOutput struct {
	SessionID         string         `json:"session_id" jsonschema:"Session identifier"`
	Status            string         `json:"status" jsonschema:"Session status"`
	PreflightApproved bool           `json:"preflight_approved" jsonschema:"True once the scope is locked"`
	Requirements      map[string]int `json:"requirements" jsonschema:"Requirement counts by status"`
	Coverage          float64        `json:"coverage" jsonschema:"Coverage from the last validation, 0 to 1"`
}

type sessionValidateOutput struct {
	Coverage   float64  `json:"coverage" jsonschema:"Fraction of Critical/High requirements done with traceability"`
	Missing    []string `json:"missing,omitempty" jsonschema:"Done requirements never referenced in source"`
	ScopeCreep []string `json:"scope_creep,omitempty" jsonschema:"Source annotations matching no requirement"`
	Incomplete bool     `json:"incomplete,omitempty" jsonschema:"True when the scan hit its deadline"`
}

type sessionEndOutput struct {
	Result   string   `json:"result" jsonschema:"COMPLIANT, NEEDS_ATTENTION, or NON_COMPLIANT"`
	Coverage float64  `json:"coverage" jsonschema:"Final coverage, 0 to 1"`
	Missing  []string `json:"missing,omitempty" jsonschema:"Requirements without traceability"`
}

func (s *Server) registerSessionTools() {
	s.toolRegistry.Register(&ToolMetadata{Name: "session_start", Category: CategorySession,
		Description: "Parse a requirements source and open a session awaiting approval"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_start",
		Description: "Parse a requirements source and open a strict implementation session awaiting approval",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionStartInput) (*mcp.CallToolResult, sessionStartOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_start")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_start")
			s.metrics.RecordInvocation(ctx, "session_start", time.Since(start), toolErr)
		}()

		sess, err := s.controller.Start(ctx, args.RequirementsPath)
		if err != nil {
			toolErr = err
			return nil, sessionStartOutput{}, err
		}

		out := sessionStartOutput{
			SessionID:    sess.ID,
			Status:       string(sess.Status),
			Requirements: len(sess.Requirements),
		}
		return textResult(fmt.Sprintf("Session %s opened with %d requirements, awaiting approval", sess.ID, out.Requirements)), out, nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "session_approve", Category: CategorySession,
		Description: "Lock the requirement scope and activate the session"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_approve",
		Description: "Approve the pending session, locking implementation work to its requirement scope",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, sessionStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_approve")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_approve")
			s.metrics.RecordInvocation(ctx, "session_approve", time.Since(start), toolErr)
		}()

		sess, err := s.controller.Approve(ctx)
		if err != nil {
			toolErr = err
			return nil, sessionStatusOutput{}, err
		}
		return textResult("Session approved, scope locked"), summarize(sess), nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "session_status", Category: CategorySession,
		Description: "Report the session state and requirement counts"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_status",
		Description: "Report the current session state, requirement counts, and last validation coverage",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, sessionStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_status")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_status")
			s.metrics.RecordInvocation(ctx, "session_status", time.Since(start), toolErr)
		}()

		sess, err := s.controller.Status(ctx)
		if err != nil {
			toolErr = err
			return nil, sessionStatusOutput{}, err
		}
		out := summarize(sess)
		return textResult(fmt.Sprintf("Session %s is %s", out.SessionID, out.Status)), out, nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "session_validate", Category: CategorySession,
		Description: "Scan source for requirement annotations and report coverage"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_validate",
		Description: "Scan the project for requirement annotations and report traceability coverage and gaps",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, sessionValidateOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_validate")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_validate")
			s.metrics.RecordInvocation(ctx, "session_validate", time.Since(start), toolErr)
		}()

		match, err := s.controller.Validate(ctx)
		if err != nil && !errors.Is(err, trace.ErrScanTimeout) {
			toolErr = err
			return nil, sessionValidateOutput{}, err
		}

		sess, err := s.controller.Status(ctx)
		if err != nil {
			toolErr = err
			return nil, sessionValidateOutput{}, err
		}

		out := sessionValidateOutput{
			Missing:    match.Missing,
			Incomplete: match.Incomplete,
		}
		if sess.Validation != nil {
			out.Coverage = sess.Validation.Coverage
		}
		for _, creep := range match.ScopeCreep {
			out.ScopeCreep = append(out.ScopeCreep, fmt.Sprintf("%s at %s", creep.ID, creep.Location))
		}

		text := fmt.Sprintf("Validation complete: %.0f%% coverage, %d missing, %d scope creep",
			out.Coverage*100, len(out.Missing), len(out.ScopeCreep))
		if out.Incomplete {
			text += " (scan timed out, partial result)"
		}
		return textResult(text), out, nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "session_pause", Category: CategorySession,
		Description: "Pause the active session"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_pause",
		Description: "Pause the active session; no mutations are permitted until resume",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, sessionStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_pause")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_pause")
			s.metrics.RecordInvocation(ctx, "session_pause", time.Since(start), toolErr)
		}()

		sess, err := s.controller.Pause(ctx)
		if err != nil {
			toolErr = err
			return nil, sessionStatusOutput{}, err
		}
		return textResult("Session paused"), summarize(sess), nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "session_resume", Category: CategorySession,
		Description: "Resume a paused session"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_resume",
		Description: "Resume a paused session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, sessionStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_resume")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_resume")
			s.metrics.RecordInvocation(ctx, "session_resume", time.Since(start), toolErr)
		}()

		sess, err := s.controller.Resume(ctx)
		if err != nil {
			toolErr = err
			return nil, sessionStatusOutput{}, err
		}
		return textResult("Session resumed"), summarize(sess), nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "session_end", Category: CategorySession,
		Description: "Run final validation, write the compliance report, and end the session"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_end",
		Description: "Run a final validation, compute compliance over Critical/High requirements, write the immutable report, and end the session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, sessionEndOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_end")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "session_end")
			s.metrics.RecordInvocation(ctx, "session_end", time.Since(start), toolErr)
		}()

		report, err := s.controller.End(ctx)
		if err != nil {
			toolErr = err
			return nil, sessionEndOutput{}, err
		}

		out := sessionEndOutput{
			Result:   string(report.Result),
			Coverage: report.Coverage,
			Missing:  report.Missing,
		}
		return textResult(fmt.Sprintf("Session ended: %s at %.0f%% coverage", out.Result, out.Coverage*100)), out, nil
	})
}

// ===== REQUIREMENT TOOLS =====

type requirementMarkInput struct {
	ID       string `json:"id" jsonschema:"required,Requirement identifier (e.g. REQ-001)"`
	Status   string `json:"status" jsonschema:"required,New status: pending, in_progress, done, or blocked"`
	Location string `json:"location,omitempty" jsonschema:"Code location as file:start-end; required when marking done"`
	Reason   string `json:"reason,omitempty" jsonschema:"Blocking reason; required when marking blocked"`
}

type requirementMarkOutput struct {
	ID            string   `json:"id" jsonschema:"Requirement identifier"`
	Status        string   `json:"status" jsonschema:"New status"`
	ImplementedIn []string `json:"implemented_in,omitempty" jsonschema:"Known code locations"`
	BlockedReason string   `json:"blocked_reason,omitempty" jsonschema:"Reason when blocked"`
}

func (s *Server) registerRequirementTools() {
	s.toolRegistry.Register(&ToolMetadata{Name: "requirement_mark", Category: CategoryRequirement,
		Description: "Transition a requirement's status with evidence"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "requirement_mark",
		Description: "Transition a requirement's status; done requires a code location, blocked requires a reason",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args requirementMarkInput) (*mcp.CallToolResult, requirementMarkOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "requirement_mark")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "requirement_mark")
			s.metrics.RecordInvocation(ctx, "requirement_mark", time.Since(start), toolErr)
		}()

		status, err := requirement.ParseStatus(args.Status)
		if err != nil {
			toolErr = err
			return nil, requirementMarkOutput{}, err
		}

		var location *requirement.CodeLocation
		if args.Location != "" {
			loc, err := requirement.ParseCodeLocation(args.Location)
			if err != nil {
				toolErr = err
				return nil, requirementMarkOutput{}, err
			}
			location = &loc
		}

		r, err := s.controller.Mark(ctx, args.ID, status, location, args.Reason)
		if err != nil {
			toolErr = err
			return nil, requirementMarkOutput{}, err
		}

		out := requirementMarkOutput{
			ID:            r.ID,
			Status:        string(r.Status),
			BlockedReason: r.BlockedReason,
		}
		for _, loc := range r.ImplementedIn {
			out.ImplementedIn = append(out.ImplementedIn, loc.String())
		}
		return textResult(fmt.Sprintf("Requirement %s marked %s", r.ID, r.Status)), out, nil
	})
}

// ===== GATE TOOLS =====

type gateStatusOutput struct {
	Gates []gateStatusEntry `json:"gates" jsonschema:"All gates in canonical order"`
}

type gateStatusEntry struct {
	ID                       string   `json:"id" jsonschema:"Gate identifier"`
	Status                   string   `json:"status" jsonschema:"Gate status"`
	Prerequisites            []string `json:"prerequisites" jsonschema:"Gates that must pass first"`
	RequiresCustomerApproval bool     `json:"requires_customer_approval" jsonschema:"True for customer-facing gates"`
	Approved                 bool     `json:"approved" jsonschema:"True when the gate carries the approvals it needs"`
}

type gateApproveInput struct {
	Gate     string `json:"gate" jsonschema:"required,Gate identifier (D1-D4, G2-G4)"`
	Role     string `json:"role" jsonschema:"required,Approver role; customer approvals unlock customer-facing gates"`
	Approver string `json:"approver,omitempty" jsonschema:"Approver name"`
}

type gateApproveOutput struct {
	Gate     string `json:"gate" jsonschema:"Gate identifier"`
	Approved bool   `json:"approved" jsonschema:"True when the gate now carries the approvals it needs"`
}

func (s *Server) registerGateTools() {
	s.toolRegistry.Register(&ToolMetadata{Name: "gate_status", Category: CategoryGate,
		Description: "Report every gate's status, prerequisites, and approval state"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gate_status",
		Description: "Report every gate's status, prerequisites, and approval state",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, gateStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "gate_status")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "gate_status")
			s.metrics.RecordInvocation(ctx, "gate_status", time.Since(start), toolErr)
		}()

		records := s.gates.Records()
		graph := s.gates.Graph()

		out := gateStatusOutput{Gates: make([]gateStatusEntry, 0, len(gate.AllIDs()))}
		for _, id := range gate.AllIDs() {
			prereqs := graph.PrerequisitesOf(id)
			names := make([]string, len(prereqs))
			for i, p := range prereqs {
				names[i] = string(p)
			}
			out.Gates = append(out.Gates, gateStatusEntry{
				ID:                       string(id),
				Status:                   string(records[id].Status),
				Prerequisites:            names,
				RequiresCustomerApproval: graph.RequiresCustomerApproval(id),
				Approved:                 s.ledger.IsApproved(id),
			})
		}
		return textResult(fmt.Sprintf("%d gates reported", len(out.Gates))), out, nil
	})

	s.toolRegistry.Register(&ToolMetadata{Name: "gate_approve", Category: CategoryGate,
		Description: "Record a sign-off on a gate"})
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gate_approve",
		Description: "Record a sign-off on a gate; customer-facing gates need one from the customer role before they can pass",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args gateApproveInput) (*mcp.CallToolResult, gateApproveOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "gate_approve")
		var toolErr error
		defer func() {
			s.metrics.DecrementActive(ctx, "gate_approve")
			s.metrics.RecordInvocation(ctx, "gate_approve", time.Since(start), toolErr)
		}()

		id := gate.ID(args.Gate)
		if err := s.ledger.RecordApproval(ctx, id, args.Role, args.Approver, time.Time{}); err != nil {
			toolErr = err
			return nil, gateApproveOutput{}, err
		}

		out := gateApproveOutput{Gate: args.Gate, Approved: s.ledger.IsApproved(id)}
		return textResult(fmt.Sprintf("Approval recorded for gate %s by role %s", args.Gate, args.Role)), out, nil
	})
}

// summarize condenses a session snapshot into the tool output shape.
func summarize(sess *session.Session) sessionStatusOutput {
	out := sessionStatusOutput{
		SessionID:         sess.ID,
		Status:            string(sess.Status),
		PreflightApproved: sess.PreflightApproved,
		Requirements:      make(map[string]int, 4),
	}
	for _, r := range sess.Requirements {
		out.Requirements[string(r.Status)]++
	}
	if sess.Validation != nil {
		out.Coverage = sess.Validation.Coverage
	}
	return out
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
