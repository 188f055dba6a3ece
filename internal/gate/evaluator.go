// internal/gate/evaluator.go
package gate

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/gated/internal/gate"

// Evaluator computes a gate's status from its checklist and automated
// check results.
//
// Policy: any unresolved required checklist item, any check whose tool
// verdict is false, and any check value below its threshold is a failure.
// Failure dominates: a single failure yields StatusFailed no matter how
// many warnings or passes accompany it. Non-required unresolved items and
// values inside a check's warning band yield StatusPassedWithWarnings.
type Evaluator struct {
	logger *logging.Logger
	tracer trace.Tracer
}

// NewEvaluator creates an Evaluator. logger may be nil.
func NewEvaluator(logger *logging.Logger) *Evaluator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Evaluator{
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
}

// Evaluate computes the evaluation for one gate.
func (e *Evaluator) Evaluate(ctx context.Context, id ID, checklist []ChecklistItem, checks []CheckResult) Evaluation {
	ctx, span := e.tracer.Start(ctx, "gate.Evaluate",
		trace.WithAttributes(attribute.String("gate.id", string(id))))
	defer span.End()

	var failures, warnings []Issue

	for _, item := range checklist {
		if item.Status == ChecklistDone {
			continue
		}
		issue := Issue{
			Source: SourceChecklist,
			Name:   item.Description,
			Detail: "checklist item unresolved",
		}
		if item.Required {
			failures = append(failures, issue)
		} else {
			warnings = append(warnings, issue)
		}
	}

	for _, check := range checks {
		switch {
		case !check.Passed:
			failures = append(failures, Issue{
				Source: SourceCheck,
				Name:   check.Name,
				Detail: fmt.Sprintf("check reported failure (value %.2f, threshold %.2f)", check.Value, check.Threshold),
			})
		case check.Value < check.Threshold:
			failures = append(failures, Issue{
				Source: SourceCheck,
				Name:   check.Name,
				Detail: fmt.Sprintf("value %.2f below threshold %.2f", check.Value, check.Threshold),
			})
		case check.WarnBelow > check.Threshold && check.Value < check.WarnBelow:
			warnings = append(warnings, Issue{
				Source: SourceCheck,
				Name:   check.Name,
				Detail: fmt.Sprintf("value %.2f below warning level %.2f", check.Value, check.WarnBelow),
			})
		}
	}

	status := StatusPassed
	switch {
	case len(failures) > 0:
		status = StatusFailed
	case len(warnings) > 0:
		status = StatusPassedWithWarnings
	}

	e.logger.Debug(ctx, "gate evaluated",
		zap.String("gate", string(id)),
		zap.String("status", string(status)),
		zap.Int("failures", len(failures)),
		zap.Int("warnings", len(warnings)))

	span.SetAttributes(
		attribute.String("gate.status", string(status)),
		attribute.Int("gate.failures", len(failures)),
		attribute.Int("gate.warnings", len(warnings)),
	)

	return Evaluation{
		Status:   status,
		Failures: failures,
		Warnings: warnings,
	}
}
