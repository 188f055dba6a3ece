package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/requirement"
	"github.com/fyrsmithlabs/gated/internal/session"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

func TestRecordInvocation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	ctx := context.Background()
	m.RecordInvocation(ctx, "session_start", 10*time.Millisecond, nil)
	m.RecordInvocation(ctx, "session_start", 20*time.Millisecond, nil)
	m.RecordInvocation(ctx, "requirement_mark", 5*time.Millisecond, requirement.ErrMissingEvidence)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var invocations, errs int64
	var durations uint64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "gated.mcp.tool.invocations_total":
				if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						invocations += dp.Value
					}
				}
			case "gated.mcp.tool.errors_total":
				if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
					for _, dp := range sum.DataPoints {
						errs += dp.Value
					}
				}
			case "gated.mcp.tool.duration_seconds":
				if hist, ok := md.Data.(metricdata.Histogram[float64]); ok {
					for _, dp := range hist.DataPoints {
						durations += dp.Count
					}
				}
			}
		}
	}

	assert.Equal(t, int64(3), invocations)
	assert.Equal(t, int64(1), errs)
	assert.Equal(t, uint64(3), durations)
}

func TestActiveRequestsBalance(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m := &Metrics{
		meter:  mp.Meter(instrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	ctx := context.Background()
	m.IncrementActive(ctx, "session_validate")
	m.IncrementActive(ctx, "session_validate")
	m.DecrementActive(ctx, "session_validate")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var active int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "gated.mcp.tool.active_requests" {
				continue
			}
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					active += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), active)
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{session.ErrSessionAlreadyActive, "session_already_active"},
		{session.ErrNoActiveSession, "no_active_session"},
		{session.ErrSessionAlreadyEnded, "session_already_ended"},
		{session.ErrInvalidTransition, "invalid_transition"},
		{requirement.ErrUnknownRequirement, "unknown_requirement"},
		{requirement.ErrMissingEvidence, "missing_evidence"},
		{requirement.ErrMissingReason, "missing_evidence"},
		{gate.ErrPrerequisiteNotMet, "prerequisite_not_met"},
		{gate.ErrApprovalPending, "approval_pending"},
		{trace.ErrScanTimeout, "scan_timeout"},
		{errors.New("something else"), "internal_error"},
		{fmt.Errorf("wrapped: %w", session.ErrNoActiveSession), "no_active_session"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, categorizeError(tt.err), "error %v", tt.err)
	}
}
