// Package logging provides structured logging for gated built on Zap.
//
// The Logger wraps zap with context-aware methods that automatically attach
// correlation fields (trace/span IDs from OpenTelemetry, session ID, gate ID,
// requirement ID, request ID) extracted from the context.
//
// Output goes to stdout (JSON or console encoding) and optionally to an
// OpenTelemetry log provider via the otelzap bridge.
//
// Usage:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, "sess-01")
//	logger.Info(ctx, "session approved", zap.Int("requirements", 3))
package logging
