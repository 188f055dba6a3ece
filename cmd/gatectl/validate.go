package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/trace"
	"github.com/fyrsmithlabs/gated/internal/watch"
)

var watchMode bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Scan source for requirement annotations and report coverage",
	Long: `Scan the project for requirement annotations and report traceability
coverage, done requirements never referenced in source, and annotations
that match no known requirement.

Exits with code 2 when blocking issues are found.

Examples:
  gatectl validate
  gatectl validate --json
  gatectl validate --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		if !watchMode {
			return runValidate(cmd.Context(), eng)
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		w, err := watch.NewWatcher(eng.root, func(ctx context.Context) error {
			if err := runValidate(ctx, eng); err != nil {
				var ee *exitError
				if !errors.As(err, &ee) {
					return err
				}
			}
			return nil
		}, nil, watch.DefaultConfig())
		if err != nil {
			return err
		}
		defer w.Stop()

		if err := w.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Watching for changes (Ctrl-C to stop)...")

		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&watchMode, "watch", false, "re-validate whenever project files change")
}

// runValidate runs one validation pass and prints the result. Blocking
// issues surface as an exit-code-2 error.
func runValidate(ctx context.Context, eng *engine) error {
	match, err := eng.controller.Validate(ctx)
	if err != nil && !errors.Is(err, trace.ErrScanTimeout) {
		return err
	}

	if jsonOutput {
		if err := printJSON(match); err != nil {
			return err
		}
	} else {
		sess, serr := eng.controller.Status(ctx)
		if serr != nil {
			return serr
		}
		coverage := 0.0
		if sess.Validation != nil {
			coverage = sess.Validation.Coverage
		}
		fmt.Printf("Scanned %d files in %s: %.0f%% coverage\n",
			match.ScannedFiles, match.Duration.Round(time.Millisecond), coverage*100)
		if match.Incomplete {
			fmt.Println("Note: scan timed out; this is a partial result")
		}
		for _, id := range match.Missing {
			fmt.Printf("  missing traceability: %s (marked done, never referenced)\n", id)
		}
		for _, creep := range match.ScopeCreep {
			fmt.Printf("  scope creep: %s at %s (no such requirement)\n", creep.ID, creep.Location)
		}
	}

	if len(match.Missing) > 0 || len(match.ScopeCreep) > 0 {
		return &exitError{
			code: exitValidation,
			err: fmt.Errorf("validation found %d blocking issue(s)",
				len(match.Missing)+len(match.ScopeCreep)),
		}
	}
	return nil
}
