package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/requirement"
)

var startCmd = &cobra.Command{
	Use:   "start <requirements-file>",
	Short: "Open a session from a requirements source",
	Long: `Parse a markdown or YAML requirements source and open a session in the
pending_approval state. Approve it with "gatectl approve" before marking
any work.

Examples:
  gatectl start docs/requirements.md
  gatectl start specs/reqs.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		sess, err := eng.controller.Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("Session %s opened: %d requirements, awaiting approval\n",
			sess.ID, len(sess.Requirements))
		printRequirements(sess.Requirements)
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Approve the pending session and lock its scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		sess, err := eng.controller.Approve(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("Session %s approved: scope locked at %d requirements\n",
			sess.ID, len(sess.Requirements))
		return nil
	},
}

var (
	markLocation string
	markReason   string
)

var markCmd = &cobra.Command{
	Use:   "mark <requirement-id> <status>",
	Short: "Transition a requirement's status",
	Long: `Transition a requirement to pending, in_progress, done, or blocked.
Marking done requires --location with the implementing code range;
marking blocked requires --reason.

Examples:
  gatectl mark REQ-001 in_progress
  gatectl mark REQ-001 done --location src/payment.ts:45-67
  gatectl mark REQ-002 blocked --reason "waiting on API credentials"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		status, err := requirement.ParseStatus(args[1])
		if err != nil {
			return err
		}

		var location *requirement.CodeLocation
		if markLocation != "" {
			loc, err := requirement.ParseCodeLocation(markLocation)
			if err != nil {
				return err
			}
			location = &loc
		}

		r, err := eng.controller.Mark(cmd.Context(), args[0], status, location, markReason)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(r)
		}
		fmt.Printf("%s -> %s\n", r.ID, r.Status)
		for _, loc := range r.ImplementedIn {
			fmt.Printf("  implemented in %s\n", loc)
		}
		if r.BlockedReason != "" {
			fmt.Printf("  blocked: %s\n", r.BlockedReason)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		sess, err := eng.controller.Status(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("Session:  %s\n", sess.ID)
		fmt.Printf("Status:   %s\n", sess.Status)
		fmt.Printf("Source:   %s\n", sess.RequirementsSource)
		if sess.Validation != nil {
			fmt.Printf("Coverage: %.0f%% (validated %s)\n",
				sess.Validation.Coverage*100, sess.Validation.LastRun.Format("2006-01-02 15:04:05"))
		}
		printRequirements(sess.Requirements)
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the active session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		sess, err := eng.controller.Pause(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("Session %s paused\n", sess.ID)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		sess, err := eng.controller.Resume(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(sess)
		}
		fmt.Printf("Session %s resumed\n", sess.ID)
		return nil
	},
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "Run final validation, write the compliance report, and end the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		report, err := eng.controller.End(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(report)
		}
		fmt.Printf("Session ended: %s\n", report.Result)
		fmt.Printf("Coverage: %.0f%% (%d/%d must-trace requirements)\n",
			report.Coverage*100, report.TracedDone, report.MustTrace)
		if report.ScanIncomplete {
			fmt.Println("Note: final scan timed out; coverage computed from a partial result")
		}
		for _, id := range report.Missing {
			fmt.Printf("  missing traceability: %s\n", id)
		}
		return nil
	},
}

func init() {
	markCmd.Flags().StringVar(&markLocation, "location", "", "implementing code range, file:start-end")
	markCmd.Flags().StringVar(&markReason, "reason", "", "reason the requirement is blocked")
}

// printRequirements prints a fixed-width requirement table.
func printRequirements(reqs []requirement.Requirement) {
	if len(reqs) == 0 {
		return
	}
	fmt.Println()
	for _, r := range reqs {
		marker := " "
		switch r.Status {
		case requirement.StatusDone:
			marker = "x"
		case requirement.StatusInProgress:
			marker = "~"
		case requirement.StatusBlocked:
			marker = "!"
		}
		fmt.Printf("  [%s] %-12s %-8s %s\n", marker, r.ID, r.Priority, r.Description)
	}
}
