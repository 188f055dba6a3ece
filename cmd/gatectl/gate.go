package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/gated/internal/gate"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect and drive the quality gate lifecycle",
}

var gateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show every gate's status, prerequisites, and approvals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		records := eng.gates.Records()
		graph := eng.gates.Graph()

		if jsonOutput {
			type entry struct {
				ID                       gate.ID               `json:"id"`
				Status                   gate.Status           `json:"status"`
				Prerequisites            []gate.ID             `json:"prerequisites"`
				RequiresCustomerApproval bool                  `json:"requires_customer_approval"`
				Approvals                []gate.ApprovalRecord `json:"approvals,omitempty"`
			}
			out := make([]entry, 0, len(gate.AllIDs()))
			for _, id := range gate.AllIDs() {
				out = append(out, entry{
					ID:                       id,
					Status:                   records[id].Status,
					Prerequisites:            graph.PrerequisitesOf(id),
					RequiresCustomerApproval: graph.RequiresCustomerApproval(id),
					Approvals:                eng.ledger.Approvals(id),
				})
			}
			return printJSON(out)
		}

		for _, id := range gate.AllIDs() {
			record := records[id]
			line := fmt.Sprintf("%-3s %-20s", id, record.Status)
			if prereqs := graph.PrerequisitesOf(id); len(prereqs) > 0 {
				line += fmt.Sprintf("  after %v", prereqs)
			}
			if graph.RequiresCustomerApproval(id) {
				if eng.ledger.IsApproved(id) {
					line += "  [customer approved]"
				} else {
					line += "  [needs customer approval]"
				}
			}
			fmt.Println(line)
		}
		return nil
	},
}

var gateBeginCmd = &cobra.Command{
	Use:   "begin <gate>",
	Short: "Move a gate to in_progress",
	Long: `Move a gate to in_progress. Rejected unless every prerequisite gate
has passed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		id, err := gate.ParseID(args[0])
		if err != nil {
			return err
		}
		if err := eng.gates.Begin(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Gate %s is now in progress\n", id)
		return nil
	},
}

var gateChecksFile string

// gateInputs is the YAML shape accepted by "gate complete".
type gateInputs struct {
	Checklist []gate.ChecklistItem `yaml:"checklist"`
	Checks    []gate.CheckResult   `yaml:"checks"`
}

var gateCompleteCmd = &cobra.Command{
	Use:   "complete <gate>",
	Short: "Evaluate a gate from its checklist and check results",
	Long: `Evaluate a gate. Checklist items and automated check results are read
from YAML files; any unresolved required item or failing check fails the
gate, and customer-facing gates additionally need a recorded customer
approval before they can pass.

Example checks file:
  checklist:
    - description: "API documented"
      required: true
      status: done
  checks:
    - name: coverage
      value: 87.5
      threshold: 80
      passed: true

Examples:
  gatectl gate complete G2 --inputs g2-results.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		id, err := gate.ParseID(args[0])
		if err != nil {
			return err
		}

		var inputs gateInputs
		if gateChecksFile != "" {
			data, err := os.ReadFile(gateChecksFile)
			if err != nil {
				return fmt.Errorf("reading inputs file: %w", err)
			}
			if err := yaml.Unmarshal(data, &inputs); err != nil {
				return fmt.Errorf("parsing inputs file: %w", err)
			}
		}

		eval, err := eng.gates.Complete(cmd.Context(), id, inputs.Checklist, inputs.Checks)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(eval)
		}
		fmt.Printf("Gate %s: %s\n", id, eval.Status)
		for _, issue := range eval.Failures {
			fmt.Printf("  FAIL %s: %s\n", issue.Name, issue.Detail)
		}
		for _, issue := range eval.Warnings {
			fmt.Printf("  warn %s: %s\n", issue.Name, issue.Detail)
		}
		return nil
	},
}

var (
	approveRole     string
	approveApprover string
)

var gateApproveCmd = &cobra.Command{
	Use:   "approve <gate>",
	Short: "Record a sign-off on a gate",
	Long: `Record a sign-off on a gate. Customer-facing gates (D2, D3, D4, G4)
need one approval from the customer role before they can pass.

Examples:
  gatectl gate approve D2 --role customer --approver "Dana K."
  gatectl gate approve G2 --role tech-lead`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}

		id, err := gate.ParseID(args[0])
		if err != nil {
			return err
		}
		if err := eng.ledger.RecordApproval(cmd.Context(), id, approveRole, approveApprover, time.Time{}); err != nil {
			return err
		}

		fmt.Printf("Approval recorded for gate %s (role %s)\n", id, approveRole)
		if eng.gates.Graph().RequiresCustomerApproval(id) && !eng.ledger.IsApproved(id) {
			fmt.Printf("Gate %s still needs an approval from the %s role\n", id, eng.cfg.Gates.CustomerRole)
		}
		return nil
	},
}

func init() {
	gateCompleteCmd.Flags().StringVar(&gateChecksFile, "inputs", "", "YAML file with checklist items and check results")
	gateApproveCmd.Flags().StringVar(&approveRole, "role", "", "approver role (required)")
	gateApproveCmd.Flags().StringVar(&approveApprover, "approver", "", "approver name")
	_ = gateApproveCmd.MarkFlagRequired("role")

	gateCmd.AddCommand(gateStatusCmd)
	gateCmd.AddCommand(gateBeginCmd)
	gateCmd.AddCommand(gateCompleteCmd)
	gateCmd.AddCommand(gateApproveCmd)
}
