// Package main implements the gatectl CLI for driving gated sessions,
// requirements, and quality gates from the command line.
//
// Exit codes: 0 on success, 1 when an operation is rejected or fails,
// 2 when validation finds blocking traceability issues.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/gated/internal/approval"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/gate"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/session"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

var (
	// version information (set via ldflags during build)
	version = "dev"

	// persistent flags
	rootDir    string
	configPath string
	jsonOutput bool
	verbose    bool
)

const (
	exitRejected   = 1
	exitValidation = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitRejected)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "CLI for gated sessions, requirements, and quality gates",
	Long: `gatectl drives a gated project: it opens implementation sessions from a
requirements source, tracks requirement progress with evidence, validates
code-to-requirement traceability, and manages the quality gate lifecycle.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "project root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: <root>/.gated/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(markCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(gateCmd)
}

// engine bundles the services a command works with.
type engine struct {
	root       string
	cfg        *config.Config
	controller *session.Controller
	gates      *gate.Manager
	ledger     *approval.Ledger
}

// newEngine loads configuration and wires the services over the project
// root. Every command builds a fresh engine; state lives on disk.
func newEngine() (*engine, error) {
	root := rootDir
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
	}

	cfg, err := config.Load(root, configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NewNop()
	if verbose {
		logCfg := logging.NewDefaultConfig()
		logCfg.Level = zapcore.DebugLevel
		logCfg.Format = "console"
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
		logger, err = logging.NewLogger(logCfg, nil)
		if err != nil {
			return nil, fmt.Errorf("initializing logger: %w", err)
		}
	}

	store := gate.NewStatusStore(filepath.Join(root, cfg.Session.StateDir))
	var ledger *approval.Ledger
	gates, err := gate.NewManager(store, gate.ApprovalCheckerFunc(func(id gate.ID) bool {
		return ledger.IsApproved(id)
	}), logger, gate.ManagerConfig{StrictWarnings: cfg.Gates.StrictWarnings})
	if err != nil {
		return nil, fmt.Errorf("initializing gate manager: %w", err)
	}
	ledger, err = approval.NewLedger(gates.Graph(), gates, cfg.Gates.CustomerRole, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing approval ledger: %w", err)
	}
	ledger.Seed(gates.Records())

	scanner, err := trace.NewScanner(trace.FromAppConfig(cfg.Scanner), logger)
	if err != nil {
		return nil, fmt.Errorf("initializing scanner: %w", err)
	}

	controller, err := session.NewController(root, scanner, gates, ledger, logger, session.FromAppConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("initializing session controller: %w", err)
	}

	return &engine{
		root:       root,
		cfg:        cfg,
		controller: controller,
		gates:      gates,
		ledger:     ledger,
	}, nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
