// Gated is the quality gate and traceability daemon.
//
// It serves the session and gate engine over two transports: an HTTP API
// with Prometheus metrics (the default), and MCP over stdio for agent
// integration (--stdio).
//
// Configuration is loaded from .gated/config.yaml in the project root
// with GATED_* environment overrides.
//
// Usage:
//
//	# Start the HTTP daemon in the current project
//	gated
//
//	# Serve MCP over stdio for an agent client
//	gated --stdio
//
//	# Use an explicit project root and config file
//	gated --root /path/to/project --config /etc/gated.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/approval"
	"github.com/fyrsmithlabs/gated/internal/config"
	"github.com/fyrsmithlabs/gated/internal/gate"
	gatedhttp "github.com/fyrsmithlabs/gated/internal/http"
	"github.com/fyrsmithlabs/gated/internal/logging"
	"github.com/fyrsmithlabs/gated/internal/mcp"
	"github.com/fyrsmithlabs/gated/internal/session"
	"github.com/fyrsmithlabs/gated/internal/telemetry"
	"github.com/fyrsmithlabs/gated/internal/trace"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		rootFlag   = flag.String("root", "", "project root (default: current directory)")
		configFlag = flag.String("config", "", "path to config file (default: <root>/.gated/config.yaml)")
		stdioFlag  = flag.Bool("stdio", false, "serve MCP over stdio instead of HTTP")
	)
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  gated            Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  gated --stdio    Serve MCP over stdio\n")
			fmt.Fprintf(os.Stderr, "  gated version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *rootFlag, *configFlag, *stdioFlag); err != nil {
		log.Fatalf("gated: %v", err)
	}
}

func printVersion() {
	fmt.Printf("gated by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the engine and blocks until the context is canceled.
func run(ctx context.Context, root, configPath string, stdio bool) error {
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	cfg, err := config.Load(root, configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		_ = tel.Shutdown(context.Background())
	}()

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	if stdio {
		// Stdout carries the MCP protocol stream.
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}

	logger.Info(ctx, "starting gated",
		zap.String("version", version),
		zap.String("root", root),
		zap.Bool("stdio", stdio))

	engine, err := buildEngine(root, cfg, logger)
	if err != nil {
		return err
	}

	if stdio {
		return runStdio(ctx, cfg, engine, logger)
	}
	return runHTTP(ctx, cfg, engine, logger)
}

// engine bundles the wired services.
type engine struct {
	controller *session.Controller
	gates      *gate.Manager
	ledger     *approval.Ledger
}

// buildEngine wires the gate manager, approval ledger, scanner, and
// session controller over the project root.
//
// The manager needs an approval checker and the ledger persists through
// the manager, so the checker closes over the ledger variable bound
// after the manager is built.
func buildEngine(root string, cfg *config.Config, logger *logging.Logger) (*engine, error) {
	stateDir := filepath.Join(root, cfg.Session.StateDir)

	store := gate.NewStatusStore(stateDir)
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

	return &engine{controller: controller, gates: gates, ledger: ledger}, nil
}

// runHTTP serves the HTTP API until the context is canceled.
func runHTTP(ctx context.Context, cfg *config.Config, eng *engine, logger *logging.Logger) error {
	srv, err := gatedhttp.NewServer(eng.controller, eng.gates, logger, gatedhttp.FromAppConfig(cfg.Server))
	if err != nil {
		return fmt.Errorf("initializing HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "HTTP server started",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	logger.Info(context.Background(), "HTTP server shutdown complete")
	return nil
}

// runStdio serves MCP over stdio until the client disconnects or the
// context is canceled.
func runStdio(ctx context.Context, cfg *config.Config, eng *engine, logger *logging.Logger) error {
	mcpCfg := mcp.DefaultConfig()
	mcpCfg.Version = version
	mcpCfg.Logger = logger

	srv, err := mcp.NewServer(mcpCfg, eng.controller, eng.gates, eng.ledger)
	if err != nil {
		return fmt.Errorf("initializing MCP server: %w", err)
	}

	fmt.Fprintf(os.Stderr, "gated MCP stdio mode started (project state in %s)\n", cfg.Session.StateDir)
	return srv.Run(ctx)
}
