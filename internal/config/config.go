// Package config provides configuration loading for gated.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Settings cover the HTTP server, observability, logging,
// the traceability scanner, session handling, and gate evaluation.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete gated configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Scanner       ScannerConfig       `koanf:"scanner"`
	Session       SessionConfig       `koanf:"session"`
	Gates         GatesConfig         `koanf:"gates"`
	Compliance    ComplianceConfig    `koanf:"compliance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is the sustained request rate per client (requests/second).
	RateLimit float64 `koanf:"rate_limit"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	Enabled        bool    `koanf:"enabled"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure       bool    `koanf:"insecure"`
	TLSSkipVerify  bool    `koanf:"tls_skip_verify"`
	SamplingRate   float64 `koanf:"sampling_rate"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
	Stdout bool   `koanf:"stdout"`
	OTEL   bool   `koanf:"otel"`
	Caller bool   `koanf:"caller"`
}

// ScannerConfig holds traceability scanner configuration.
type ScannerConfig struct {
	// Prefixes are the requirement annotation prefixes matched in comments.
	Prefixes []string `koanf:"prefixes"`

	// Include restricts the scan to matching glob patterns. Empty means all files.
	Include []string `koanf:"include"`

	// Exclude patterns are always skipped, in addition to ignore file patterns.
	Exclude []string `koanf:"exclude"`

	// IgnoreFiles are gitignore-style files parsed from the project root.
	IgnoreFiles []string `koanf:"ignore_files"`

	// FallbackExcludes are used when no ignore files are found.
	FallbackExcludes []string `koanf:"fallback_excludes"`

	// Timeout bounds a single scan. On expiry a partial result is returned.
	Timeout Duration `koanf:"timeout"`

	// MaxFileSizeKB skips files larger than this (binary blobs, bundles).
	MaxFileSizeKB int `koanf:"max_file_size_kb"`
}

// SessionConfig holds session lifecycle configuration.
type SessionConfig struct {
	// StateDir is the directory (relative to project root) for persisted state.
	StateDir string `koanf:"state_dir"`

	// Actor is recorded in audit entries for CLI-issued operations.
	Actor string `koanf:"actor"`
}

// GatesConfig holds gate evaluation configuration.
type GatesConfig struct {
	// CustomerRole is the approver role required on customer-facing gates.
	CustomerRole string `koanf:"customer_role"`

	// StrictWarnings makes passed_with_warnings not count as passed
	// when checking gate prerequisites.
	StrictWarnings bool `koanf:"strict_warnings"`
}

// ComplianceConfig holds end-of-session compliance thresholds.
type ComplianceConfig struct {
	// CompliantMin is the minimum coverage ratio for a COMPLIANT result.
	CompliantMin float64 `koanf:"compliant_min"`

	// AttentionMin is the minimum coverage ratio for NEEDS_ATTENTION;
	// below it the result is NON_COMPLIANT.
	AttentionMin float64 `koanf:"attention_min"`
}

// Default returns config with production-ready defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9480,
			ShutdownTimeout: Duration(10 * time.Second),
			RateLimit:       20,
		},
		Observability: ObservabilityConfig{
			Enabled:        false,
			ServiceName:    "gated",
			ServiceVersion: "dev",
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SamplingRate:   1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Stdout: true,
			OTEL:   false,
			Caller: true,
		},
		Scanner: ScannerConfig{
			Prefixes: []string{"REQ-", "FR-", "NFR-", "UC-", "US-", "SPEC-"},
			IgnoreFiles: []string{
				".gitignore",
				".gatedignore",
			},
			FallbackExcludes: []string{
				".git/**",
				".gated/**",
				"node_modules/**",
				"vendor/**",
				"__pycache__/**",
			},
			Timeout:       Duration(30 * time.Second),
			MaxFileSizeKB: 1024,
		},
		Session: SessionConfig{
			StateDir: ".gated",
			Actor:    "agent",
		},
		Gates: GatesConfig{
			CustomerRole:   "customer",
			StrictWarnings: false,
		},
		Compliance: ComplianceConfig{
			CompliantMin: 0.9,
			AttentionMin: 0.5,
		},
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 {
		return errors.New("server.rate_limit must be positive")
	}
	switch c.Observability.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("observability.protocol must be grpc or http/protobuf, got %q", c.Observability.Protocol)
	}
	if c.Observability.SamplingRate < 0 || c.Observability.SamplingRate > 1 {
		return fmt.Errorf("observability.sampling_rate must be in [0,1], got %v", c.Observability.SamplingRate)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if len(c.Scanner.Prefixes) == 0 {
		return errors.New("scanner.prefixes must not be empty")
	}
	if c.Scanner.Timeout.Duration() <= 0 {
		return errors.New("scanner.timeout must be positive")
	}
	if c.Session.StateDir == "" {
		return errors.New("session.state_dir must not be empty")
	}
	if c.Gates.CustomerRole == "" {
		return errors.New("gates.customer_role must not be empty")
	}
	if c.Compliance.CompliantMin < c.Compliance.AttentionMin {
		return fmt.Errorf("compliance.compliant_min (%v) must be >= compliance.attention_min (%v)",
			c.Compliance.CompliantMin, c.Compliance.AttentionMin)
	}
	return nil
}
