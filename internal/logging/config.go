// internal/logging/config.go
package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/gated/internal/config"
)

// Config holds logging configuration.
type Config struct {
	Level      zapcore.Level     `koanf:"level"`
	Format     string            `koanf:"format"`
	Output     OutputConfig      `koanf:"output"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	// Stderr replaces stdout for processes whose stdout carries a
	// protocol stream (MCP stdio transport).
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// CallerConfig controls caller information in logs.
type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig controls stacktrace inclusion.
type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{
			Stdout: true,
			OTEL:   false,
		},
		Caller: CallerConfig{
			Enabled: true,
			Skip:    1,
		},
		Stacktrace: StacktraceConfig{
			Level: zapcore.ErrorLevel,
		},
	}
}

// FromAppConfig builds a logging Config from the application config section.
func FromAppConfig(app config.LoggingConfig) (*Config, error) {
	level, err := LevelFromString(app.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", app.Level, err)
	}

	cfg := NewDefaultConfig()
	cfg.Level = level
	cfg.Format = app.Format
	cfg.Output.Stdout = app.Stdout
	cfg.Output.OTEL = app.OTEL
	cfg.Caller.Enabled = app.Caller
	return cfg, nil
}

// Validate checks config consistency.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled")
	}
	if c.Caller.Skip < 0 {
		return fmt.Errorf("caller.skip cannot be negative")
	}
	return nil
}
