package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 9480, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "gated", cfg.Observability.ServiceName)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Contains(t, cfg.Scanner.Prefixes, "REQ-")
	assert.Contains(t, cfg.Scanner.Prefixes, "SPEC-")
	assert.Equal(t, 30*time.Second, cfg.Scanner.Timeout.Duration())
	assert.Equal(t, ".gated", cfg.Session.StateDir)
	assert.Equal(t, "customer", cfg.Gates.CustomerRole)
	assert.InDelta(t, 0.9, cfg.Compliance.CompliantMin, 0.001)
}

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.Server.RateLimit = 0 },
			wantErr: "rate_limit",
		},
		{
			name:    "bad protocol",
			mutate:  func(c *Config) { c.Observability.Protocol = "thrift" },
			wantErr: "observability.protocol",
		},
		{
			name:    "sampling rate out of range",
			mutate:  func(c *Config) { c.Observability.SamplingRate = 1.5 },
			wantErr: "sampling_rate",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "no scanner prefixes",
			mutate:  func(c *Config) { c.Scanner.Prefixes = nil },
			wantErr: "scanner.prefixes",
		},
		{
			name:    "zero scan timeout",
			mutate:  func(c *Config) { c.Scanner.Timeout = 0 },
			wantErr: "scanner.timeout",
		},
		{
			name:    "empty state dir",
			mutate:  func(c *Config) { c.Session.StateDir = "" },
			wantErr: "state_dir",
		},
		{
			name:    "empty customer role",
			mutate:  func(c *Config) { c.Gates.CustomerRole = "" },
			wantErr: "customer_role",
		},
		{
			name: "inverted compliance thresholds",
			mutate: func(c *Config) {
				c.Compliance.CompliantMin = 0.4
				c.Compliance.AttentionMin = 0.5
			},
			wantErr: "compliant_min",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45s")))
	assert.Equal(t, 45*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}

func TestDuration_MarshalJSON(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}
