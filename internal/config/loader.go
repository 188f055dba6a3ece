// internal/config/loader.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces gated environment variables.
	// GATED_SERVER_PORT -> server.port
	// GATED_SCANNER_MAX_FILE_SIZE_KB -> scanner.max_file_size_kb
	envPrefix = "GATED_"
)

// Load loads configuration for a project root.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GATED_SERVER_PORT, GATED_LOGGING_LEVEL, ...)
//  2. YAML config file
//  3. Defaults from Default()
//
// The config file is the first of: explicitPath (if non-empty),
// <projectRoot>/.gated/config.yaml, ~/.config/gated/config.yaml.
// A missing file is not an error; defaults apply.
//
// Existing config files must be regular files, at most 1MB, with 0600 or
// 0400 permissions. Anything else is rejected as a configuration error.
func Load(projectRoot, explicitPath string) (*Config, error) {
	cfg := Default()
	k := koanf.New(".")

	path, err := resolveConfigPath(projectRoot, explicitPath)
	if err != nil {
		return nil, err
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	// Environment variables override file values. The transformer strips
	// the prefix and splits section from field on the first underscore.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// resolveConfigPath picks the config file to load. Returns "" when no
// candidate exists and no explicit path was given.
func resolveConfigPath(projectRoot, explicitPath string) (string, error) {
	if explicitPath != "" {
		abs, err := filepath.Abs(explicitPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve config path: %w", err)
		}
		return abs, nil
	}

	var candidates []string
	if projectRoot != "" {
		candidates = append(candidates, filepath.Join(projectRoot, ".gated", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "gated", "config.yaml"))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", nil
}

// readConfigFile opens and validates the config file in one pass, using the
// open descriptor for stat to avoid a TOCTOU race. Returns nil content when
// the file does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed for %s: %w", path, err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties checks permissions and size of an existing file.
func validateConfigFileProperties(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}

	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
