package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// LoadWithFile loads configuration from YAML file, then overrides with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_HTTP_PORT, SECRETS_BACKEND, etc.)
//  2. YAML config file (~/.config/eventforge/config.yaml)
//  3. Hardcoded defaults
//
// # Security Considerations
//
// The file MUST have 0600 or 0400 permissions, must live under
// ~/.config/eventforge/ or /etc/eventforge/, and must not exceed 1MB.
//
// # Environment Variable Mapping
//
// Environment variables are split on the first underscore only:
//
//	SERVER_HTTP_PORT        -> server.http_port
//	SECRETS_BACKEND         -> secrets.backend
//	GENERATORS_EXEC_TIMEOUT -> generators.exec_timeout
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "eventforge", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// EnsureConfigDir creates the eventforge config directory with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, ".config", "eventforge")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Path may not exist yet.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "eventforge"),
		"/etc/eventforge",
	}
	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}

	return fmt.Errorf("config file must be in ~/.config/eventforge/ or /etc/eventforge/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
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

// applyDefaults sets default values for missing configuration fields and
// expands a leading ~ in filesystem paths.
func applyDefaults(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	base := filepath.Join(home, ".config", "eventforge")

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Destinations.Path == "" {
		cfg.Destinations.Path = filepath.Join(base, "destinations.json")
	}
	cfg.Destinations.Path = expandHome(cfg.Destinations.Path, home)

	if cfg.Secrets.Backend == "" {
		cfg.Secrets.Backend = SecretsBackendKeyring
	}
	if cfg.Secrets.Service == "" {
		cfg.Secrets.Service = DefaultSecretsService
	}
	if cfg.Secrets.Path == "" {
		cfg.Secrets.Path = filepath.Join(base, "vault")
	}
	cfg.Secrets.Path = expandHome(cfg.Secrets.Path, home)

	if cfg.Scrubbing.Engine == "" {
		cfg.Scrubbing.Engine = ScrubEngineRules
	}
	cfg.Scrubbing.AllowlistFile = expandHome(cfg.Scrubbing.AllowlistFile, home)

	if cfg.Generators.Dir == "" {
		cfg.Generators.Dir = "event_generators"
	}
	cfg.Generators.Dir = expandHome(cfg.Generators.Dir, home)
	if cfg.Generators.Interpreter == "" {
		cfg.Generators.Interpreter = "python3"
	}
	if cfg.Generators.ExecTimeout == 0 {
		cfg.Generators.ExecTimeout = 30 * time.Second
	}

	if cfg.Scenarios.Dir == "" {
		cfg.Scenarios.Dir = "scenarios"
	}
	cfg.Scenarios.Dir = expandHome(cfg.Scenarios.Dir, home)

	if len(cfg.Sender.Command) == 0 {
		cfg.Sender.Command = []string{"eventforge-hecsend"}
	}

	if cfg.Delivery.DialTimeout == 0 {
		cfg.Delivery.DialTimeout = 5 * time.Second
	}
	if cfg.Delivery.WriteTimeout == 0 {
		cfg.Delivery.WriteTimeout = 10 * time.Second
	}
	if cfg.Delivery.LineBuffer == 0 {
		cfg.Delivery.LineBuffer = 256
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "eventforge.runs"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "eventforge"
	}

	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
