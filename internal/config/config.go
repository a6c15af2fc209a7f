// Package config provides configuration loading for eventforge.
//
// Configuration is read from a YAML file and overridden by environment
// variables. Every section has defaults so a bare `eventforge serve` works
// against a local generators directory.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete eventforge configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Destinations  DestinationsConfig  `koanf:"destinations"`
	Secrets       SecretsConfig       `koanf:"secrets"`
	Scrubbing     ScrubbingConfig     `koanf:"scrubbing"`
	Generators    GeneratorsConfig    `koanf:"generators"`
	Scenarios     ScenariosConfig     `koanf:"scenarios"`
	Sender        SenderConfig        `koanf:"sender"`
	Delivery      DeliveryConfig      `koanf:"delivery"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
	Log           LogConfig           `koanf:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DestinationsConfig locates the destination descriptor file.
type DestinationsConfig struct {
	Path string `koanf:"path"`
}

// SecretsConfig selects the credential store backend.
type SecretsConfig struct {
	Backend string `koanf:"backend"` // keyring, file or memory
	Service string `koanf:"service"` // keyring service and vault entry namespace
	Path    string `koanf:"path"`    // vault directory for the file backend
}

// ScrubbingConfig selects how credential-shaped text is redacted from
// streamed run output.
type ScrubbingConfig struct {
	Engine        string `koanf:"engine"`         // rules, gitleaks or off
	AllowlistFile string `koanf:"allowlist_file"` // optional TOML allowlist
}

// GeneratorsConfig describes where generator scripts live and how to run them.
type GeneratorsConfig struct {
	Dir         string        `koanf:"dir"`
	Interpreter string        `koanf:"interpreter"`
	ExecTimeout time.Duration `koanf:"exec_timeout"`
}

// ScenariosConfig locates the attack scenario scripts. Their interpreter is
// generators.interpreter.
type ScenariosConfig struct {
	Dir string `koanf:"dir"`
}

// SenderConfig holds the collector sender subprocess command line.
type SenderConfig struct {
	Command []string `koanf:"command"`
}

// DeliveryConfig tunes the delivery transports.
type DeliveryConfig struct {
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	LineBuffer   int           `koanf:"line_buffer"`
}

// EventsConfig configures run lifecycle notifications. Empty NATSURL disables them.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
	Token   Secret `koanf:"token"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"` // grpc or http/protobuf
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`  // trace, debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// Supported credential store backends.
const (
	SecretsBackendKeyring = "keyring"
	SecretsBackendFile    = "file"
	SecretsBackendMemory  = "memory"
)

// Supported scrubbing engines.
const (
	ScrubEngineRules    = "rules"
	ScrubEngineGitleaks = "gitleaks"
	ScrubEngineOff      = "off"
)

// DefaultSecretsService is the secret-store namespace shared by every destination.
const DefaultSecretsService = "eventforge_hec_destinations"

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Secrets.Backend {
	case SecretsBackendKeyring, SecretsBackendMemory:
	case SecretsBackendFile:
		if c.Secrets.Path == "" {
			return errors.New("secrets.path is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown secrets backend %q (want keyring, file or memory)", c.Secrets.Backend)
	}
	if c.Secrets.Service == "" {
		return errors.New("secrets.service cannot be empty")
	}

	switch c.Scrubbing.Engine {
	case ScrubEngineRules, ScrubEngineGitleaks, ScrubEngineOff:
	default:
		return fmt.Errorf("unknown scrubbing engine %q (want rules, gitleaks or off)", c.Scrubbing.Engine)
	}

	if c.Destinations.Path == "" {
		return errors.New("destinations.path cannot be empty")
	}
	if c.Generators.ExecTimeout <= 0 {
		return errors.New("generators.exec_timeout must be positive")
	}
	if len(c.Sender.Command) == 0 || c.Sender.Command[0] == "" {
		return errors.New("sender.command cannot be empty")
	}
	if c.Delivery.DialTimeout <= 0 || c.Delivery.WriteTimeout <= 0 {
		return errors.New("delivery timeouts must be positive")
	}
	if c.Delivery.LineBuffer < 1 {
		return fmt.Errorf("delivery.line_buffer must be >= 1, got %d", c.Delivery.LineBuffer)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
