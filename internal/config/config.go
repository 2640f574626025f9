// ABOUTME: Configuration document loading, validation and persistence for worldgpt
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfigLoad is returned when the configuration document cannot be read or parsed.
	ErrConfigLoad = errors.New("config load failed")

	// ErrConfigWrite is returned when the configuration document cannot be written.
	ErrConfigWrite = errors.New("config write failed")

	// ErrConfigPathOverrideMissing is returned when WORLDGPT_CONFPATH names a path that does not exist.
	ErrConfigPathOverrideMissing = errors.New("configuration override path does not exist")
)

const (
	// DefaultListenPort is the API port written to a fresh configuration document.
	DefaultListenPort = 8001
	DefaultListenHost = "localhost"
	DefaultModel      = "gpt-3.5-turbo"
	DefaultMaxTokens  = 128
)

// DefaultPersistenceBase is where first-run state lives, relative to the working directory.
var DefaultPersistenceBase = filepath.Join("worldgpt", "server", "persistence")

// DefaultPath is the configuration document location when no override is set.
var DefaultPath = filepath.Join(DefaultPersistenceBase, "configuration", "configuration.yaml")

// Config represents the complete worldgpt server configuration
type Config struct {
	Persistence  PersistenceConfig  `yaml:"persistence"`
	Certificates CertificatesConfig `yaml:"certificates"`
	Database     DatabaseConfig     `yaml:"database"`
	API          APIConfig          `yaml:"api"`
	LLM          LLMConfig          `yaml:"llm"`
	Voice        VoiceConfig        `yaml:"voice"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Subsystems   SubsystemsConfig   `yaml:"subsystems"`
}

// PersistenceConfig locates on-disk state
type PersistenceConfig struct {
	Base          string `yaml:"base"`
	Configuration string `yaml:"configuration"`
}

// CertificatesConfig holds client and server TLS material paths
type CertificatesConfig struct {
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// DatabaseConfig holds datastore configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig holds the HTTP listen address
type APIConfig struct {
	ListenHost string `yaml:"listen_host"`
	ListenPort int    `yaml:"listen_port"`
}

// Addr returns host:port for net.Listen.
func (a APIConfig) Addr() string {
	return net.JoinHostPort(a.ListenHost, strconv.Itoa(a.ListenPort))
}

// LLMConfig holds the chat-completion collaborator settings
type LLMConfig struct {
	OpenAIAPIKey      string        `yaml:"openai_api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	MaxTokens         int           `yaml:"max_tokens"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RequestTimeout    time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// VoiceConfig holds voice-synthesis credentials
type VoiceConfig struct {
	ElevenLabsAPIKey string `yaml:"elevenlabs_api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SubsystemsConfig holds worker lifecycle settings
type SubsystemsConfig struct {
	ShutdownTimeout time.Duration `yaml:"-"`
	DeadLetterLimit int           `yaml:"dead_letter_limit"`

	// Raw string value for YAML unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// Default returns the documented defaults. API keys are empty placeholders.
func Default() *Config {
	base := DefaultPersistenceBase
	certs := filepath.Join(base, "certificate")
	return &Config{
		Persistence: PersistenceConfig{
			Base:          base,
			Configuration: DefaultPath,
		},
		Certificates: CertificatesConfig{
			ClientCert: filepath.Join(certs, "client.crt.pem"),
			ClientKey:  filepath.Join(certs, "client.key.pem"),
			ServerCert: filepath.Join(certs, "server.crt.pem"),
			ServerKey:  filepath.Join(certs, "server.key.pem"),
		},
		Database: DatabaseConfig{
			Path: filepath.Join(base, "database", "datastore.db"),
		},
		API: APIConfig{
			ListenHost: DefaultListenHost,
			ListenPort: DefaultListenPort,
		},
		LLM: LLMConfig{
			Model:             DefaultModel,
			MaxTokens:         DefaultMaxTokens,
			RequestsPerMinute: 60,
			RequestTimeout:    60 * time.Second,
			RequestTimeoutRaw: "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Subsystems: SubsystemsConfig{
			ShutdownTimeout:    5 * time.Second,
			ShutdownTimeoutRaw: "5s",
			DeadLetterLimit:    100,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Fields absent from the file keep their defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", ErrConfigLoad, err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config file: %w", ErrConfigLoad, err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing durations: %w", ErrConfigLoad, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: validating config: %w", ErrConfigLoad, err)
	}

	return cfg, nil
}

// Write serializes cfg to path, creating parent directories as needed.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: encoding config: %w", ErrConfigWrite, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: creating config directory: %w", ErrConfigWrite, err)
	}

	header := []byte("# worldgpt server configuration\n\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("%w: writing config file: %w", ErrConfigWrite, err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if c.API.ListenHost == "" {
		return errors.New("api.listen_host is required")
	}
	if c.API.ListenPort < 1 || c.API.ListenPort > 65535 {
		return fmt.Errorf("api.listen_port %d out of range 1-65535", c.API.ListenPort)
	}

	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.RequestsPerMinute < 0 {
		return fmt.Errorf("llm.requests_per_minute must not be negative, got %d", c.LLM.RequestsPerMinute)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return errors.New("metrics.path is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.LLM.RequestTimeoutRaw != "" {
		cfg.LLM.RequestTimeout, err = time.ParseDuration(cfg.LLM.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.LLM.RequestTimeoutRaw, err)
		}
	}

	if cfg.Subsystems.ShutdownTimeoutRaw != "" {
		cfg.Subsystems.ShutdownTimeout, err = time.ParseDuration(cfg.Subsystems.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Subsystems.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}
