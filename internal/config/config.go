// Package config loads, validates and saves the portprobe configuration file.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/portprobe/internal/db"
	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/logging"
	"github.com/anstrom/portprobe/internal/ports"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	defaultAPIPort            = 8080
	defaultMaxConcurrentScans = 4
	defaultMaxRequestSize     = 1024 * 1024
	defaultRateLimitRequests  = 100
	defaultSubdomainWorkers   = 20
	defaultBannerBytes        = 1024
)

// Config represents the complete portprobe configuration
type Config struct {
	// Probe engine defaults
	Probe ProbeConfig `yaml:"probe" json:"probe"`

	// API server configuration
	API APIConfig `yaml:"api" json:"api"`

	// Database configuration. Persistence is disabled while Database.Database is empty.
	Database db.Config `yaml:"database" json:"database"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Scheduled probes run by `portprobe serve`
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules" validate:"dive"`

	// Credential vault
	Vault VaultConfig `yaml:"vault" json:"vault"`

	// Subdomain finder
	Subdomain SubdomainConfig `yaml:"subdomain" json:"subdomain"`

	// Banner and header grabbing
	Banner BannerConfig `yaml:"banner" json:"banner"`
}

// ProbeConfig holds engine defaults
type ProbeConfig struct {
	// Worker count used when a request does not set one
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=0,lte=10000"`

	// Per-attempt timeout used when a request does not set one
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`

	// Optional SOCKS5 proxy, e.g. socks5://127.0.0.1:1080
	Proxy string `yaml:"proxy" json:"proxy" validate:"omitempty,url"`

	// Optional DNS server (host or host:port) used instead of the system resolver
	DNSServer string `yaml:"dns_server" json:"dns_server"`

	// Scans admitted at once by the API and scheduler
	MaxConcurrentScans int `yaml:"max_concurrent_scans" json:"max_concurrent_scans" validate:"gte=1"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// API keys accepted in the X-API-Key header. Authentication is off when empty.
	APIKeys []string `yaml:"api_keys" json:"-"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Per-client request rate limit
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Server timeouts
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gte=0"`

	// Maximum request body size in bytes
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"gte=0"`

	// Serve the swagger UI under /swagger/
	EnableDocs bool `yaml:"enable_docs" json:"enable_docs"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Requests int           `yaml:"requests" json:"requests" validate:"gte=0"`
	Window   time.Duration `yaml:"window" json:"window" validate:"gte=0"`
}

// ScheduleConfig describes one cron-driven probe
type ScheduleConfig struct {
	Name        string        `yaml:"name" json:"name" validate:"required"`
	Cron        string        `yaml:"cron" json:"cron" validate:"required"`
	Target      string        `yaml:"target" json:"target" validate:"required,hostname_rfc1123|ip"`
	Ports       string        `yaml:"ports" json:"ports" validate:"required"`
	Concurrency int           `yaml:"concurrency" json:"concurrency" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay  time.Duration `yaml:"retry_delay" json:"retry_delay" validate:"gte=0"`
	Disabled    bool          `yaml:"disabled" json:"disabled"`
}

// VaultConfig holds credential vault settings
type VaultConfig struct {
	// Path of the encrypted vault file
	Path string `yaml:"path" json:"path"`
}

// SubdomainConfig holds subdomain finder settings
type SubdomainConfig struct {
	Wordlist    string        `yaml:"wordlist" json:"wordlist"`
	Concurrency int           `yaml:"concurrency" json:"concurrency" validate:"gte=1"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
}

// BannerConfig holds banner and header grabbing settings
type BannerConfig struct {
	Timeout  time.Duration `yaml:"timeout" json:"timeout" validate:"gt=0"`
	MaxBytes int           `yaml:"max_bytes" json:"max_bytes" validate:"gte=1"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Probe: ProbeConfig{
			Concurrency:        200,
			Timeout:            time.Second,
			MaxConcurrentScans: defaultMaxConcurrentScans,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1",
			Port:       defaultAPIPort,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-API-Key"},
			},
			RateLimit: RateLimitConfig{
				Enabled:  false,
				Requests: defaultRateLimitRequests,
				Window:   time.Minute,
			},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestSize:  defaultMaxRequestSize,
			EnableDocs:      true,
		},
		Database: db.DefaultConfig(),
		Logging:  logging.DefaultConfig(),
		Vault: VaultConfig{
			Path: defaultVaultPath(),
		},
		Subdomain: SubdomainConfig{
			Wordlist:    "subdomains.txt",
			Concurrency: defaultSubdomainWorkers,
			Timeout:     2 * time.Second,
		},
		Banner: BannerConfig{
			Timeout:  2 * time.Second,
			MaxBytes: defaultBannerBytes,
		},
	}
}

func defaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vault.dat"
	}
	return filepath.Join(home, ".portprobe", "vault.dat")
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse config file", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var structValidator = validator.New()

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("Invalid configuration value (rule: %s)", fe.Tag()),
				fe.Namespace(), fe.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		field := fmt.Sprintf("Config.Schedules[%d]", i)
		if seen[s.Name] {
			return errors.NewConfigFieldError(errors.CodeValidation, "Duplicate schedule name", field+".Name", s.Name)
		}
		seen[s.Name] = true

		if _, err := cron.ParseStandard(s.Cron); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation, "Invalid cron expression", field+".Cron", s.Cron)
		}
		if _, err := ports.Parse(s.Ports); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation, "Invalid port specification", field+".Ports", s.Ports)
		}
	}

	return nil
}

// DatabaseEnabled reports whether report persistence is configured.
func (c *Config) DatabaseEnabled() bool {
	return c.Database.Database != ""
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
