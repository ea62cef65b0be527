// Package cli provides the command-line interface for portprobe.
// This package implements the Cobra-based CLI structure with commands for
// probing, report storage, scheduling, the API server and the credential vault.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/portprobe/internal/config"
	"github.com/anstrom/portprobe/internal/logging"
)

const (
	envPrefix         = "PORTPROBE"
	defaultConfigFile = "config.yaml"
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// app holds state shared by every command of one invocation.
type app struct {
	cfgFile string
	verbose bool
	v       *viper.Viper
	logger  *logging.Logger
}

// overrideKeys are the configuration keys that flags and PORTPROBE_*
// environment variables may override. Precedence is flag, environment,
// config file, default.
var overrideKeys = []string{
	"probe.concurrency",
	"probe.timeout",
	"probe.proxy",
	"probe.dns_server",
	"probe.max_concurrent_scans",
	"api.listen_addr",
	"api.port",
	"api.api_keys",
	"database.host",
	"database.port",
	"database.database",
	"database.username",
	"database.password",
	"database.ssl_mode",
	"logging.level",
	"logging.format",
	"logging.output",
	"vault.path",
	"subdomain.wordlist",
}

// NewRootCmd builds the portprobe command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	rootCmd := &cobra.Command{
		Use:   "portprobe",
		Short: "Concurrent TCP connect port scanner",
		Long: `portprobe runs bounded-concurrency TCP connect scans against a single
target, stores reports in PostgreSQL, schedules recurring probes and serves
everything over a REST API. It also bundles banner, header and subdomain
helpers plus an encrypted credential vault.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newProbeCmd(a),
		newBannerCmd(a),
		newHeadersCmd(a),
		newSubdomainsCmd(a),
		newVaultCmd(a),
		newAPIKeyCmd(),
		newServeCmd(a),
		newMigrateCmd(a),
		newReportsCmd(a),
		newSchedulesCmd(a),
	)

	return rootCmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

// getConfigFilePath returns the config file to load: the --config flag,
// then PORTPROBE_CONFIG, then ./config.yaml.
func (a *app) getConfigFilePath() string {
	if a.cfgFile != "" {
		return a.cfgFile
	}
	if path := a.v.GetString("config"); path != "" {
		return path
	}
	return defaultConfigFile
}

// loadConfig loads the config file, applies flag and environment overrides,
// validates the result and initializes logging. flags maps configuration
// keys to the names of the running command's flags that override them.
func (a *app) loadConfig(cmd *cobra.Command, flags map[string]string) (*config.Config, error) {
	for key, name := range flags {
		if err := bindFlag(a.v, cmd.Flags(), key, name); err != nil {
			return nil, err
		}
	}

	path := a.getConfigFilePath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	applyOverrides(a.v, cfg)
	if a.verbose {
		cfg.Logging.Level = logging.LevelDebug
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	a.initLogging(cfg)
	if a.verbose {
		a.logger.Debug("Configuration loaded", "path", path)
	}
	return cfg, nil
}

func bindFlag(v *viper.Viper, fs *pflag.FlagSet, key, name string) error {
	flag := fs.Lookup(name)
	if flag == nil {
		return fmt.Errorf("unknown flag %q for %s", name, key)
	}
	if err := v.BindPFlag(key, flag); err != nil {
		return fmt.Errorf("failed to bind %s flag: %w", name, err)
	}
	return nil
}

// applyOverrides copies every set override key into cfg.
func applyOverrides(v *viper.Viper, cfg *config.Config) {
	for _, key := range overrideKeys {
		if !v.IsSet(key) {
			continue
		}
		switch key {
		case "probe.concurrency":
			cfg.Probe.Concurrency = v.GetInt(key)
		case "probe.timeout":
			cfg.Probe.Timeout = v.GetDuration(key)
		case "probe.proxy":
			cfg.Probe.Proxy = v.GetString(key)
		case "probe.dns_server":
			cfg.Probe.DNSServer = v.GetString(key)
		case "probe.max_concurrent_scans":
			cfg.Probe.MaxConcurrentScans = v.GetInt(key)
		case "api.listen_addr":
			cfg.API.ListenAddr = v.GetString(key)
		case "api.port":
			cfg.API.Port = v.GetInt(key)
		case "api.api_keys":
			cfg.API.APIKeys = splitList(v.GetString(key))
		case "database.host":
			cfg.Database.Host = v.GetString(key)
		case "database.port":
			cfg.Database.Port = v.GetInt(key)
		case "database.database":
			cfg.Database.Database = v.GetString(key)
		case "database.username":
			cfg.Database.Username = v.GetString(key)
		case "database.password":
			cfg.Database.Password = v.GetString(key)
		case "database.ssl_mode":
			cfg.Database.SSLMode = v.GetString(key)
		case "logging.level":
			cfg.Logging.Level = logging.LogLevel(v.GetString(key))
		case "logging.format":
			cfg.Logging.Format = logging.LogFormat(v.GetString(key))
		case "logging.output":
			cfg.Logging.Output = v.GetString(key)
		case "vault.path":
			cfg.Vault.Path = v.GetString(key)
		case "subdomain.wordlist":
			cfg.Subdomain.Wordlist = v.GetString(key)
		}
	}
}

// splitList splits a comma or whitespace separated list.
func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// initLogging initializes structured logging based on configuration.
func (a *app) initLogging(cfg *config.Config) {
	logConfig := cfg.Logging
	logConfig.AddSource = logConfig.AddSource || logConfig.Level == logging.LevelDebug

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)
	a.logger = logger
}

// log returns the invocation logger, or the package default before config
// has been loaded.
func (a *app) log() *logging.Logger {
	if a.logger != nil {
		return a.logger
	}
	return logging.Default()
}
