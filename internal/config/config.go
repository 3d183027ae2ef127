// Package config provides configuration management for keynotes.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (KEYNOTES_ prefix)
//  3. Config file (.keynotes.toml in the working directory or
//     ~/.config/keynotes/)
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Supported lock file styles.
const (
	// LockStyleSuffix puts the lock next to the keynote file as <file>.lock.
	LockStyleSuffix = "suffix"
	// LockStyleHidden puts the lock in the same directory as .<file>.lock.
	LockStyleHidden = "hidden"
)

// DefaultURITemplate is the collaboration session URI opened when no lock
// file exists. {path} is replaced by the query-escaped keynote path.
const DefaultURITemplate = "atom://teletype-revit-linker/new?file={path}"

// FileName is the base name of the auto-discovered config file.
const FileName = ".keynotes.toml"

// Config represents the global configuration for keynotes.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// LogFile is the rotating log file. Empty means the default location
	// under the user cache directory.
	LogFile string `mapstructure:"log-file" json:"logFile"`

	// LogMaxAge is how many days rotated log files are kept.
	LogMaxAge int `mapstructure:"log-max-age" json:"logMaxAge"`

	// LogStderr mirrors log output to stderr.
	LogStderr bool `mapstructure:"log-stderr" json:"logStderr"`

	// IdleInterval is the period between idle ticks in watch mode.
	IdleInterval time.Duration `mapstructure:"idle-interval" json:"idleInterval"`

	// FeedPort is the local port of the WebSocket status feed. 0 disables it.
	FeedPort int `mapstructure:"feed-port" json:"feedPort"`

	// LockStyle selects where the companion lock file lives.
	// Valid values: suffix, hidden.
	LockStyle string `mapstructure:"lock-style" json:"lockStyle"`

	// URITemplate is the session URI opened when there is no lock file.
	URITemplate string `mapstructure:"uri-template" json:"uriTemplate"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load, not read from config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:     LogLevelInfo,
		LogFormat:    LogFormatText,
		LogMaxAge:    7,
		IdleInterval: 500 * time.Millisecond,
		LockStyle:    LockStyleSuffix,
		URITemplate:  DefaultURITemplate,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	if c.LogMaxAge < 0 {
		return fmt.Errorf("invalid log max age %d: must not be negative", c.LogMaxAge)
	}

	if c.IdleInterval < 10*time.Millisecond {
		return fmt.Errorf("invalid idle interval %s: must be at least 10ms", c.IdleInterval)
	}

	if c.FeedPort < 0 || c.FeedPort > 65535 {
		return fmt.Errorf("invalid feed port %d: must be between 0 and 65535", c.FeedPort)
	}

	switch c.LockStyle {
	case LockStyleSuffix, LockStyleHidden:
	default:
		return fmt.Errorf("invalid lock style %q: must be one of suffix, hidden", c.LockStyle)
	}

	if strings.TrimSpace(c.URITemplate) == "" {
		return errors.New("invalid uri template: must not be empty")
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("log-file", d.LogFile)
	v.SetDefault("log-max-age", d.LogMaxAge)
	v.SetDefault("log-stderr", d.LogStderr)
	v.SetDefault("idle-interval", d.IdleInterval)
	v.SetDefault("feed-port", d.FeedPort)
	v.SetDefault("lock-style", d.LockStyle)
	v.SetDefault("uri-template", d.URITemplate)
	v.SetDefault("no-color", d.NoColor)
	v.SetDefault("quiet", d.Quiet)
}

func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("KEYNOTES")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	v.SetConfigName(strings.TrimSuffix(FileName, ".toml"))
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	if dir, err := UserDir(); err == nil {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// UserDir returns the per-user config directory, ~/.config/keynotes.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "keynotes"), nil
}

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
