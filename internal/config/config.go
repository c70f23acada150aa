// Package config loads daemon settings from an optional YAML file and
// LLMOS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/llmos-dev/llmos-actions/internal/logging"
	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

// EnvPrefix is prepended to every environment override, e.g. LLMOS_SERVER_TCP_PORT.
const EnvPrefix = "LLMOS"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Autonomy  AutonomyConfig  `mapstructure:"autonomy"`
	Retention RetentionConfig `mapstructure:"retention"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	History   HistoryConfig   `mapstructure:"history"`
	Bus       BusConfig       `mapstructure:"bus"`
	Logging   logging.Config  `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	TCPPort    int  `mapstructure:"tcp_port"`
	HTTPPort   int  `mapstructure:"http_port"`
	DisableTLS bool `mapstructure:"disable_tls"`
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AutonomyConfig struct {
	// DefaultLevel is a number (1-4) or a level name.
	DefaultLevel string `mapstructure:"default_level"`
}

// Level returns the parsed default level, or guarded when it does not parse.
func (a AutonomyConfig) Level() schema.AutonomyLevel {
	l, err := schema.ParseAutonomyLevel(a.DefaultLevel)
	if err != nil {
		return schema.LevelGuarded
	}
	return l
}

type RetentionConfig struct {
	// KeepLast of 0 disables the background janitor.
	KeepLast int           `mapstructure:"keep_last"`
	Interval time.Duration `mapstructure:"interval"`
}

type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type HistoryConfig struct {
	// DSN of the SQLite history database; empty disables history.
	DSN string `mapstructure:"dsn"`
}

type BusConfig struct {
	// NATSURL empty disables publishing.
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.tcp_port", 7101)
	v.SetDefault("server.http_port", 7102)
	v.SetDefault("server.disable_tls", false)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("autonomy.default_level", "2")

	v.SetDefault("retention.keep_last", 1000)
	v.SetDefault("retention.interval", time.Minute)

	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.dir", "./data/archive")

	v.SetDefault("history.dsn", "")

	v.SetDefault("bus.nats_url", "")
	v.SetDefault("bus.subject_prefix", "llmos.actions")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.development", false)

	v.SetDefault("metrics.enabled", true)
}

// Load reads path (when non-empty) and applies environment overrides on top
// of the defaults. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate returns every problem found, not just the first.
func (c *Config) Validate() []error {
	var errs []error

	if !validPort(c.Server.TCPPort) {
		errs = append(errs, fmt.Errorf("server.tcp_port %d out of range", c.Server.TCPPort))
	}
	if !validPort(c.Server.HTTPPort) {
		errs = append(errs, fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort))
	}
	if c.Server.TCPPort == c.Server.HTTPPort {
		errs = append(errs, errors.New("server.tcp_port and server.http_port must differ"))
	}
	if _, err := schema.ParseAutonomyLevel(c.Autonomy.DefaultLevel); err != nil {
		errs = append(errs, fmt.Errorf("autonomy.default_level: %w", err))
	}
	if c.Retention.KeepLast < 0 {
		errs = append(errs, errors.New("retention.keep_last must not be negative"))
	}
	if c.Retention.KeepLast > 0 && c.Retention.Interval <= 0 {
		errs = append(errs, errors.New("retention.interval must be positive when keep_last is set"))
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Dir) == "" {
		errs = append(errs, errors.New("archive.dir is required when the archive is enabled"))
	}
	if c.Bus.NATSURL != "" && strings.Trim(c.Bus.SubjectPrefix, ". ") == "" {
		errs = append(errs, errors.New("bus.subject_prefix is required when bus.nats_url is set"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	return errs
}

func validPort(p int) bool {
	return p > 0 && p < 65536
}

// TCPAddr is the port string handed to the TCP router.
func (s ServerConfig) TCPAddr() string { return strconv.Itoa(s.TCPPort) }

// HTTPAddr is the listen address for the HTTP API.
func (s ServerConfig) HTTPAddr() string { return ":" + strconv.Itoa(s.HTTPPort) }
