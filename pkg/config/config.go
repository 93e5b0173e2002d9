// Package config implements startup configuration (C7): flag, environment
// variable, and config-file driven settings resolved through viper and
// decoded with mapstructure, validated with go-playground/validator struct
// tags — the same stack and precedence order (flag > env > file > default)
// as the teacher's pkg/config, trimmed from dozens of adapter/store sections
// down to the handful of fields vaultd actually needs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is vaultd's resolved startup configuration.
type Config struct {
	// ListenAddr is the host the TCP listener binds to. Empty binds all
	// interfaces.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// Port is the TCP port to listen on. If never set by flag, env, or
	// config file, it falls back to the legacy port.info mechanism (§6.2)
	// and finally to 1234.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// StorageRoot is the directory under which every client's per-id
	// subdirectory is created. Defaults to the process's current working
	// directory, matching the original's zero-configuration layout.
	StorageRoot string `mapstructure:"storage_root" validate:"required" yaml:"storage_root"`

	// DatabasePath is the SQLite file backing the client/file repository.
	DatabasePath string `mapstructure:"database_path" validate:"required" yaml:"database_path"`

	// LogLevel is the minimum log level to output.
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"log_level"`

	// LogFormat selects the slog handler: text (ANSI-colored on a TTY) or json.
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=text json" yaml:"log_format"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight connections to finish before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// MaxConnections caps concurrently served connections. Zero means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,gt=0" yaml:"max_connections"`

	// MetricsAddr is the address the Prometheus /metrics HTTP endpoint
	// binds to (e.g. ":9090"). Empty disables the metrics endpoint
	// entirely.
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`

	// MetricsLogInterval is how often active-connection counts are also
	// written to the structured log, independent of the /metrics
	// endpoint. Zero disables periodic metrics logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"omitempty,gt=0" yaml:"metrics_log_interval"`
}

// defaultPort is the fallback used when port.info is missing, unparsable,
// or otherwise unreadable (spec §6.2).
const defaultPort = 1234

// portInfoFile is the legacy file name original deployment scripts drop
// next to the server's working directory to pick a non-default port.
const portInfoFile = "port.info"

// Load resolves a Config from v, which the caller has already populated
// with any explicitly-set CLI flag values and pointed at an optional config
// file; environment variables are layered in here. portExplicitlySet tells
// Load whether the caller's --port flag was actually passed, so it can
// distinguish "the user chose a port" from "nothing chose a port yet, fall
// back to port.info."
func Load(v *viper.Viper, portExplicitlySet bool) (*Config, error) {
	setupViper(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if !portExplicitlySet && !v.IsSet("port") {
		cfg.Port = resolveLegacyPort(cfg.StorageRoot)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

var validate = validator.New()

// setupViper wires environment variable support (VAULTD_* -> dotted keys)
// on top of whatever flags the caller already bound.
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix("VAULTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// readConfigFile reads the config file v was told about, if any. A missing
// file is not an error — vaultd runs fine on flags/env/defaults alone.
func readConfigFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" && !v.IsSet("config") {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// applyDefaults fills in every field Load's caller did not already bind via
// flag, env, or config file.
func applyDefaults(cfg *Config) {
	if cfg.StorageRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.StorageRoot = wd
		} else {
			cfg.StorageRoot = "."
		}
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.StorageRoot, "vaultd.db")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
}

// resolveLegacyPort reads port.info from dir, falling back to defaultPort
// on a missing file, unparsable contents, or any other read error — never
// a fatal startup error (spec §6.2, and the SUPPLEMENTED FEATURES section of
// SPEC_FULL.md).
func resolveLegacyPort(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, portInfoFile))
	if err != nil {
		return defaultPort
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port < 1 || port > 65535 {
		return defaultPort
	}
	return port
}

// durationDecodeHook lets config files and env vars spell durations as
// "30s"/"5m" instead of raw nanosecond integers, matching the teacher's
// config decode hook.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
