// Package config resolves taskdesk settings from the environment and an
// optional YAML file in the per-user config directory.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix   = "TASKDESK"
	AppDir      = "taskdesk"
	FileName    = "config.yaml"
	DBFileName  = "todo.db"
	BackendName = "taskdesk-server"

	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Env        string `mapstructure:"env"`
	BackendCmd string `mapstructure:"backend_cmd"`
	DataDir    string `mapstructure:"data_dir"`
	DBPath     string `mapstructure:"db_path"`
	LogDir     string `mapstructure:"log_dir"`
	LogLevel   string `mapstructure:"log_level"`

	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func (c *Config) Development() bool { return c.Env == EnvDevelopment }

// Addr is the backend listen address.
func (c *Config) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

func (c *Config) BaseURL() string   { return "http://" + c.Addr() }
func (c *Config) HealthURL() string { return c.BaseURL() + "/health" }

// Dir returns the per-user taskdesk directory, e.g. ~/.config/taskdesk.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate user config dir: %w", err)
	}
	return filepath.Join(base, AppDir), nil
}

// FilePath returns the location of the optional YAML config file.
func FilePath() string {
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, FileName)
}

// Load reads the environment over the file at FilePath.
func Load() (*Config, error) {
	return LoadFile(FilePath())
}

// LoadFile reads the environment over the YAML file at path. A missing file
// is not an error; an unreadable or malformed one is.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if err := v.BindEnv("log_level", "LOG_LEVEL"); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolve fills the settings derived from other settings.
func (c *Config) resolve() error {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.DataDir == "" {
		dir, err := Dir()
		if err != nil {
			return fmt.Errorf("%w; set %s_DATA_DIR", err, EnvPrefix)
		}
		c.DataDir = dir
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, DBFileName)
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
		if c.Development() {
			c.LogLevel = "debug"
		}
	}
	if c.BackendCmd == "" {
		c.BackendCmd = DefaultBackendCommand()
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		errs = append(errs, fmt.Errorf("env: must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Env))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: must be between 1 and 65535, got %d", c.Port))
	}
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host: must not be empty"))
	}
	if c.ReadyTimeout <= 0 {
		errs = append(errs, errors.New("ready_timeout: must be positive"))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, errors.New("probe_interval: must be positive"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("retry_attempts: must be at least 1"))
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("retry delays: base must be positive and not above max"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout: must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
