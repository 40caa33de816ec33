package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults mirrors the keys a user may put in config.yaml. Durations are kept
// as strings so the written file stays human readable.
type Defaults struct {
	Env            string `yaml:"env"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ReadyTimeout   string `yaml:"ready_timeout"`
	ProbeInterval  string `yaml:"probe_interval"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryBaseDelay string `yaml:"retry_base_delay"`
	RetryMaxDelay  string `yaml:"retry_max_delay"`
	RequestTimeout string `yaml:"request_timeout"`
}

func DefaultValues() Defaults {
	return Defaults{
		Env:            EnvProduction,
		Host:           "127.0.0.1",
		Port:           5000,
		ReadyTimeout:   "30s",
		ProbeInterval:  "1s",
		RetryAttempts:  3,
		RetryBaseDelay: "200ms",
		RetryMaxDelay:  "2s",
		RequestTimeout: "5s",
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultValues()
	v.SetDefault("env", d.Env)
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("ready_timeout", d.ReadyTimeout)
	v.SetDefault("probe_interval", d.ProbeInterval)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("retry_max_delay", d.RetryMaxDelay)
	v.SetDefault("request_timeout", d.RequestTimeout)
	// Derived in resolve; registered so env overrides reach Unmarshal.
	for _, key := range []string{"backend_cmd", "data_dir", "db_path", "log_dir", "log_level"} {
		v.SetDefault(key, "")
	}
}

const fileHeader = `# taskdesk configuration
# Every key can be overridden with a TASKDESK_<KEY> environment variable,
# e.g. TASKDESK_PORT=5001. Paths default to this directory.
`

// WriteDefault creates path with the default settings unless it already
// exists. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	body, err := yaml.Marshal(DefaultValues())
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, append([]byte(fileHeader), body...), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

// DefaultBackendCommand prefers a taskdesk-server binary installed next to
// the running executable and falls back to PATH.
func DefaultBackendCommand() string {
	name := BackendName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}
