package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKDESK_DATA_DIR", dir)

	cfg, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, EnvProduction, cfg.Env)
	assert.Equal(t, "127.0.0.1:5000", cfg.Addr())
	assert.Equal(t, "http://127.0.0.1:5000/health", cfg.HealthURL())
	assert.Equal(t, filepath.Join(dir, DBFileName), cfg.DBPath)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, time.Second, cfg.ProbeInterval)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 2*time.Second, cfg.RetryMaxDelay)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.NotEmpty(t, cfg.BackendCmd)
}

func TestEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKDESK_DATA_DIR", dir)
	t.Setenv("TASKDESK_ENV", "Development")
	t.Setenv("TASKDESK_PORT", "5077")
	t.Setenv("TASKDESK_READY_TIMEOUT", "2s")
	t.Setenv("TASKDESK_BACKEND_CMD", "/opt/taskdesk/bin/server")
	t.Setenv("TASKDESK_DB_PATH", "/tmp/other.db")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.True(t, cfg.Development())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5077, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "/opt/taskdesk/bin/server", cfg.BackendCmd)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
}

func TestLogLevelHasNoPrefix(t *testing.T) {
	t.Setenv("TASKDESK_DATA_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "warning")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "warning", cfg.LogLevel)
}

func TestFileValuesAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKDESK_DATA_DIR", dir)
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("port: 6000\nprobe_interval: 250ms\nretry_attempts: 5\n"), 0o644))
	t.Setenv("TASKDESK_RETRY_ATTEMPTS", "2")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.ProbeInterval)
	assert.Equal(t, 2, cfg.RetryAttempts, "environment wins over the file")
}

func TestMalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKDESK_DATA_DIR", dir)
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("port: [unterminated\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"unknown env", "TASKDESK_ENV", "staging"},
		{"port out of range", "TASKDESK_PORT", "70000"},
		{"zero attempts", "TASKDESK_RETRY_ATTEMPTS", "0"},
		{"negative timeout", "TASKDESK_READY_TIMEOUT", "-1s"},
		{"base above max", "TASKDESK_RETRY_BASE_DELAY", "5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TASKDESK_DATA_DIR", t.TempDir())
			t.Setenv(tt.key, tt.val)
			_, err := LoadFile("")
			require.Error(t, err)
		})
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TASKDESK_DATA_DIR", dir)
	path := filepath.Join(dir, "nested", FileName)

	written, err := WriteDefault(path)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = WriteDefault(path)
	require.NoError(t, err)
	assert.False(t, written, "an existing file is left alone")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBaseDelay)
}
