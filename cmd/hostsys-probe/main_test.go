package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srediag/hostsys/internal/logging"
	"github.com/srediag/hostsys/pkg/hostsys"
)

func TestLoadConfig(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)

	path := filepath.Join(t.TempDir(), "probe.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = ":9400"
workers = 2
probe_timeout = "750ms"
arena_size = 2097152
`), 0o600))
	c, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9400", c.Listen)
	assert.Equal(t, 2, c.Workers)
	assert.Equal(t, 750*time.Millisecond, c.ProbeTimeout.Duration)
	assert.Equal(t, uint64(2<<20), c.ArenaSize)
	assert.Equal(t, "hostsys", c.Namespace, "unset keys keep defaults")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "failed to read")

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte(`probe_timeout = "soon"`), 0o600))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "failed to parse")

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte(`workers = 0`), 0o600))
	_, err = LoadConfig(invalid)
	assert.ErrorContains(t, err, "workers must be positive")
}

func TestLogLevelFromEnvironmentSurvives(t *testing.T) {
	prev := logging.Level()
	defer logging.SetLevel(prev)
	logging.SetLevel(logging.LevelDebug)

	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, c.LogLevel)

	path := filepath.Join(t.TempDir(), "quiet.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = 4\n"), 0o600))
	c, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelError, c.LogLevel, "the file overrides the environment")

	path = filepath.Join(t.TempDir(), "other.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = 3\n"), 0o600))
	c, err = LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, c.LogLevel)
}

func TestVerifyConfig(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = 9
	assert.Error(t, VerifyConfig(c))
	c = DefaultConfig()
	c.Namespace = ""
	assert.Error(t, VerifyConfig(c))
}

func TestRunOnce(t *testing.T) {
	if !hostsys.CanReprotect() {
		t.Skip("no virtual memory support")
	}
	var out bytes.Buffer
	c := DefaultConfig()
	c.ShmMinFree = 0
	require.NoError(t, run(context.Background(), c, &out))
	assert.Contains(t, out.String(), "page size")
	assert.Contains(t, out.String(), "virtual-memory")
	assert.Contains(t, out.String(), "semaphore")
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "fault-trap") {
			assert.NotContains(t, line, "FAILED")
		}
	}
}
