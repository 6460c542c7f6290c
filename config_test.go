package jscore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/webapi"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jscore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
main_module: ./executor.js
bundle: false
init_script: initCore()
core_binding: ad4m
memory_limit_mb: 128
script_timeout: 2s
boot_timeout: 90s
dispatch_batch: 8
fatal_uncaught: false
tracing:
  enabled: true
  endpoint: localhost:4317
  insecure: true
metrics_addr: :9090
log_level: debug
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./executor.js", cfg.MainModule)
	assert.False(t, cfg.Bundle)
	assert.Equal(t, "initCore()", cfg.InitScript)
	assert.Equal(t, "ad4m", cfg.CoreBinding)
	assert.Equal(t, 128, cfg.MemoryLimitMB)
	assert.Equal(t, 2*time.Second, cfg.ScriptTimeout)
	assert.Equal(t, 90*time.Second, cfg.BootTimeout)
	assert.Equal(t, 8, cfg.DispatchBatch)
	assert.Equal(t, core.DefaultMaxTimersPerTick, cfg.MaxTimersPerTick, "unset keys keep their default")
	assert.False(t, cfg.FatalUncaught)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "localhost:4317", cfg.Tracing.Endpoint)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = LoadConfig(writeConfig(t, "script_timeout: [1, 2"))
	assert.ErrorContains(t, err, "parse config file")

	_, err = LoadConfig(writeConfig(t, "script_timeout: -1s"))
	assert.ErrorContains(t, err, "script_timeout")
}

func TestBootTimeout(t *testing.T) {
	assert.Equal(t, time.Minute, DefaultConfig().BootTimeout)

	cfg, err := LoadConfig(writeConfig(t, "boot_timeout: 0s"))
	require.NoError(t, err)
	assert.Zero(t, cfg.BootTimeout)
	assert.Zero(t, cfg.engineConfig().BootTimeout, "zero waits forever for the core binding")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"defaults", func(*Config) {}, nil},
		{"negative memory", func(c *Config) { c.MemoryLimitMB = -1 }, []string{"memory_limit_mb"}},
		{"negative boot timeout", func(c *Config) { c.BootTimeout = -time.Second }, []string{"boot_timeout"}},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, []string{"tracing.endpoint"}},
		{
			"several at once",
			func(c *Config) { c.DispatchBatch = -1; c.MaxTimersPerTick = -1 },
			[]string{"dispatch_batch", "max_timers_per_tick"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tt.want {
				assert.ErrorContains(t, err, w)
			}
		})
	}
}

func TestEngineConfigFillsDefaults(t *testing.T) {
	ec := Config{CoreBinding: "ad4m", ScriptTimeout: time.Second}.engineConfig()
	assert.Equal(t, "ad4m", ec.CoreBinding)
	assert.Equal(t, time.Second, ec.ScriptTimeout)
	assert.Equal(t, core.DefaultDispatchBatch, ec.DispatchBatch)
	assert.Equal(t, core.DefaultMaxTimersPerTick, ec.MaxTimersPerTick)

	ec = Config{}.engineConfig()
	assert.Equal(t, core.DefaultCoreBinding, ec.CoreBinding)
}

func TestMainModule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MainModule = "main.js"
	cfg.MainSource = "ignored"
	assert.Equal(t, webapi.MainModule{Path: "main.js", Bundle: true}, cfg.mainModule())

	cfg.MainModule = ""
	assert.Equal(t, webapi.MainModule{Source: "ignored"}, cfg.mainModule())
}
