package jscore

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cryguy/jscore/internal/core"
	"github.com/cryguy/jscore/internal/telemetry"
	"github.com/cryguy/jscore/internal/webapi"
)

// Config configures one engine and the process hosting it. It is usually
// loaded from YAML with LoadConfig; the zero value of each tunable falls
// back to its default, except the timeouts, where zero means no limit.
type Config struct {
	// MainModule is the path of the bootstrap module. ES modules are
	// bundled with their imports when Bundle is set.
	MainModule string `yaml:"main_module"`
	// MainSource is inline bootstrap source, used when MainModule is empty.
	MainSource string `yaml:"main_source"`
	Bundle     bool   `yaml:"bundle"`
	// InitScript runs after the main module, e.g. "initCore()".
	InitScript  string `yaml:"init_script"`
	CoreBinding string `yaml:"core_binding"`

	MemoryLimitMB int           `yaml:"memory_limit_mb"`
	ScriptTimeout time.Duration `yaml:"script_timeout"`
	// BootTimeout bounds the wait for CoreBinding. Set it to 0 to wait
	// forever, as a bootstrap that never defines the binding otherwise
	// fails with a BootstrapError once it expires.
	BootTimeout      time.Duration `yaml:"boot_timeout"`
	DispatchBatch    int           `yaml:"dispatch_batch"`
	MaxTimersPerTick int           `yaml:"max_timers_per_tick"`
	FatalUncaught    bool          `yaml:"fatal_uncaught"`

	Tracing     telemetry.Config `yaml:"tracing"`
	MetricsAddr string           `yaml:"metrics_addr"`
	LogLevel    string           `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
// Unlike a zero EngineConfig it bounds bootstrap to one minute, so a main
// module that never defines the core binding fails Initialized instead of
// blocking it forever.
func DefaultConfig() Config {
	return Config{
		Bundle:           true,
		CoreBinding:      core.DefaultCoreBinding,
		ScriptTimeout:    core.DefaultScriptTimeout,
		BootTimeout:      time.Minute,
		DispatchBatch:    core.DefaultDispatchBatch,
		MaxTimersPerTick: core.DefaultMaxTimersPerTick,
		FatalUncaught:    true,
		LogLevel:         "info",
	}
}

// LoadConfig reads a YAML file over DefaultConfig. A relative MainModule is
// resolved against the current directory, not the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration values that can never work.
func (c Config) Validate() error {
	var errs []error
	if c.MemoryLimitMB < 0 {
		errs = append(errs, errors.New("memory_limit_mb must not be negative"))
	}
	if c.ScriptTimeout < 0 {
		errs = append(errs, errors.New("script_timeout must not be negative"))
	}
	if c.BootTimeout < 0 {
		errs = append(errs, errors.New("boot_timeout must not be negative"))
	}
	if c.DispatchBatch < 0 {
		errs = append(errs, errors.New("dispatch_batch must not be negative"))
	}
	if c.MaxTimersPerTick < 0 {
		errs = append(errs, errors.New("max_timers_per_tick must not be negative"))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// engineConfig converts c to the worker's engine settings.
func (c Config) engineConfig() core.EngineConfig {
	return core.EngineConfig{
		MemoryLimitMB:    c.MemoryLimitMB,
		ScriptTimeout:    c.ScriptTimeout,
		BootTimeout:      c.BootTimeout,
		DispatchBatch:    c.DispatchBatch,
		MaxTimersPerTick: c.MaxTimersPerTick,
		FatalUncaught:    c.FatalUncaught,
		CoreBinding:      c.CoreBinding,
		InitScript:       c.InitScript,
	}.WithDefaults()
}

// mainModule returns the bootstrap module description. The worker reads
// and bundles it, so file errors surface as bootstrap failures.
func (c Config) mainModule() webapi.MainModule {
	if c.MainModule == "" {
		return webapi.MainModule{Source: c.MainSource}
	}
	return webapi.MainModule{Path: c.MainModule, Bundle: c.Bundle}
}
