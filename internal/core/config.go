package core

import "time"

// EngineConfig holds runtime configuration for the engine worker.
type EngineConfig struct {
	MemoryLimitMB    int           // per-engine heap limit, 0 for the engine default
	ScriptTimeout    time.Duration // max synchronous run time of a single evaluation, 0 disables
	BootTimeout      time.Duration // max time for the core binding to appear, 0 waits forever
	DispatchBatch    int           // requests taken from the mailbox per scheduler tick
	MaxTimersPerTick int           // timer callbacks fired per scheduler tick
	FatalUncaught    bool          // an exception thrown by a timer or host-op callback stops the worker
	CoreBinding      string        // global that marks the end of bootstrap
	InitScript       string        // evaluated after the main module, e.g. "initCore()"
}

const (
	DefaultCoreBinding      = "core"
	DefaultDispatchBatch    = 64
	DefaultMaxTimersPerTick = 256
	DefaultScriptTimeout    = 30 * time.Second
)

// WithDefaults returns a copy of cfg with zero-valued tunables replaced by
// their defaults. Timeouts are left alone: zero means "no limit".
func (cfg EngineConfig) WithDefaults() EngineConfig {
	if cfg.CoreBinding == "" {
		cfg.CoreBinding = DefaultCoreBinding
	}
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = DefaultDispatchBatch
	}
	if cfg.MaxTimersPerTick <= 0 {
		cfg.MaxTimersPerTick = DefaultMaxTimersPerTick
	}
	return cfg
}
