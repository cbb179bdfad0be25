package config

import (
	"fmt"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig layers raw on top of DefaultConfig. Builtin policies
// stay available unless a file defines a policy of the same name.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Display != nil {
		cfg.Display = *raw.Display
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.LogFormat != nil {
		cfg.LogFormat = *raw.LogFormat
	}

	if rc := raw.Coordinator; rc != nil {
		if rc.InitialDesktop != nil {
			cfg.Coordinator.InitialDesktop = *rc.InitialDesktop
		}
		if rc.GraceWindow != nil {
			cfg.Coordinator.GraceWindow = *rc.GraceWindow
		}
		if rc.SettleDelay != nil {
			cfg.Coordinator.SettleDelay = *rc.SettleDelay
		}
		if rc.LoopInterval != nil {
			cfg.Coordinator.LoopInterval = *rc.LoopInterval
		}
		if rc.FaultBackoff != nil {
			cfg.Coordinator.FaultBackoff = *rc.FaultBackoff
		}
		if rc.StopTimeout != nil {
			cfg.Coordinator.StopTimeout = *rc.StopTimeout
		}
	}
	if raw.IO != nil && raw.IO.DequeueWait != nil {
		cfg.IO.DequeueWait = *raw.IO.DequeueWait
	}
	if raw.Hotkeys != nil && raw.Hotkeys.SwitchNow != nil {
		cfg.Hotkeys.SwitchNow = *raw.Hotkeys.SwitchNow
	}

	if raw.Desktops != nil {
		cfg.Desktops = raw.Desktops
	}
	for i := range cfg.Desktops {
		if cfg.Desktops[i].Slice == 0 {
			cfg.Desktops[i].Slice = DefaultConfig().Desktops[0].Slice
		}
	}

	cfg.Monitors = raw.Monitors
	for i := range cfg.Monitors {
		if cfg.Monitors[i].Interval == 0 {
			cfg.Monitors[i].Interval = DefaultMonitorInterval
		}
	}

	for name, table := range raw.Policies {
		cfg.Policies[name] = table
	}
	for name, target := range raw.Targets {
		cfg.Targets[name] = target
	}
	cfg.Tasks = raw.Tasks

	return cfg, nil
}
