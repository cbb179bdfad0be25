package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/vdwatch/internal/statemachine"
)

// IncludeList supports either:
//
//	include: "policies.yaml"
//
// or:
//
//	include:
//	  - "policies.yaml"
//	  - "monitors.d"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawCoordinator struct {
	InitialDesktop *string        `yaml:"initial_desktop"`
	GraceWindow    *time.Duration `yaml:"grace_window"`
	SettleDelay    *time.Duration `yaml:"settle_delay"`
	LoopInterval   *time.Duration `yaml:"loop_interval"`
	FaultBackoff   *time.Duration `yaml:"fault_backoff"`
	StopTimeout    *time.Duration `yaml:"stop_timeout"`
}

type RawIO struct {
	DequeueWait *time.Duration `yaml:"dequeue_wait"`
}

type RawHotkeys struct {
	SwitchNow *string `yaml:"switch_now"`
}

// RawConfig is one file's view of the configuration. Nil fields were not set
// by that file and fall through to includes or defaults.
type RawConfig struct {
	Include     IncludeList                    `yaml:"include"`
	Display     *string                        `yaml:"display"`
	LogLevel    *string                        `yaml:"log_level"`
	LogFormat   *string                        `yaml:"log_format"`
	Coordinator *RawCoordinator                `yaml:"coordinator"`
	IO          *RawIO                         `yaml:"io"`
	Desktops    []DesktopConfig                `yaml:"desktops"`
	Monitors    []MonitorConfig                `yaml:"monitors"`
	Policies    map[string]*statemachine.Table `yaml:"policies"`
	Targets     map[string]TargetConfig        `yaml:"targets"`
	Tasks       []TaskConfig                   `yaml:"tasks"`
	Hotkeys     *RawHotkeys                    `yaml:"hotkeys"`
}

// merge layers overlay on top of c. Scalars override when set; desktops and
// monitors are replaced by id/name; policies and targets by key; a tasks list
// replaces the previous one wholesale so that `tasks: []` clears it.
func (c RawConfig) merge(overlay RawConfig) RawConfig {
	out := c

	if overlay.Display != nil {
		out.Display = overlay.Display
	}
	if overlay.LogLevel != nil {
		out.LogLevel = overlay.LogLevel
	}
	if overlay.LogFormat != nil {
		out.LogFormat = overlay.LogFormat
	}

	if overlay.Coordinator != nil {
		merged := RawCoordinator{}
		if out.Coordinator != nil {
			merged = *out.Coordinator
		}
		o := overlay.Coordinator
		if o.InitialDesktop != nil {
			merged.InitialDesktop = o.InitialDesktop
		}
		if o.GraceWindow != nil {
			merged.GraceWindow = o.GraceWindow
		}
		if o.SettleDelay != nil {
			merged.SettleDelay = o.SettleDelay
		}
		if o.LoopInterval != nil {
			merged.LoopInterval = o.LoopInterval
		}
		if o.FaultBackoff != nil {
			merged.FaultBackoff = o.FaultBackoff
		}
		if o.StopTimeout != nil {
			merged.StopTimeout = o.StopTimeout
		}
		out.Coordinator = &merged
	}

	if overlay.IO != nil && overlay.IO.DequeueWait != nil {
		out.IO = &RawIO{DequeueWait: overlay.IO.DequeueWait}
	}
	if overlay.Hotkeys != nil && overlay.Hotkeys.SwitchNow != nil {
		out.Hotkeys = &RawHotkeys{SwitchNow: overlay.Hotkeys.SwitchNow}
	}

	if overlay.Desktops != nil {
		out.Desktops = mergeByKey(out.Desktops, overlay.Desktops, func(d DesktopConfig) string { return d.ID })
	}
	if overlay.Monitors != nil {
		out.Monitors = mergeByKey(out.Monitors, overlay.Monitors, func(m MonitorConfig) string { return m.Name })
	}

	if overlay.Policies != nil {
		merged := make(map[string]*statemachine.Table, len(out.Policies)+len(overlay.Policies))
		for name, table := range out.Policies {
			merged[name] = table
		}
		for name, table := range overlay.Policies {
			merged[name] = table
		}
		out.Policies = merged
	}
	if overlay.Targets != nil {
		merged := make(map[string]TargetConfig, len(out.Targets)+len(overlay.Targets))
		for name, target := range out.Targets {
			merged[name] = target
		}
		for name, target := range overlay.Targets {
			merged[name] = target
		}
		out.Targets = merged
	}

	if overlay.Tasks != nil {
		out.Tasks = append([]TaskConfig{}, overlay.Tasks...)
	}

	return out
}

// mergeByKey replaces base entries whose key appears in overlay and appends
// the rest, keeping base order.
func mergeByKey[T any](base, overlay []T, key func(T) string) []T {
	out := append([]T(nil), base...)
	index := make(map[string]int, len(out))
	for i, item := range out {
		index[key(item)] = i
	}
	for _, item := range overlay {
		if i, ok := index[key(item)]; ok {
			out[i] = item
			continue
		}
		index[key(item)] = len(out)
		out = append(out, item)
	}
	return out
}
