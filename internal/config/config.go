package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/1broseidon/vdwatch/internal/coordinator"
	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/monitor"
	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/schedule"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

// Config is the effective daemon configuration.
type Config struct {
	Display     string                         `yaml:"display,omitempty"`
	LogLevel    string                         `yaml:"log_level"`
	LogFormat   string                         `yaml:"log_format"`
	Coordinator CoordinatorConfig              `yaml:"coordinator"`
	IO          IOConfig                       `yaml:"io"`
	Desktops    []DesktopConfig                `yaml:"desktops"`
	Monitors    []MonitorConfig                `yaml:"monitors"`
	Policies    map[string]*statemachine.Table `yaml:"policies"`
	Targets     map[string]TargetConfig        `yaml:"targets"`
	Tasks       []TaskConfig                   `yaml:"tasks"`
	Hotkeys     HotkeysConfig                  `yaml:"hotkeys"`
}

type CoordinatorConfig struct {
	InitialDesktop string        `yaml:"initial_desktop,omitempty"`
	GraceWindow    time.Duration `yaml:"grace_window"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	LoopInterval   time.Duration `yaml:"loop_interval"`
	FaultBackoff   time.Duration `yaml:"fault_backoff"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

type IOConfig struct {
	DequeueWait time.Duration `yaml:"dequeue_wait"`
}

// DesktopConfig maps a logical desktop to an X11 desktop index.
type DesktopConfig struct {
	ID       string        `yaml:"id"`
	Index    int           `yaml:"index"`
	Slice    time.Duration `yaml:"slice,omitempty"`
	Monitors []string      `yaml:"monitors,omitempty"`
}

type MonitorConfig struct {
	Name     string         `yaml:"name"`
	Policy   string         `yaml:"policy"`
	Interval time.Duration  `yaml:"interval,omitempty"`
	Screens  []ScreenConfig `yaml:"screens"`
}

type ScreenConfig struct {
	ID     string        `yaml:"id"`
	Region platform.Rect `yaml:"region"`
}

// TargetConfig points a target name at a PNG template. Without an offset the
// whole screen region is searched.
type TargetConfig struct {
	Image     string          `yaml:"image"`
	Threshold float64         `yaml:"threshold,omitempty"`
	Offset    *platform.Point `yaml:"offset,omitempty"`
}

type TaskConfig struct {
	Key     string          `yaml:"key"`
	Desktop string          `yaml:"desktop"`
	At      *schedule.Clock `yaml:"at"`
	Command []string        `yaml:"command"`
	Timeout time.Duration   `yaml:"timeout,omitempty"`
}

type HotkeysConfig struct {
	SwitchNow string `yaml:"switch_now,omitempty"`
}

const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultMonitorInterval = time.Second
)

// DefaultConfig returns the configuration used when no file exists: two
// alternating desktops, no monitors, and the builtin policies.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Coordinator: CoordinatorConfig{
			InitialDesktop: string(coordinator.VD1),
			GraceWindow:    coordinator.DefaultGraceWindow,
			SettleDelay:    coordinator.DefaultSettleDelay,
			LoopInterval:   coordinator.DefaultLoopInterval,
			FaultBackoff:   coordinator.DefaultFaultBackoff,
			StopTimeout:    monitor.DefaultStopTimeout,
		},
		IO: IOConfig{
			DequeueWait: ioscheduler.DefaultDequeueWait,
		},
		Desktops: []DesktopConfig{
			{ID: string(coordinator.VD1), Index: 0, Slice: coordinator.DefaultSlice},
			{ID: string(coordinator.VD2), Index: 1, Slice: coordinator.DefaultSlice},
		},
		Policies: BuiltinPolicies(),
		Targets:  map[string]TargetConfig{},
		Hotkeys: HotkeysConfig{
			SwitchNow: "Mod4-Shift-s",
		},
	}
}

// Triggers converts the configured tasks into schedule triggers.
func (c *Config) Triggers() []schedule.Trigger {
	out := make([]schedule.Trigger, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		trig := schedule.Trigger{
			Task: schedule.Task{
				Key:     t.Key,
				Desktop: t.Desktop,
				Command: append([]string(nil), t.Command...),
				Timeout: t.Timeout,
			},
		}
		if t.At != nil {
			trig.At = *t.At
		}
		out = append(out, trig)
	}
	return out
}

// PolicyNames returns the configured policy names, sorted.
func (c *Config) PolicyNames() []string {
	return sortedKeys(c.Policies)
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warn, error")}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return &ValidationError{Path: "log_format", Err: fmt.Errorf("log_format must be one of: text, json")}
	}

	if err := c.validateDurations(); err != nil {
		return err
	}

	if err := c.validatePolicies(); err != nil {
		return err
	}
	if err := c.validateTargets(); err != nil {
		return err
	}

	monitors, err := c.validateMonitors()
	if err != nil {
		return err
	}
	desktops, err := c.validateDesktops(monitors)
	if err != nil {
		return err
	}

	if c.Coordinator.InitialDesktop != "" {
		if _, ok := desktops[c.Coordinator.InitialDesktop]; !ok {
			return &ValidationError{Path: "coordinator.initial_desktop", Err: fmt.Errorf("desktop %q is not configured", c.Coordinator.InitialDesktop)}
		}
	}

	return c.validateTasks(desktops)
}

func (c *Config) validateDurations() error {
	checks := []struct {
		path string
		d    time.Duration
	}{
		{"coordinator.grace_window", c.Coordinator.GraceWindow},
		{"coordinator.settle_delay", c.Coordinator.SettleDelay},
		{"coordinator.loop_interval", c.Coordinator.LoopInterval},
		{"coordinator.fault_backoff", c.Coordinator.FaultBackoff},
		{"coordinator.stop_timeout", c.Coordinator.StopTimeout},
		{"io.dequeue_wait", c.IO.DequeueWait},
	}
	for _, chk := range checks {
		if chk.d < 0 {
			return &ValidationError{Path: chk.path, Err: fmt.Errorf("must be >= 0")}
		}
	}
	return nil
}

func (c *Config) validatePolicies() error {
	for _, name := range sortedKeys(c.Policies) {
		table := c.Policies[name]
		path := "policies." + name
		if table == nil {
			return &ValidationError{Path: path, Err: errors.New("policy must not be null")}
		}
		table.Name = name
		if err := table.Validate(); err != nil {
			var perr *statemachine.PolicyError
			if errors.As(err, &perr) {
				return &ValidationError{Path: policyErrorPath(path, perr), Err: perr.Err}
			}
			return &ValidationError{Path: path, Err: err}
		}
	}
	return nil
}

func policyErrorPath(prefix string, perr *statemachine.PolicyError) string {
	path := prefix
	if perr.State != "" {
		path += ".states." + string(perr.State)
	}
	if perr.Field != "" {
		path += "." + perr.Field
	}
	return path
}

func (c *Config) validateTargets() error {
	for _, name := range sortedKeys(c.Targets) {
		target := c.Targets[name]
		path := "targets." + name
		if strings.TrimSpace(target.Image) == "" {
			return &ValidationError{Path: path + ".image", Err: errors.New("image is required")}
		}
		if target.Threshold < 0 || target.Threshold > 1 {
			return &ValidationError{Path: path + ".threshold", Err: errors.New("threshold must be between 0 and 1")}
		}
		if target.Offset != nil && (target.Offset.X < 0 || target.Offset.Y < 0) {
			return &ValidationError{Path: path + ".offset", Err: errors.New("offset must not be negative")}
		}
	}
	return nil
}

func (c *Config) validateMonitors() (map[string]bool, error) {
	names := make(map[string]bool, len(c.Monitors))
	screens := make(map[string]string)

	for i, m := range c.Monitors {
		path := fmt.Sprintf("monitors[%d]", i)
		if strings.TrimSpace(m.Name) == "" {
			return nil, &ValidationError{Path: path + ".name", Err: errors.New("name is required")}
		}
		if names[m.Name] {
			return nil, &ValidationError{Path: path + ".name", Err: fmt.Errorf("monitor %q defined twice", m.Name)}
		}
		names[m.Name] = true

		table, ok := c.Policies[m.Policy]
		if !ok {
			return nil, &ValidationError{Path: path + ".policy", Err: fmt.Errorf("unknown policy %q (available: %s)", m.Policy, strings.Join(c.PolicyNames(), ", "))}
		}
		for _, target := range table.TargetNames() {
			if _, ok := c.Targets[target]; !ok {
				return nil, &ValidationError{Path: path + ".policy", Err: fmt.Errorf("policy %q probes target %q, which has no entry in targets", m.Policy, target)}
			}
		}
		if m.Interval < 0 {
			return nil, &ValidationError{Path: path + ".interval", Err: errors.New("must be >= 0")}
		}

		if len(m.Screens) == 0 {
			return nil, &ValidationError{Path: path + ".screens", Err: errors.New("at least one screen is required")}
		}
		for j, s := range m.Screens {
			spath := fmt.Sprintf("%s.screens[%d]", path, j)
			if strings.TrimSpace(s.ID) == "" {
				return nil, &ValidationError{Path: spath + ".id", Err: errors.New("id is required")}
			}
			if owner, dup := screens[s.ID]; dup {
				return nil, &ValidationError{Path: spath + ".id", Err: fmt.Errorf("screen %q already belongs to monitor %q", s.ID, owner)}
			}
			screens[s.ID] = m.Name
			if s.Region.Empty() || s.Region.X < 0 || s.Region.Y < 0 {
				return nil, &ValidationError{Path: spath + ".region", Err: errors.New("region must have a non-negative origin and positive size")}
			}
		}
	}
	return names, nil
}

func (c *Config) validateDesktops(monitors map[string]bool) (map[string]bool, error) {
	if len(c.Desktops) == 0 {
		return nil, &ValidationError{Path: "desktops", Err: errors.New("at least one desktop is required")}
	}

	ids := make(map[string]bool, len(c.Desktops))
	indexes := make(map[int]string, len(c.Desktops))
	bound := make(map[string]string)

	for i, d := range c.Desktops {
		path := fmt.Sprintf("desktops[%d]", i)
		if _, err := coordinator.ParseDesktop(d.ID); err != nil {
			return nil, &ValidationError{Path: path + ".id", Err: err}
		}
		if ids[d.ID] {
			return nil, &ValidationError{Path: path + ".id", Err: fmt.Errorf("desktop %s defined twice", d.ID)}
		}
		ids[d.ID] = true

		if d.Index < 0 {
			return nil, &ValidationError{Path: path + ".index", Err: errors.New("must be >= 0")}
		}
		if other, dup := indexes[d.Index]; dup {
			return nil, &ValidationError{Path: path + ".index", Err: fmt.Errorf("index %d already used by %s", d.Index, other)}
		}
		indexes[d.Index] = d.ID

		if d.Slice < 0 {
			return nil, &ValidationError{Path: path + ".slice", Err: errors.New("must be >= 0")}
		}
		if d.ID == string(coordinator.Other) && len(d.Monitors) > 0 {
			return nil, &ValidationError{Path: path + ".monitors", Err: errors.New("OTHER runs no monitors")}
		}
		for _, name := range d.Monitors {
			if !monitors[name] {
				return nil, &ValidationError{Path: path + ".monitors", Err: fmt.Errorf("unknown monitor %q", name)}
			}
			if owner, taken := bound[name]; taken {
				return nil, &ValidationError{Path: path + ".monitors", Err: fmt.Errorf("monitor %q is already bound to %s", name, owner)}
			}
			bound[name] = d.ID
		}
	}
	return ids, nil
}

func (c *Config) validateTasks(desktops map[string]bool) error {
	keys := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		if strings.TrimSpace(t.Key) == "" {
			return &ValidationError{Path: path + ".key", Err: errors.New("key is required")}
		}
		if keys[t.Key] {
			return &ValidationError{Path: path + ".key", Err: fmt.Errorf("task %q defined twice", t.Key)}
		}
		keys[t.Key] = true
		if !desktops[t.Desktop] {
			return &ValidationError{Path: path + ".desktop", Err: fmt.Errorf("desktop %q is not configured", t.Desktop)}
		}
		if t.At == nil {
			return &ValidationError{Path: path + ".at", Err: errors.New("at is required (HH:MM)")}
		}
		if len(t.Command) == 0 || strings.TrimSpace(t.Command[0]) == "" {
			return &ValidationError{Path: path + ".command", Err: errors.New("command is required")}
		}
		if t.Timeout < 0 {
			return &ValidationError{Path: path + ".timeout", Err: errors.New("must be >= 0")}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
