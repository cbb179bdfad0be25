package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

const fullConfig = `
log_level: debug
log_format: json
coordinator:
  initial_desktop: VD2
  grace_window: 90s
  settle_delay: 250ms
io:
  dequeue_wait: 500ms
desktops:
  - id: VD1
    index: 0
    slice: 3m
    monitors: [combat-left]
  - id: VD2
    index: 1
    monitors: [system-main]
  - id: OTHER
    index: 2
monitors:
  - name: combat-left
    policy: combat
    interval: 500ms
    screens:
      - id: left-top
        region: {x: 0, y: 0, width: 960, height: 540}
      - id: left-bottom
        region: {x: 0, y: 540, width: 960, height: 540}
  - name: system-main
    policy: system
    screens:
      - id: main
        region: {x: 0, y: 0, width: 1920, height: 1080}
targets:
  dead_banner: {image: templates/dead.png, threshold: 0.85}
  revive_button: {image: templates/revive.png, offset: {x: 400, y: 300}}
  safe_zone: {image: /opt/vdwatch/safe.png}
  repair_button: {image: templates/repair.png}
  disconnect_dialog: {image: templates/disconnect.png}
  update_prompt: {image: templates/update.png}
  reconnect_button: {image: templates/reconnect.png}
  update_dismiss: {image: templates/dismiss.png}
tasks:
  - key: daily-collect
    desktop: VD1
    at: "09:30"
    command: [/usr/local/bin/collect, --all]
    timeout: 10m
hotkeys:
  switch_now: Mod4-Shift-n
`

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	for _, name := range []string{"combat", "system"} {
		if _, ok := cfg.Policies[name]; !ok {
			t.Fatalf("expected builtin policy %q", name)
		}
	}
}

func TestBuiltinPolicies_Validate(t *testing.T) {
	for name, table := range BuiltinPolicies() {
		if err := table.Validate(); err != nil {
			t.Fatalf("builtin %q: %v", name, err)
		}
		if table.IsCritical("NORMAL") {
			t.Fatalf("builtin %q: baseline must not be critical", name)
		}
	}
}

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	res, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Files) != 0 {
		t.Fatalf("expected no files, got %v", res.Files)
	}
	if res.Config.LogLevel != DefaultLogLevel {
		t.Fatalf("expected default log level, got %q", res.Config.LogLevel)
	}
}

func TestLoadFromPath_EmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "# empty\n")

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Config.Desktops) != 2 {
		t.Fatalf("expected default desktops, got %+v", res.Config.Desktops)
	}
}

func TestLoadFromPath_FullConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, fullConfig)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg := res.Config

	if cfg.LogFormat != "json" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected logging config: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Coordinator.InitialDesktop != "VD2" {
		t.Fatalf("initial desktop = %q", cfg.Coordinator.InitialDesktop)
	}
	if cfg.Coordinator.GraceWindow != 90*time.Second {
		t.Fatalf("grace window = %v", cfg.Coordinator.GraceWindow)
	}
	if cfg.Coordinator.LoopInterval != DefaultConfig().Coordinator.LoopInterval {
		t.Fatalf("expected default loop interval, got %v", cfg.Coordinator.LoopInterval)
	}
	if cfg.IO.DequeueWait != 500*time.Millisecond {
		t.Fatalf("dequeue wait = %v", cfg.IO.DequeueWait)
	}
	if cfg.Desktops[1].Slice != DefaultConfig().Desktops[0].Slice {
		t.Fatalf("expected default slice for VD2, got %v", cfg.Desktops[1].Slice)
	}
	if cfg.Monitors[1].Interval != DefaultMonitorInterval {
		t.Fatalf("expected default monitor interval, got %v", cfg.Monitors[1].Interval)
	}
	if got := cfg.Monitors[0].Screens[1].Region.Y; got != 540 {
		t.Fatalf("screen region y = %d", got)
	}

	dead := cfg.Targets["dead_banner"]
	if want := filepath.Join(filepath.Dir(res.Files[0]), "templates", "dead.png"); dead.Image != want {
		t.Fatalf("dead_banner image = %q, want %q", dead.Image, want)
	}
	if cfg.Targets["safe_zone"].Image != "/opt/vdwatch/safe.png" {
		t.Fatalf("absolute image path rewritten: %q", cfg.Targets["safe_zone"].Image)
	}
	if off := cfg.Targets["revive_button"].Offset; off == nil || off.X != 400 {
		t.Fatalf("revive offset = %+v", off)
	}

	triggers := cfg.Triggers()
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	if triggers[0].At.Hour != 9 || triggers[0].At.Minute != 30 {
		t.Fatalf("trigger at = %v", triggers[0].At)
	}
	if triggers[0].Task.Timeout != 10*time.Minute || triggers[0].Task.Command[1] != "--all" {
		t.Fatalf("unexpected task %+v", triggers[0].Task)
	}
	if cfg.Hotkeys.SwitchNow != "Mod4-Shift-n" {
		t.Fatalf("switch_now = %q", cfg.Hotkeys.SwitchNow)
	}
}

func TestLoadFromPath_CustomPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
policies:
  fishing:
    initial: IDLE
    baseline: IDLE
    critical: [REELING]
    states:
      IDLE:
        action: detect_only
        targets: [{name: bobber, result: bite}]
        flow: trigger
        transitions: {bite: REELING}
      REELING:
        action: sequence
        sequence:
          - {kind: immediate, key: space, priority: urgent}
          - {kind: wait_duration, duration: 2s}
          - {kind: wait, target: catch}
        flow: sequence_with_retry
        sequence_retry: {max_attempts: 10, failure: lost}
        transitions: {sequence_complete: IDLE, lost: IDLE}
targets:
  bobber: {image: bobber.png}
  catch: {image: catch.png}
monitors:
  - name: pond
    policy: fishing
    screens: [{id: pond-1, region: {x: 0, y: 0, width: 100, height: 100}}]
desktops:
  - {id: VD1, index: 0, monitors: [pond]}
`)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	table := res.Config.Policies["fishing"]
	if table == nil || table.Name != "fishing" {
		t.Fatalf("expected fishing policy, got %+v", table)
	}
	reel := table.Policy("REELING")
	if reel.Flow != statemachine.FlowSequenceWithRetry || len(reel.Sequence) != 3 {
		t.Fatalf("unexpected REELING policy %+v", reel)
	}
	if reel.Sequence[0].Priority == nil || *reel.Sequence[0].Priority != ioscheduler.PriorityUrgent {
		t.Fatalf("step priority not decoded")
	}
	if reel.Sequence[1].Duration != 2*time.Second {
		t.Fatalf("step duration = %v", reel.Sequence[1].Duration)
	}
	if _, ok := res.Config.Policies["combat"]; !ok {
		t.Fatalf("builtin policies must remain available")
	}
	if src := res.Origin("policies.combat"); src.Kind != SourceBuiltin {
		t.Fatalf("combat origin = %+v", src)
	}
	if src := res.Origin("policies.fishing"); src.Kind != SourceFile {
		t.Fatalf("fishing origin = %+v", src)
	}
}

func TestLoadFromPath_PolicyErrorHasSourceContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `policies:
  broken:
    initial: A
    baseline: A
    states:
      A:
        action: detect_and_click
        target: {name: thing}
        flow: retry
        retry:
          max_attempts: 3
          give_up: nope
        transitions: {success: A}
`)

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatalf("expected error")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if verr.Path != "policies.broken.states.A.transitions" {
		t.Fatalf("path = %q", verr.Path)
	}
	if verr.Source.Line != 13 {
		t.Fatalf("expected line 13, got %+v (%v)", verr.Source, err)
	}
	if !strings.Contains(err.Error(), "config.yaml:13:") {
		t.Fatalf("error lacks file position: %v", err)
	}
}

func TestLoadFromPath_ListErrorHasSourceContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `targets:
  dead_banner: {image: a.png}
  revive_button: {image: b.png}
  safe_zone: {image: c.png}
  repair_button: {image: d.png}
monitors:
  - name: m
    policy: combat
    screens:
      - id: s1
        region: {x: 0, y: 0, width: 0, height: 10}
`)

	_, err := LoadFromPath(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Path != "monitors[0].screens[0].region" {
		t.Fatalf("path = %q", verr.Path)
	}
	if verr.Source.Line != 11 {
		t.Fatalf("expected line 11, got %+v", verr.Source)
	}
}

func TestLoadFromPath_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "coordinator:\n  slice_seconds: 10\n")
	if _, err := LoadFromPath(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadFromPath_BadEnumRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `policies:
  p:
    initial: A
    baseline: A
    states:
      A: {action: detect_everything, flow: trigger}
`)
	_, err := LoadFromPath(path)
	if err == nil || !strings.Contains(err.Error(), "detect_everything") {
		t.Fatalf("expected enum error, got %v", err)
	}
}

func TestLoadFromPath_Includes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "conf.d", "10-targets.yaml"), `
targets:
  dead_banner: {image: dead.png}
  revive_button: {image: revive.png}
  safe_zone: {image: safe.png}
  repair_button: {image: repair.png}
`)
	writeFile(t, filepath.Join(dir, "conf.d", "20-monitors.yaml"), `
log_level: warn
monitors:
  - name: left
    policy: combat
    screens: [{id: l1, region: {x: 0, y: 0, width: 10, height: 10}}]
`)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
include: conf.d
log_level: error
desktops:
  - {id: VD1, index: 0, monitors: [left]}
`)

	res, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Files) != 3 {
		t.Fatalf("expected 3 files, got %v", res.Files)
	}
	if res.Config.LogLevel != "error" {
		t.Fatalf("including file must win, got %q", res.Config.LogLevel)
	}
	if len(res.Config.Monitors) != 1 || res.Config.Monitors[0].Name != "left" {
		t.Fatalf("monitors = %+v", res.Config.Monitors)
	}
	wantImage := filepath.Join(filepath.Dir(res.Files[0]), "dead.png")
	if got := res.Config.Targets["dead_banner"].Image; got != wantImage {
		t.Fatalf("image resolved against including file: got %q want %q", got, wantImage)
	}
}

func TestLoadFromPath_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "include: b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "include: a.yaml\n")
	_, err := LoadFromPath(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "include cycle") {
		t.Fatalf("expected include cycle error, got %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		path   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"negative grace", func(c *Config) { c.Coordinator.GraceWindow = -time.Second }, "coordinator.grace_window"},
		{"no desktops", func(c *Config) { c.Desktops = nil }, "desktops"},
		{"bad desktop id", func(c *Config) { c.Desktops[0].ID = "VD7" }, "desktops[0].id"},
		{"duplicate index", func(c *Config) { c.Desktops[1].Index = 0 }, "desktops[1].index"},
		{"unknown monitor", func(c *Config) { c.Desktops[0].Monitors = []string{"ghost"} }, "desktops[0].monitors"},
		{"initial not configured", func(c *Config) { c.Coordinator.InitialDesktop = "OTHER" }, "coordinator.initial_desktop"},
		{"unknown policy", func(c *Config) {
			c.Monitors = []MonitorConfig{{Name: "m", Policy: "nope", Screens: []ScreenConfig{{ID: "s"}}}}
		}, "monitors[0].policy"},
		{"missing target", func(c *Config) {
			c.Monitors = []MonitorConfig{{Name: "m", Policy: "system", Screens: []ScreenConfig{{ID: "s"}}}}
		}, "monitors[0].policy"},
		{"task desktop", func(c *Config) {
			c.Tasks = []TaskConfig{{Key: "t", Desktop: "OTHER", Command: []string{"x"}}}
		}, "tasks[0].desktop"},
		{"task without time", func(c *Config) {
			c.Tasks = []TaskConfig{{Key: "t", Desktop: "VD1", Command: []string{"x"}}}
		}, "tasks[0].at"},
		{"target threshold", func(c *Config) {
			c.Targets["x"] = TargetConfig{Image: "x.png", Threshold: 1.5}
		}, "targets.x.threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Path != tt.path {
				t.Fatalf("path = %q, want %q (%v)", verr.Path, tt.path, err)
			}
		})
	}
}

func TestMergeByKey(t *testing.T) {
	base := []DesktopConfig{{ID: "VD1", Index: 0}, {ID: "VD2", Index: 1}}
	overlay := []DesktopConfig{{ID: "VD2", Index: 5}, {ID: "OTHER", Index: 2}}
	got := mergeByKey(base, overlay, func(d DesktopConfig) string { return d.ID })
	if len(got) != 3 || got[1].Index != 5 || got[2].ID != "OTHER" {
		t.Fatalf("unexpected merge result %+v", got)
	}
	if base[1].Index != 1 {
		t.Fatalf("base slice mutated")
	}
}
