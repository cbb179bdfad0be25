package daemon

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/1broseidon/vdwatch/internal/config"
	"github.com/1broseidon/vdwatch/internal/coordinator"
	"github.com/1broseidon/vdwatch/internal/monitor"
	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/statemachine"
	"github.com/1broseidon/vdwatch/internal/vision"
)

// loadTemplates reads the PNG template of every configured target.
func loadTemplates(cfg *config.Config) ([]vision.Template, error) {
	templates := make([]vision.Template, 0, len(cfg.Targets))
	for _, name := range targetNames(cfg) {
		target := cfg.Targets[name]
		tmpl, err := vision.LoadTemplate(name, target.Image, target.Offset, target.Threshold)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", name, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}

func targetNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Targets))
	for name := range cfg.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type monitorDeps struct {
	sensor   platform.Sensor
	actuator platform.Actuator
	io       statemachine.Submitter
	store    *statemachine.Store
	logger   *slog.Logger
	now      func() time.Time
}

// buildMonitors creates one engine and monitor per configured monitor. Each
// monitor gets its own engine so log records and I/O requests carry the
// monitor's name.
func buildMonitors(cfg *config.Config, deps monitorDeps) (map[string]*monitor.Monitor, error) {
	out := make(map[string]*monitor.Monitor, len(cfg.Monitors))
	for _, mc := range cfg.Monitors {
		table, ok := cfg.Policies[mc.Policy]
		if !ok {
			return nil, fmt.Errorf("monitor %q: unknown policy %q", mc.Name, mc.Policy)
		}
		engine, err := statemachine.NewEngine(statemachine.EngineConfig{
			Component: mc.Name,
			Table:     table,
			Sensor:    deps.sensor,
			Actuator:  deps.actuator,
			IO:        deps.io,
			Store:     deps.store,
			Logger:    deps.logger,
			Now:       deps.now,
		})
		if err != nil {
			return nil, fmt.Errorf("monitor %q: %w", mc.Name, err)
		}

		screens := make([]monitor.ScreenSpec, 0, len(mc.Screens))
		for _, sc := range mc.Screens {
			screens = append(screens, monitor.ScreenSpec{ID: sc.ID, Region: sc.Region})
		}
		m, err := monitor.New(monitor.Config{
			Name:     mc.Name,
			Interval: mc.Interval,
			Screens:  screens,
			Logger:   deps.logger,
		}, engine)
		if err != nil {
			return nil, fmt.Errorf("monitor %q: %w", mc.Name, err)
		}
		out[mc.Name] = m
	}
	return out, nil
}

// coordinatorDesktops maps configured desktops onto coordinator bindings.
func coordinatorDesktops(cfg *config.Config) ([]coordinator.DesktopConfig, error) {
	out := make([]coordinator.DesktopConfig, 0, len(cfg.Desktops))
	for _, d := range cfg.Desktops {
		id, err := coordinator.ParseDesktop(d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, coordinator.DesktopConfig{
			ID:       id,
			Index:    d.Index,
			Slice:    d.Slice,
			Monitors: append([]string(nil), d.Monitors...),
		})
	}
	return out, nil
}

// offscreenScreens returns the screens whose region is not inside any
// display.
func offscreenScreens(cfg *config.Config, displays []platform.Display) []string {
	var out []string
	for _, mc := range cfg.Monitors {
		for _, sc := range mc.Screens {
			inside := false
			for _, d := range displays {
				if d.Bounds.Contains(sc.Region) {
					inside = true
					break
				}
			}
			if !inside {
				out = append(out, mc.Name+"/"+sc.ID)
			}
		}
	}
	return out
}
