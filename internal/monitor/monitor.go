package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

// ScreenSpec declares one capture region owned by a monitor.
type ScreenSpec struct {
	ID     string
	Region platform.Rect
}

// Config holds configuration for a monitor.
type Config struct {
	Name     string
	Interval time.Duration
	Screens  []ScreenSpec
	Logger   *slog.Logger
}

// Monitor polls a fixed set of screens and advances each one's automaton once
// per interval. Screens live for the monitor's lifetime.
type Monitor struct {
	name     string
	interval time.Duration
	engine   *statemachine.Engine
	screens  []*statemachine.Screen
	logger   *slog.Logger
}

// New creates a monitor whose screens start in the engine table's initial
// state.
func New(cfg Config, engine *statemachine.Engine) (*Monitor, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("monitor name is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("monitor %q: engine is required", cfg.Name)
	}
	if len(cfg.Screens) == 0 {
		return nil, fmt.Errorf("monitor %q: at least one screen is required", cfg.Name)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Monitor{
		name:     cfg.Name,
		interval: interval,
		engine:   engine,
		logger:   logger.With("component", "monitor", "monitor", cfg.Name),
	}
	for _, spec := range cfg.Screens {
		m.screens = append(m.screens, engine.NewScreen(spec.ID, spec.Region))
	}
	return m, nil
}

// Name returns the monitor's name.
func (m *Monitor) Name() string { return m.name }

// Run ticks every screen once per interval. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("monitor started", "interval", m.interval, "screens", len(m.screens))

	// Cleanup removed our screens when the monitor last stopped.
	store := m.engine.Store()
	for _, s := range m.screens {
		store.Publish(s.Status())
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-timer.C:
			m.TickAll()
			timer.Reset(m.interval)
		}
	}
}

// TickAll runs one polling pass over every screen.
func (m *Monitor) TickAll() {
	for _, s := range m.screens {
		m.tick(s)
	}
}

func (m *Monitor) tick(s *statemachine.Screen) {
	// A panicking screen must not take its siblings down with it.
	defer func() {
		if err := recover(); err != nil {
			m.logger.Error("screen tick panic recovered",
				"screen", s.ID,
				"state", s.State(),
				"error", err,
				"stack", string(debug.Stack()))
		}
	}()
	m.engine.Tick(s)
}

// Cleanup forgets this monitor's screens in the shared store.
func (m *Monitor) Cleanup() {
	ids := make([]string, 0, len(m.screens))
	for _, s := range m.screens {
		ids = append(ids, s.ID)
	}
	m.engine.Store().Remove(ids...)
}

// CriticalScreens returns the screens whose published state makes a desktop
// switch unsafe.
func (m *Monitor) CriticalScreens() []statemachine.ScreenStatus {
	table := m.engine.Table()
	store := m.engine.Store()

	var out []statemachine.ScreenStatus
	for _, s := range m.screens {
		status, ok := store.Get(s.ID)
		if !ok {
			continue
		}
		if table.IsCritical(status.State) {
			out = append(out, status)
		}
	}
	return out
}
