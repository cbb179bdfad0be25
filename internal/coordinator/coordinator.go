package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/vdwatch/internal/monitor"
	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/schedule"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

// Defaults for zero-valued Config durations.
const (
	DefaultSlice        = 180 * time.Second
	DefaultGraceWindow  = 60 * time.Second
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultLoopInterval = time.Second
	DefaultFaultBackoff = 5 * time.Second
)

// TaskSource yields scheduled tasks that became due.
type TaskSource interface {
	Due(now time.Time) []schedule.Task
}

// TaskRunner executes one task synchronously.
type TaskRunner interface {
	Run(ctx context.Context, task schedule.Task) error
}

// MonitorController starts and stops monitor goroutines by key.
type MonitorController interface {
	Start(key string, instance monitor.Instance) bool
	StopAll(keys []string)
	Running() []string
}

// Watched is a monitor whose screens feed the switch safety gate.
type Watched interface {
	monitor.Instance
	CriticalScreens() []statemachine.ScreenStatus
}

// DesktopConfig binds a desktop to its X11 index, slice, and monitors.
type DesktopConfig struct {
	ID       Desktop
	Index    int
	Slice    time.Duration
	Monitors []string
}

// Config wires a coordinator.
type Config struct {
	Desktops     []DesktopConfig
	Initial      Desktop
	GraceWindow  time.Duration
	SettleDelay  time.Duration
	LoopInterval time.Duration
	FaultBackoff time.Duration

	Monitors map[string]Watched
	Manager  MonitorController
	Switcher platform.DesktopSwitcher
	Tasks    TaskSource
	Runner   TaskRunner
	Logger   *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State           ActiveState   `json:"state"`
	Focus           Desktop       `json:"focus"`
	Slice           time.Duration `json:"slice"`
	SliceElapsed    time.Duration `json:"slice_elapsed"`
	PendingTask     string        `json:"pending_task,omitempty"`
	SwitchRequested bool          `json:"switch_requested"`
	Running         []string      `json:"running_monitors"`
}

// Coordinator owns desktop focus. It alternates between desktops on a time
// slice, runs scheduled tasks on their desktop, and only starts the monitors
// of the focused desktop.
type Coordinator struct {
	desktops map[Desktop]DesktopConfig
	order    []Desktop
	initial  Desktop
	grace    time.Duration
	settle   time.Duration
	interval time.Duration
	backoff  time.Duration

	monitors map[string]Watched
	manager  MonitorController
	switcher platform.DesktopSwitcher
	tasks    TaskSource
	runner   TaskRunner
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)

	switchRequested atomic.Bool

	// Written by the main loop only; mu guards reads from other goroutines.
	mu         sync.Mutex
	state      ActiveState
	focus      Desktop
	sliceStart time.Time
	pending    *schedule.Task
}

// New validates cfg and creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if len(cfg.Desktops) == 0 {
		return nil, errors.New("at least one desktop is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("monitor manager is required")
	}
	if cfg.Switcher == nil {
		return nil, errors.New("desktop switcher is required")
	}

	c := &Coordinator{
		desktops: make(map[Desktop]DesktopConfig, len(cfg.Desktops)),
		initial:  cfg.Initial,
		grace:    orDefault(cfg.GraceWindow, DefaultGraceWindow),
		settle:   orDefault(cfg.SettleDelay, DefaultSettleDelay),
		interval: orDefault(cfg.LoopInterval, DefaultLoopInterval),
		backoff:  orDefault(cfg.FaultBackoff, DefaultFaultBackoff),
		monitors: cfg.Monitors,
		manager:  cfg.Manager,
		switcher: cfg.Switcher,
		tasks:    cfg.Tasks,
		runner:   cfg.Runner,
		logger:   cfg.Logger,
		now:      cfg.Now,
		sleep:    cfg.Sleep,
	}
	if cfg.SettleDelay < 0 {
		c.settle = 0
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "coordinator")
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.monitors == nil {
		c.monitors = map[string]Watched{}
	}

	owner := make(map[string]Desktop)
	for _, d := range cfg.Desktops {
		if _, err := ParseDesktop(string(d.ID)); err != nil {
			return nil, err
		}
		if _, dup := c.desktops[d.ID]; dup {
			return nil, fmt.Errorf("desktop %s configured twice", d.ID)
		}
		if d.Slice <= 0 {
			d.Slice = DefaultSlice
		}
		for _, name := range d.Monitors {
			if _, ok := c.monitors[name]; !ok {
				return nil, fmt.Errorf("desktop %s: unknown monitor %q", d.ID, name)
			}
			if prev, taken := owner[name]; taken {
				return nil, fmt.Errorf("monitor %q bound to both %s and %s", name, prev, d.ID)
			}
			owner[name] = d.ID
		}
		c.desktops[d.ID] = d
		c.order = append(c.order, d.ID)
	}

	if c.initial == "" {
		c.initial = c.order[0]
	}
	if _, ok := c.desktops[c.initial]; !ok {
		return nil, fmt.Errorf("initial desktop %s is not configured", c.initial)
	}
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run focuses the initial desktop and drives the main loop until ctx is
// cancelled. Every monitor is stopped before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator started", "initial", c.initial, "desktops", c.order)
	defer c.shutdown()

	c.guard(func() {
		c.SetFocus(ctx, c.initial, monitoringState(c.initial))
	})

	for ctx.Err() == nil {
		wait := c.interval
		if !c.guard(func() { c.iterate(ctx) }) {
			wait = c.backoff
		}
		c.sleep(ctx, wait)
	}

	c.logger.Info("coordinator stopped")
	return nil
}

// guard runs fn and reports false when it panicked.
func (c *Coordinator) guard(fn func()) (ok bool) {
	defer func() {
		if err := recover(); err != nil {
			c.logger.Error("coordinator loop fault recovered",
				"error", err,
				"stack", string(debug.Stack()),
				"backoff", c.backoff)
			ok = false
		}
	}()
	fn()
	return true
}

func (c *Coordinator) shutdown() {
	var all []string
	for _, id := range c.order {
		all = append(all, c.desktops[id].Monitors...)
	}
	c.manager.StopAll(all)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

// iterate runs one pass of the main loop.
func (c *Coordinator) iterate(ctx context.Context) {
	c.pollTasks()

	if task := c.takePending(); task != nil {
		c.executeTask(ctx, *task)
		return
	}

	c.mu.Lock()
	state, focus, sliceStart := c.state, c.focus, c.sliceStart
	c.mu.Unlock()

	if !state.Monitoring() {
		c.restoreFocus(ctx, state, focus)
		return
	}

	desk := c.desktops[focus]
	elapsed := c.now().Sub(sliceStart)
	requested := c.switchRequested.Load()
	if elapsed < desk.Slice && !requested {
		return
	}

	peer, ok := c.peer(focus)
	if !ok {
		c.logger.Debug("no peer desktop, restarting slice", "desktop", focus)
		c.switchRequested.Store(false)
		c.resetSlice()
		return
	}

	if critical := c.criticalScreens(focus); len(critical) > 0 {
		if elapsed < desk.Slice+c.grace {
			c.logger.Debug("desktop switch deferred",
				"from", focus, "to", peer, "critical", len(critical), "elapsed", elapsed)
			return
		}
		c.logger.Warn("forcing desktop switch past critical screens",
			"from", focus, "to", peer,
			"critical", describe(critical),
			"elapsed", elapsed, "grace", c.grace)
	}

	c.switchRequested.Store(false)
	c.SetFocus(ctx, peer, monitoringState(peer))
}

// restoreFocus re-enters a monitoring state after a faulted transition left
// the loop switching or executing with nothing pending.
func (c *Coordinator) restoreFocus(ctx context.Context, state ActiveState, focus Desktop) {
	want := focus
	if _, ok := c.desktops[want]; !ok {
		want = c.initial
	}
	if want == focus && state == monitoringState(want) {
		return
	}
	c.logger.Warn("restoring focus after interrupted transition", "state", state, "desktop", want)
	c.SetFocus(ctx, want, monitoringState(want))
}

func (c *Coordinator) pollTasks() {
	if c.tasks == nil {
		return
	}
	due := c.tasks.Due(c.now())
	if len(due) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range due {
		if c.pending != nil {
			c.logger.Warn("dropping task, another is pending",
				"task", task.Key, "pending", c.pending.Key)
			continue
		}
		if _, ok := c.desktops[Desktop(task.Desktop)]; !ok {
			c.logger.Warn("dropping task for unconfigured desktop",
				"task", task.Key, "desktop", task.Desktop)
			continue
		}
		t := task
		c.pending = &t
	}
}

func (c *Coordinator) takePending() *schedule.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) executeTask(ctx context.Context, task schedule.Task) {
	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	target := Desktop(task.Desktop)

	c.mu.Lock()
	prev := c.focus
	c.mu.Unlock()

	c.manager.StopAll(c.desktops[prev].Monitors)
	c.SetFocus(ctx, target, executingState(target))

	c.logger.Info("running task", "task", task.Key, "desktop", target)
	if c.runner == nil {
		c.logger.Warn("no task runner configured", "task", task.Key)
	} else if err := c.runTask(ctx, task); err != nil {
		c.logger.Warn("task failed", "task", task.Key, "error", err)
	}

	// Desktops without monitors hand focus back to where we came from.
	resume := target
	if !monitoringState(target).Monitoring() {
		resume = prev
	}
	if ctx.Err() != nil {
		return
	}
	c.SetFocus(ctx, resume, monitoringState(resume))
	c.resetSlice()
}

// runTask runs task, turning a panic in the runner into an error so focus is
// still handed back.
func (c *Coordinator) runTask(ctx context.Context, task schedule.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return c.runner.Run(ctx, task)
}

// SetFocus moves focus to desktop in state. Monitors of the previous desktop
// are stopped before the switch; monitors of the target start only when state
// is a monitoring state.
func (c *Coordinator) SetFocus(ctx context.Context, desktop Desktop, state ActiveState) {
	target, ok := c.desktops[desktop]
	if !ok {
		c.logger.Error("focus requested for unconfigured desktop", "desktop", desktop)
		return
	}

	c.mu.Lock()
	if c.focus == desktop && c.state == state {
		c.mu.Unlock()
		return
	}
	prev := c.focus
	c.state = StateSwitching
	c.mu.Unlock()

	c.logger.Info("switching focus", "from", prev, "to", desktop, "state", state)

	if prevCfg, ok := c.desktops[prev]; ok {
		c.manager.StopAll(prevCfg.Monitors)
	}
	c.sleep(ctx, c.settle)

	c.ensureDesktop(target)

	if state.Monitoring() {
		for _, name := range target.Monitors {
			c.manager.Start(name, c.monitors[name])
		}
	}

	c.mu.Lock()
	c.focus = desktop
	c.state = state
	c.sliceStart = c.now()
	c.mu.Unlock()
}

// ensureDesktop switches the display to target. A failed verification is
// logged and focus is committed anyway.
func (c *Coordinator) ensureDesktop(target DesktopConfig) {
	current, err := c.switcher.CurrentDesktop()
	if err == nil && current == target.Index {
		return
	}
	if err != nil {
		c.logger.Debug("current desktop unknown", "error", err)
	}

	if err := c.switcher.SwitchDesktop(target.Index); err != nil {
		c.logger.Warn("desktop switch failed", "desktop", target.ID, "index", target.Index, "error", err)
		return
	}

	current, err = c.switcher.CurrentDesktop()
	switch {
	case err != nil:
		c.logger.Warn("desktop switch unverified", "desktop", target.ID, "error", err)
	case current != target.Index:
		c.logger.Warn("desktop switch verification failed",
			"desktop", target.ID, "want", target.Index, "got", current)
	default:
		c.logger.Info("desktop switched", "desktop", target.ID, "index", target.Index)
	}
}

func (c *Coordinator) resetSlice() {
	c.mu.Lock()
	c.sliceStart = c.now()
	c.mu.Unlock()
}

// peer is the desktop that alternates with d.
func (c *Coordinator) peer(d Desktop) (Desktop, bool) {
	var want Desktop
	switch d {
	case VD1:
		want = VD2
	case VD2:
		want = VD1
	default:
		return "", false
	}
	_, ok := c.desktops[want]
	return want, ok
}

func (c *Coordinator) criticalScreens(d Desktop) []statemachine.ScreenStatus {
	var out []statemachine.ScreenStatus
	for _, name := range c.desktops[d].Monitors {
		if m, ok := c.monitors[name]; ok {
			out = append(out, m.CriticalScreens()...)
		}
	}
	return out
}

func describe(screens []statemachine.ScreenStatus) []string {
	out := make([]string, 0, len(screens))
	for _, s := range screens {
		out = append(out, s.ScreenID+"="+string(s.State))
	}
	return out
}

// RequestSwitch asks the main loop to switch to the peer desktop on its next
// iteration. The switch is still subject to the safety gate.
func (c *Coordinator) RequestSwitch() {
	c.switchRequested.Store(true)
	c.logger.Info("switch requested")
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		State: c.state,
		Focus: c.focus,
	}
	if d, ok := c.desktops[c.focus]; ok {
		st.Slice = d.Slice
	}
	if !c.sliceStart.IsZero() {
		st.SliceElapsed = c.now().Sub(c.sliceStart)
	}
	if c.pending != nil {
		st.PendingTask = c.pending.Key
	}
	c.mu.Unlock()

	st.SwitchRequested = c.switchRequested.Load()
	st.Running = c.manager.Running()
	return st
}
