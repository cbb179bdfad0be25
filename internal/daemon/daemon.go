package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"github.com/1broseidon/vdwatch/internal/config"
	"github.com/1broseidon/vdwatch/internal/coordinator"
	"github.com/1broseidon/vdwatch/internal/hotkeys"
	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/ipc"
	"github.com/1broseidon/vdwatch/internal/monitor"
	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/runtimepath"
	"github.com/1broseidon/vdwatch/internal/schedule"
	"github.com/1broseidon/vdwatch/internal/statemachine"
	"github.com/1broseidon/vdwatch/internal/vision"
)

// ErrAlreadyRunning is returned by Run when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another vdwatch daemon instance is already running")

// Backend is what the daemon needs from the display server.
type Backend interface {
	platform.Capturer
	platform.Actuator
	platform.DesktopSwitcher
	Displays() ([]platform.Display, error)
}

// eventBackend is implemented by backends that can deliver global hotkeys.
type eventBackend interface {
	hotkeys.X11
	EventLoop()
	QuitEventLoop()
}

// Options configures a daemon.
type Options struct {
	// ConfigPath is re-read on reload. Empty disables reloading.
	ConfigPath string
	Config     *config.Config
	Backend    Backend
	Logger     *slog.Logger

	LockPath   string // defaults to runtimepath.LockPath
	SocketPath string // defaults to runtimepath.SocketPath

	// WatchConfig reloads tasks when ConfigPath changes on disk.
	WatchConfig bool

	Commands schedule.CommandRunner // nil runs tasks with os/exec
	Now      func() time.Time
}

// Daemon owns every long-lived component.
type Daemon struct {
	configPath string
	watch      bool
	logger     *slog.Logger
	backend    Backend
	hotkeySeq  string

	lockPath string
	lock     *flock.Flock

	io          *ioscheduler.Scheduler
	store       *statemachine.Store
	monitors    map[string]*monitor.Monitor
	manager     *monitor.Manager
	tasks       *schedule.Scheduler
	coordinator *coordinator.Coordinator
	ipc         *ipc.Server

	reloads singleflight.Group
}

// New builds every component from opts.Config. Nothing runs until Run.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon requires a config")
	}
	if opts.Backend == nil {
		return nil, errors.New("daemon requires a display backend")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	lockPath := opts.LockPath
	if lockPath == "" {
		var err error
		if lockPath, err = runtimepath.LockPath(); err != nil {
			return nil, fmt.Errorf("resolve lock path: %w", err)
		}
	}

	if displays, err := opts.Backend.Displays(); err != nil {
		logger.Warn("display layout unavailable", "error", err)
	} else if off := offscreenScreens(cfg, displays); len(off) > 0 {
		logger.Warn("screen regions outside every display", "screens", off)
	}

	templates, err := loadTemplates(cfg)
	if err != nil {
		return nil, err
	}
	sensor, err := vision.NewTemplateSensor(opts.Backend, templates, vision.SensorConfig{Logger: logger})
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		configPath: opts.ConfigPath,
		watch:      opts.WatchConfig,
		logger:     logger.With("component", "daemon"),
		backend:    opts.Backend,
		hotkeySeq:  cfg.Hotkeys.SwitchNow,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
		io: ioscheduler.New(ioscheduler.Config{
			DequeueWait: cfg.IO.DequeueWait,
			Logger:      logger,
		}),
		store: statemachine.NewStore(),
		manager: monitor.NewManager(monitor.ManagerConfig{
			StopTimeout: cfg.Coordinator.StopTimeout,
			Logger:      logger,
		}),
		tasks: schedule.NewScheduler(cfg.Triggers(), now(), logger),
	}

	d.monitors, err = buildMonitors(cfg, monitorDeps{
		sensor:   sensor,
		actuator: opts.Backend,
		io:       d.io,
		store:    d.store,
		logger:   logger,
		now:      now,
	})
	if err != nil {
		return nil, err
	}

	desktops, err := coordinatorDesktops(cfg)
	if err != nil {
		return nil, err
	}
	watched := make(map[string]coordinator.Watched, len(d.monitors))
	for name, m := range d.monitors {
		watched[name] = m
	}
	initial, err := coordinator.ParseDesktop(cfg.Coordinator.InitialDesktop)
	if err != nil && cfg.Coordinator.InitialDesktop != "" {
		return nil, err
	}

	d.coordinator, err = coordinator.New(coordinator.Config{
		Desktops:     desktops,
		Initial:      initial,
		GraceWindow:  cfg.Coordinator.GraceWindow,
		SettleDelay:  cfg.Coordinator.SettleDelay,
		LoopInterval: cfg.Coordinator.LoopInterval,
		FaultBackoff: cfg.Coordinator.FaultBackoff,
		Monitors:     watched,
		Manager:      d.manager,
		Switcher:     opts.Backend,
		Tasks:        d.tasks,
		Runner:       schedule.NewExecRunner(schedule.DefaultTaskTimeout, opts.Commands, logger),
		Logger:       logger,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	d.ipc, err = ipc.NewServer(ipc.Deps{
		Controller: d.coordinator,
		Store:      d.store,
		Pending:    d.io.Pending,
		Displays:   opts.Backend.Displays,
		Reload:     d.ReloadTasks,
		SocketPath: opts.SocketPath,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return d, nil
}

// Coordinator returns the focus coordinator.
func (d *Daemon) Coordinator() *coordinator.Coordinator { return d.coordinator }

// Store returns the screen status store.
func (d *Daemon) Store() *statemachine.Store { return d.store }

// Run acquires the instance lock and runs until ctx is cancelled. Monitors
// are stopped and the I/O worker drained before Run returns.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.io.Start(ctx); err != nil {
		return fmt.Errorf("start io scheduler: %w", err)
	}
	defer func() {
		cancel()
		d.io.Wait()
	}()

	if err := d.ipc.Start(); err != nil {
		return err
	}
	defer d.ipc.Stop()

	if eb, ok := d.backend.(eventBackend); ok {
		d.startHotkeys(eb)
		defer eb.QuitEventLoop()
	}

	if d.watch && d.configPath != "" {
		watcher := schedule.NewWatcher(d.configPath, func() error {
			_, err := d.ReloadTasks()
			return err
		}, d.logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				d.logger.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	d.logger.Info("vdwatch daemon started", "lock", d.lockPath, "monitors", len(d.monitors))
	err = d.coordinator.Run(ctx)
	d.logger.Info("vdwatch daemon stopped")
	return err
}

func (d *Daemon) startHotkeys(eb eventBackend) {
	if d.hotkeySeq == "" || eb.XUtil() == nil {
		return
	}
	handler := hotkeys.NewHandler(eb, d.logger)
	if err := handler.RegisterSwitchNow(d.hotkeySeq, d.coordinator); err != nil {
		d.logger.Warn("hotkey unavailable", "error", err)
		return
	}
	go eb.EventLoop()
}

// ReloadTasks re-reads the config file and replaces the task schedule.
// Concurrent callers share one reload. Other sections take effect on restart.
func (d *Daemon) ReloadTasks() (int, error) {
	if d.configPath == "" {
		return 0, errors.New("no config file to reload")
	}
	v, err, shared := d.reloads.Do("tasks", func() (any, error) {
		res, err := config.LoadFromPath(d.configPath)
		if err != nil {
			return 0, err
		}
		triggers := res.Config.Triggers()
		d.tasks.Replace(triggers)
		return len(triggers), nil
	})
	if err != nil {
		d.logger.Warn("task reload failed", "path", d.configPath, "error", err)
		return 0, err
	}
	d.logger.Info("tasks reloaded", "path", d.configPath, "tasks", v, "shared", shared)
	return v.(int), nil
}
