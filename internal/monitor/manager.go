package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultStopTimeout bounds how long Stop waits for a monitor to exit.
const DefaultStopTimeout = 10 * time.Second

// ErrStopTimeout is returned by Stop when a monitor outlives the stop timeout.
var ErrStopTimeout = errors.New("monitor did not stop in time")

// Instance is anything the manager can run.
type Instance interface {
	Run(ctx context.Context)
}

// Cleaner is implemented by instances that release shared state on stop.
type Cleaner interface {
	Cleanup()
}

type running struct {
	cancel   context.CancelFunc
	done     chan struct{}
	instance Instance
}

// ManagerConfig holds configuration for the manager.
type ManagerConfig struct {
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Manager starts and stops named monitor goroutines.
type Manager struct {
	mu      sync.Mutex
	running map[string]*running
	// stopping holds monitors that outlived their stop timeout until they
	// exit. Their key cannot be started again before then.
	stopping    map[string]chan struct{}
	stopTimeout time.Duration
	logger      *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(cfg ManagerConfig) *Manager {
	timeout := cfg.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		running:     make(map[string]*running),
		stopping:    make(map[string]chan struct{}),
		stopTimeout: timeout,
		logger:      logger.With("component", "monitor-manager"),
	}
}

// Start runs instance under key. It returns false without starting anything
// when key is already running, or when a previous run under key timed out on
// stop and has not exited yet.
func (m *Manager) Start(key string, instance Instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[key]; ok {
		return false
	}
	if done, ok := m.stopping[key]; ok {
		select {
		case <-done:
			delete(m.stopping, key)
		default:
			m.logger.Warn("monitor still stopping, start skipped", "monitor", key)
			return false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, done: make(chan struct{}), instance: instance}
	m.running[key] = r

	go func() {
		defer close(r.done)
		defer func() {
			if err := recover(); err != nil {
				m.logger.Error("monitor panic recovered", "monitor", key, "error", err)
			}
		}()
		instance.Run(ctx)
	}()

	m.logger.Debug("monitor start requested", "monitor", key)
	return true
}

// Stop cancels the monitor under key and waits up to the stop timeout for it
// to exit. Unknown keys are ignored. A monitor that outlives the timeout is
// left to finish on its own and ErrStopTimeout is returned.
func (m *Manager) Stop(key string) error {
	m.mu.Lock()
	r, ok := m.running[key]
	if ok {
		delete(m.running, key)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	r.cancel()

	var err error
	timer := time.NewTimer(m.stopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		m.logger.Debug("monitor stopped", "monitor", key)
	case <-timer.C:
		m.logger.Warn("monitor did not stop in time", "monitor", key, "timeout", m.stopTimeout)
		m.mu.Lock()
		m.stopping[key] = r.done
		m.mu.Unlock()
		err = fmt.Errorf("%w: %s", ErrStopTimeout, key)
	}

	if c, ok := r.instance.(Cleaner); ok {
		c.Cleanup()
	}
	return err
}

// StopAll stops every key concurrently and returns once each stop has joined
// or timed out.
func (m *Manager) StopAll(keys []string) {
	var g errgroup.Group
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return m.Stop(key)
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn("not every monitor stopped cleanly", "keys", keys, "error", err)
	}
}

// Running returns the keys of running monitors, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.running))
	for key := range m.running {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsRunning reports whether key is running.
func (m *Manager) IsRunning(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[key]
	return ok
}
