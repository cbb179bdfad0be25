package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSensor struct {
	mu      sync.Mutex
	present map[string]bool
	panicOn string
}

func (s *stubSensor) set(target string, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present[target] = present
}

func (s *stubSensor) Probe(region platform.Rect, target string, _ float64) (platform.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn != "" && region.X == 0 {
		panic(s.panicOn)
	}
	return platform.Match{Present: s.present[target]}, nil
}

type nopActuator struct{}

func (nopActuator) Click(platform.Point) error { return nil }
func (nopActuator) PressKey(string) error      { return nil }

type nopIO struct{}

func (nopIO) Submit(string, string, ioscheduler.Action, ioscheduler.Priority) {}

func alertTable() *statemachine.Table {
	return &statemachine.Table{
		Name:     "combat",
		Initial:  "NORMAL",
		Baseline: "NORMAL",
		Critical: []statemachine.State{"DEAD"},
		States: map[statemachine.State]*statemachine.Policy{
			"NORMAL": {
				Action:      statemachine.ActionDetectOnly,
				Targets:     []statemachine.Target{{Name: "dead_banner", Result: "dead"}},
				Flow:        statemachine.FlowTrigger,
				Transitions: map[statemachine.ResultKey]statemachine.State{"dead": "DEAD"},
			},
			"DEAD": {
				Action:      statemachine.ActionDetectOnly,
				Targets:     []statemachine.Target{{Name: "alive", Result: "alive"}},
				Flow:        statemachine.FlowRetry,
				Retry:       statemachine.RetryParams{MaxAttempts: 100, GiveUp: "give_up"},
				Transitions: map[statemachine.ResultKey]statemachine.State{"alive": "NORMAL", "give_up": "NORMAL"},
			},
		},
	}
}

func newTestMonitor(t *testing.T, sensor *stubSensor, store *statemachine.Store, screens ...ScreenSpec) *Monitor {
	t.Helper()
	engine, err := statemachine.NewEngine(statemachine.EngineConfig{
		Component: "combat",
		Table:     alertTable(),
		Sensor:    sensor,
		Actuator:  nopActuator{},
		IO:        nopIO{},
		Store:     store,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	m, err := New(Config{
		Name:     "combat",
		Interval: 5 * time.Millisecond,
		Screens:  screens,
		Logger:   discardLogger(),
	}, engine)
	require.NoError(t, err)
	return m
}

func TestMonitorCriticalScreens(t *testing.T) {
	sensor := &stubSensor{present: map[string]bool{}}
	store := statemachine.NewStore()
	m := newTestMonitor(t, sensor, store,
		ScreenSpec{ID: "a", Region: platform.Rect{X: 1, Width: 10, Height: 10}},
		ScreenSpec{ID: "b", Region: platform.Rect{X: 2, Width: 10, Height: 10}},
	)

	m.TickAll()
	assert.Empty(t, m.CriticalScreens())

	sensor.set("dead_banner", true)
	m.TickAll()
	critical := m.CriticalScreens()
	require.Len(t, critical, 2)
	assert.Equal(t, statemachine.State("DEAD"), critical[0].State)

	m.Cleanup()
	assert.Empty(t, store.Snapshot())
	assert.Empty(t, m.CriticalScreens())
}

func TestMonitorSurvivesPanickingScreen(t *testing.T) {
	sensor := &stubSensor{present: map[string]bool{"dead_banner": true}, panicOn: "boom"}
	store := statemachine.NewStore()
	m := newTestMonitor(t, sensor, store,
		ScreenSpec{ID: "bad", Region: platform.Rect{X: 0, Width: 10, Height: 10}},
		ScreenSpec{ID: "good", Region: platform.Rect{X: 5, Width: 10, Height: 10}},
	)

	require.NotPanics(t, m.TickAll)
	good, ok := store.Get("good")
	require.True(t, ok)
	assert.Equal(t, statemachine.State("DEAD"), good.State)
}

func TestMonitorRunRepublishesAfterCleanup(t *testing.T) {
	sensor := &stubSensor{present: map[string]bool{}}
	store := statemachine.NewStore()
	m := newTestMonitor(t, sensor, store, ScreenSpec{ID: "a", Region: platform.Rect{X: 1, Width: 1, Height: 1}})
	m.Cleanup()
	require.Empty(t, store.Snapshot())

	mgr := NewManager(ManagerConfig{Logger: discardLogger()})
	require.True(t, mgr.Start("combat", m))
	require.Eventually(t, func() bool {
		_, ok := store.Get("a")
		return ok
	}, time.Second, 5*time.Millisecond)

	mgr.Stop("combat")
	assert.Empty(t, store.Snapshot())
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Name: ""}, nil)
	assert.Error(t, err)
}

type blockingInstance struct {
	started  chan struct{}
	ignore   bool
	cleanups atomic.Int32
	runs     atomic.Int32
}

func newBlockingInstance() *blockingInstance {
	return &blockingInstance{started: make(chan struct{}, 4)}
}

func (b *blockingInstance) Run(ctx context.Context) {
	b.runs.Add(1)
	b.started <- struct{}{}
	if b.ignore {
		time.Sleep(200 * time.Millisecond)
		return
	}
	<-ctx.Done()
}

func (b *blockingInstance) Cleanup() { b.cleanups.Add(1) }

func TestManagerStartIsIdempotent(t *testing.T) {
	mgr := NewManager(ManagerConfig{Logger: discardLogger()})
	inst := newBlockingInstance()

	assert.True(t, mgr.Start("vd1", inst))
	assert.False(t, mgr.Start("vd1", inst))
	<-inst.started

	assert.True(t, mgr.IsRunning("vd1"))
	assert.Equal(t, []string{"vd1"}, mgr.Running())
	assert.Equal(t, int32(1), inst.runs.Load())

	mgr.Stop("vd1")
}

func TestManagerStopIsIdempotent(t *testing.T) {
	mgr := NewManager(ManagerConfig{Logger: discardLogger()})
	inst := newBlockingInstance()
	mgr.Start("vd1", inst)
	<-inst.started

	mgr.Stop("vd1")
	mgr.Stop("vd1")
	mgr.Stop("never-started")

	assert.False(t, mgr.IsRunning("vd1"))
	assert.Empty(t, mgr.Running())
	assert.Equal(t, int32(1), inst.cleanups.Load())
}

func TestManagerStopIsBounded(t *testing.T) {
	mgr := NewManager(ManagerConfig{StopTimeout: 20 * time.Millisecond, Logger: discardLogger()})
	inst := newBlockingInstance()
	inst.ignore = true
	mgr.Start("stuck", inst)
	<-inst.started

	start := time.Now()
	err := mgr.Stop("stuck")
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.False(t, mgr.IsRunning("stuck"))

	// the old run still owns the key until it exits
	next := newBlockingInstance()
	assert.False(t, mgr.Start("stuck", next))
	require.Eventually(t, func() bool { return mgr.Start("stuck", next) }, time.Second, 10*time.Millisecond)
	<-next.started
	assert.NoError(t, mgr.Stop("stuck"))
}

func TestManagerStopAll(t *testing.T) {
	mgr := NewManager(ManagerConfig{Logger: discardLogger()})
	keys := []string{"a", "b", "c"}
	instances := make([]*blockingInstance, len(keys))
	for i, key := range keys {
		instances[i] = newBlockingInstance()
		mgr.Start(key, instances[i])
		<-instances[i].started
	}

	mgr.StopAll(append(keys, "missing"))
	assert.Empty(t, mgr.Running())
	for _, inst := range instances {
		assert.Equal(t, int32(1), inst.cleanups.Load())
	}
}
