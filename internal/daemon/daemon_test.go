package daemon

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vdwatch/internal/config"
	"github.com/1broseidon/vdwatch/internal/coordinator"
	"github.com/1broseidon/vdwatch/internal/ipc"
	"github.com/1broseidon/vdwatch/internal/platform"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

type fakeBackend struct {
	mu      sync.Mutex
	desktop int
	clicks  []platform.Point
}

func (f *fakeBackend) Capture(region platform.Rect) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, region.Width, region.Height))
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			img.Set(x, y, color.RGBA{B: 255, A: 255})
		}
	}
	return img, nil
}

func (f *fakeBackend) Click(p platform.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, p)
	return nil
}

func (f *fakeBackend) PressKey(string) error { return nil }

func (f *fakeBackend) CurrentDesktop() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desktop, nil
}

func (f *fakeBackend) SwitchDesktop(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desktop = index
	return nil
}

func (f *fakeBackend) Displays() ([]platform.Display, error) {
	return []platform.Display{{ID: 0, Name: "fake", Bounds: platform.Rect{Width: 64, Height: 64}}}, nil
}

func (f *fakeBackend) currentDesktop() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desktop
}

func writeTemplate(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	banner := filepath.Join(dir, "banner.png")
	writeTemplate(t, banner)

	cfg := config.DefaultConfig()
	cfg.Coordinator.LoopInterval = 10 * time.Millisecond
	cfg.Coordinator.SettleDelay = time.Millisecond
	cfg.IO.DequeueWait = 10 * time.Millisecond
	cfg.Policies["watch"] = &statemachine.Table{
		Initial:  "NORMAL",
		Baseline: "NORMAL",
		Critical: []statemachine.State{"ALERT"},
		States: map[statemachine.State]*statemachine.Policy{
			"NORMAL": {
				Action:      statemachine.ActionDetectOnly,
				Targets:     []statemachine.Target{{Name: "banner", Result: "seen"}},
				Flow:        statemachine.FlowTrigger,
				Transitions: map[statemachine.ResultKey]statemachine.State{"seen": "ALERT"},
			},
			"ALERT": nil,
		},
	}
	cfg.Targets["banner"] = config.TargetConfig{Image: banner}
	cfg.Monitors = []config.MonitorConfig{{
		Name:     "m1",
		Policy:   "watch",
		Interval: 20 * time.Millisecond,
		Screens:  []config.ScreenConfig{{ID: "s1", Region: platform.Rect{Width: 32, Height: 32}}},
	}}
	cfg.Desktops[0].Monitors = []string{"m1"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, backend *fakeBackend, configPath string) (*Daemon, string) {
	t.Helper()
	dir := t.TempDir()
	socket := filepath.Join(dir, "vdwatch.sock")
	d, err := New(Options{
		ConfigPath: configPath,
		Config:     cfg,
		Backend:    backend,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		LockPath:   filepath.Join(dir, "vdwatch.lock"),
		SocketPath: socket,
	})
	require.NoError(t, err)
	return d, socket
}

func TestNew_BuildsMonitors(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), &fakeBackend{}, "")

	require.Contains(t, d.monitors, "m1")
	assert.Equal(t, "m1", d.monitors["m1"].Name())
	assert.Equal(t, coordinator.StateIdle, d.Coordinator().Status().State)
}

func TestNew_MissingTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Targets["banner"] = config.TargetConfig{Image: filepath.Join(t.TempDir(), "absent.png")}

	_, err := New(Options{Config: cfg, Backend: &fakeBackend{}, LockPath: filepath.Join(t.TempDir(), "l")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `target "banner"`)
}

func TestRun_ServesStatusAndSwitches(t *testing.T) {
	backend := &fakeBackend{}
	d, socket := newTestDaemon(t, testConfig(t), backend, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	client := ipc.NewClientWithSocket(socket)
	require.Eventually(t, func() bool {
		st, err := client.GetStatus()
		return err == nil &&
			st.Coordinator.State == coordinator.StateMonitoringVD1 &&
			len(st.Screens) == 1
	}, 3*time.Second, 10*time.Millisecond)

	st, err := client.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, st.Coordinator.Running)
	assert.Equal(t, statemachine.State("NORMAL"), st.Screens[0].State)

	require.NoError(t, client.SwitchNow())
	require.Eventually(t, func() bool {
		st, err := client.GetStatus()
		return err == nil && st.Coordinator.Focus == coordinator.VD2
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, backend.currentDesktop())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, d.Store().Snapshot())
}

func TestRun_AlreadyRunning(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), &fakeBackend{}, "")

	other := flock.New(d.lockPath)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock()

	err = d.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyRunning), "got %v", err)
}

func TestReloadTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks:
  - key: collect
    desktop: VD1
    at: "10:00"
    command: ["true"]
  - key: report
    desktop: VD2
    at: "18:30"
    command: ["true"]
`), 0644))

	d, _ := newTestDaemon(t, testConfig(t), &fakeBackend{}, path)
	n, err := d.ReloadTasks()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	triggers := d.tasks.Triggers()
	require.Len(t, triggers, 2)
	assert.Equal(t, "report", triggers[1].Task.Key)

	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  - key: broken\n    desktop: VD1\n"), 0644))
	_, err = d.ReloadTasks()
	require.Error(t, err)
	assert.Len(t, d.tasks.Triggers(), 2, "failed reload must keep the previous schedule")
}

func TestReloadTasks_NoConfigPath(t *testing.T) {
	d, _ := newTestDaemon(t, testConfig(t), &fakeBackend{}, "")
	_, err := d.ReloadTasks()
	require.Error(t, err)
}

func TestOffscreenScreens(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitors[0].Screens = append(cfg.Monitors[0].Screens,
		config.ScreenConfig{ID: "s2", Region: platform.Rect{X: 60, Y: 60, Width: 10, Height: 10}})

	displays, _ := (&fakeBackend{}).Displays()
	assert.Equal(t, []string{"m1/s2"}, offscreenScreens(cfg, displays))
}
