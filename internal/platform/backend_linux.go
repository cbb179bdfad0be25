//go:build linux

package platform

import (
	"fmt"
	"image"
	"sort"

	"github.com/1broseidon/vdwatch/internal/x11"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
)

// LinuxBackend wraps an X11 connection behind the capture, actuator, and
// desktop-switch interfaces.
type LinuxBackend struct {
	conn *x11.Connection
}

var (
	_ Actuator        = (*LinuxBackend)(nil)
	_ DesktopSwitcher = (*LinuxBackend)(nil)
	_ Capturer        = (*LinuxBackend)(nil)
)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{conn: conn}
}

// NewLinuxBackendFromDisplay creates a new Linux backend by opening a fresh X11 connection.
func NewLinuxBackendFromDisplay() (*LinuxBackend, error) {
	conn, err := x11.NewConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	return &LinuxBackend{conn: conn}, nil
}

// Disconnect closes the underlying X11 connection.
func (b *LinuxBackend) Disconnect() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// EventLoop starts the X11 event loop (blocking).
func (b *LinuxBackend) EventLoop() {
	if b != nil && b.conn != nil {
		b.conn.EventLoop()
	}
}

// QuitEventLoop stops a running EventLoop.
func (b *LinuxBackend) QuitEventLoop() {
	if b != nil && b.conn != nil {
		b.conn.Quit()
	}
}

// XUtil returns the underlying xgbutil connection for X11-specific operations.
func (b *LinuxBackend) XUtil() *xgbutil.XUtil {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.XUtil
}

// RootWindow returns the X11 root window ID.
func (b *LinuxBackend) RootWindow() xproto.Window {
	if b == nil || b.conn == nil {
		return 0
	}
	return b.conn.Root
}

// Displays returns all active displays.
func (b *LinuxBackend) Displays() ([]Display, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	outputs, err := conn.Outputs()
	if err != nil {
		return nil, err
	}

	displays := make([]Display, 0, len(outputs))
	for _, m := range outputs {
		displays = append(displays, Display{
			ID:     m.ID,
			Name:   m.Name,
			Bounds: Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height},
		})
	}

	sort.Slice(displays, func(i, j int) bool {
		return displays[i].ID < displays[j].ID
	})

	return displays, nil
}

// Capture grabs the pixels of a root-window region.
func (b *LinuxBackend) Capture(region Rect) (image.Image, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	return conn.CaptureRegion(region.X, region.Y, region.Width, region.Height)
}

// Click sends a left click at p.
func (b *LinuxBackend) Click(p Point) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.ClickAt(p.X, p.Y)
}

// PressKey sends a key chord such as "Escape" or "Control_L+r".
func (b *LinuxBackend) PressKey(chord string) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.PressKey(chord)
}

// CurrentDesktop returns the index of the focused virtual desktop.
func (b *LinuxBackend) CurrentDesktop() (int, error) {
	conn, err := b.connection()
	if err != nil {
		return 0, err
	}
	return conn.GetCurrentDesktop()
}

// SwitchDesktop asks the window manager to focus desktop index.
func (b *LinuxBackend) SwitchDesktop(index int) error {
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.SetCurrentDesktop(index)
}

func (b *LinuxBackend) connection() (*x11.Connection, error) {
	if b == nil || b.conn == nil {
		return nil, fmt.Errorf("x11 backend connection is nil")
	}
	return b.conn, nil
}
