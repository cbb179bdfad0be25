package x11

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
	"github.com/BurntSushi/xgbutil/keybind"
)

const leftButton = 1

// ClickAt warps the pointer to (x, y) in root coordinates and sends a left
// button press/release pair through XTEST.
func (c *Connection) ClickAt(x, y int) error {
	if err := c.initXTest(); err != nil {
		return err
	}
	conn := c.XUtil.Conn()

	if err := xtest.FakeInputChecked(conn, xproto.MotionNotify, 0, 0, c.Root, int16(x), int16(y), 0).Check(); err != nil {
		return fmt.Errorf("pointer motion to %d,%d: %w", x, y, err)
	}
	if err := xtest.FakeInputChecked(conn, xproto.ButtonPress, leftButton, 0, c.Root, 0, 0, 0).Check(); err != nil {
		return fmt.Errorf("button press: %w", err)
	}
	if err := xtest.FakeInputChecked(conn, xproto.ButtonRelease, leftButton, 0, c.Root, 0, 0, 0).Check(); err != nil {
		return fmt.Errorf("button release: %w", err)
	}
	return nil
}

// PressKey synthesizes a key chord such as "Escape" or "Control_L+r".
// Keys are pressed left to right and released in reverse order.
func (c *Connection) PressKey(chord string) error {
	if err := c.initXTest(); err != nil {
		return err
	}

	names := strings.Split(chord, "+")
	codes := make([]xproto.Keycode, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("invalid key chord %q", chord)
		}
		kc := keybind.StrToKeycodes(c.XUtil, name)
		if len(kc) == 0 {
			return fmt.Errorf("unknown key %q", name)
		}
		codes = append(codes, kc[0])
	}

	conn := c.XUtil.Conn()
	for _, code := range codes {
		if err := xtest.FakeInputChecked(conn, xproto.KeyPress, byte(code), 0, c.Root, 0, 0, 0).Check(); err != nil {
			return fmt.Errorf("key press %q: %w", chord, err)
		}
	}
	for i := len(codes) - 1; i >= 0; i-- {
		if err := xtest.FakeInputChecked(conn, xproto.KeyRelease, byte(codes[i]), 0, c.Root, 0, 0, 0).Check(); err != nil {
			return fmt.Errorf("key release %q: %w", chord, err)
		}
	}
	return nil
}
