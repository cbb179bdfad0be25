package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// GetCurrentDesktop returns the current virtual desktop number (0-indexed).
// Uses _NET_CURRENT_DESKTOP atom. Returns 0 with an error if detection fails.
func (c *Connection) GetCurrentDesktop() (int, error) {
	desktop, err := ewmh.CurrentDesktopGet(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to get current desktop: %w", err)
	}
	return int(desktop), nil
}

// GetDesktopCount returns the number of virtual desktops.
func (c *Connection) GetDesktopCount() (int, error) {
	count, err := ewmh.NumberOfDesktopsGet(c.XUtil)
	if err != nil {
		return 0, fmt.Errorf("failed to get desktop count: %w", err)
	}
	return int(count), nil
}

// SetCurrentDesktop asks the window manager to switch to the given desktop.
// Sends a _NET_CURRENT_DESKTOP client message to the root window per EWMH spec.
// The message is built by hand because the xgbutil ewmh request helpers
// panic on this library version (uint vs int type assertion).
func (c *Connection) SetCurrentDesktop(desktop int) error {
	if desktop < 0 {
		return fmt.Errorf("invalid desktop index %d", desktop)
	}
	if count, err := c.GetDesktopCount(); err == nil && desktop >= count {
		return fmt.Errorf("desktop %d out of range (have %d)", desktop, count)
	}

	atomReply, err := xproto.InternAtom(c.XUtil.Conn(), false,
		uint16(len("_NET_CURRENT_DESKTOP")), "_NET_CURRENT_DESKTOP").Reply()
	if err != nil {
		return fmt.Errorf("failed to intern _NET_CURRENT_DESKTOP: %w", err)
	}

	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: c.Root,
		Type:   atomReply.Atom,
		Data:   xproto.ClientMessageDataUnionData32New([]uint32{uint32(desktop), uint32(xproto.TimeCurrentTime), 0, 0, 0}),
	}

	return xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		c.Root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
}
