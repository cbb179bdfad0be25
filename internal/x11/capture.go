package x11

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb/xproto"
)

// CaptureRegion grabs a rectangle of the root window as an RGBA image.
// Only 24/32-bit TrueColor visuals are supported; the server returns those
// as 4 bytes per pixel in BGRX order.
func (c *Connection) CaptureRegion(x, y, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", width, height)
	}

	reply, err := xproto.GetImage(
		c.XUtil.Conn(),
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.Root),
		int16(x), int16(y),
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("get image %dx%d+%d+%d: %w", width, height, x, y, err)
	}
	if reply.Depth != 24 && reply.Depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", reply.Depth)
	}

	want := width * height * 4
	if len(reply.Data) < want {
		return nil, fmt.Errorf("short image data: got %d bytes, want %d", len(reply.Data), want)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	src := reply.Data
	dst := img.Pix
	for i := 0; i < width*height; i++ {
		o := i * 4
		dst[o+0] = src[o+2]
		dst[o+1] = src[o+1]
		dst[o+2] = src[o+0]
		dst[o+3] = 0xff
	}
	return img, nil
}
