package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
)

// Output is an enabled RandR CRTC and the name of its first output, in root
// window coordinates.
type Output struct {
	ID     int
	Name   string
	X      int
	Y      int
	Width  int
	Height int
}

// Outputs lists the enabled CRTCs. CRTCs that fail to answer are skipped.
func (c *Connection) Outputs() ([]Output, error) {
	xc := c.XUtil.Conn()
	if err := randr.Init(xc); err != nil {
		return nil, fmt.Errorf("randr init: %w", err)
	}
	res, err := randr.GetScreenResources(xc, c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("randr screen resources: %w", err)
	}

	var out []Output
	for i, crtc := range res.Crtcs {
		info, err := randr.GetCrtcInfo(xc, crtc, res.ConfigTimestamp).Reply()
		if err != nil || info.Width == 0 || info.Height == 0 || len(info.Outputs) == 0 {
			continue
		}
		name := fmt.Sprintf("crtc-%d", i)
		if oi, err := randr.GetOutputInfo(xc, info.Outputs[0], res.ConfigTimestamp).Reply(); err == nil {
			name = string(oi.Name)
		}
		out = append(out, Output{
			ID:     i,
			Name:   name,
			X:      int(info.X),
			Y:      int(info.Y),
			Width:  int(info.Width),
			Height: int(info.Height),
		})
	}
	return out, nil
}
