package vision

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"

	"github.com/1broseidon/vdwatch/internal/platform"
)

// Template is a reference image for one named target.
type Template struct {
	Name string
	// Offset pins the comparison to a region-relative position. Nil means
	// the whole region is searched.
	Offset    *platform.Point
	Threshold float64

	img *image.RGBA
}

// NewTemplate wraps an in-memory image.
func NewTemplate(name string, img image.Image, offset *platform.Point, threshold float64) Template {
	return Template{Name: name, Offset: offset, Threshold: threshold, img: toRGBA(img)}
}

// LoadTemplate reads a PNG template from disk.
func LoadTemplate(name, path string, offset *platform.Point, threshold float64) (Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return Template{}, fmt.Errorf("open template %q: %w", name, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return Template{}, fmt.Errorf("decode template %q (%s): %w", name, path, err)
	}
	return NewTemplate(name, img, offset, threshold), nil
}

// Size returns the template's dimensions.
func (t Template) Size() (int, int) {
	b := t.img.Bounds()
	return b.Dx(), b.Dy()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
