package vision

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/vdwatch/internal/platform"
)

type frameCapturer struct {
	frame  image.Image
	err    error
	region platform.Rect
}

func (f *frameCapturer) Capture(region platform.Rect) (image.Image, error) {
	f.region = region
	return f.frame, f.err
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func paint(dst *image.RGBA, at image.Point, src *image.RGBA) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetRGBA(at.X+x, at.Y+y, src.RGBAAt(x, y))
		}
	}
}

var (
	black = color.RGBA{A: 255}
	red   = color.RGBA{R: 255, A: 255}
)

func banner() *image.RGBA {
	img := solid(8, 8, red)
	img.SetRGBA(0, 0, color.RGBA{G: 255, A: 255})
	return img
}

func TestProbeSearchFindsTarget(t *testing.T) {
	frame := solid(64, 48, black)
	paint(frame, image.Pt(20, 12), banner())
	capturer := &frameCapturer{frame: frame}

	s, err := NewTemplateSensor(capturer, []Template{NewTemplate("dead_banner", banner(), nil, 0)}, SensorConfig{Stride: 4, Sample: 1})
	require.NoError(t, err)

	region := platform.Rect{X: 100, Y: 200, Width: 64, Height: 48}
	m, err := s.Probe(region, "dead_banner", 0)
	require.NoError(t, err)
	assert.True(t, m.Present)
	assert.InDelta(t, 1.0, m.Score, 1e-9)
	assert.Equal(t, platform.Point{X: 100 + 20 + 4, Y: 200 + 12 + 4}, m.Location)
	assert.Equal(t, region, capturer.region)
}

func TestProbeSearchReachesFarEdges(t *testing.T) {
	// 55 and 37 are off the stride grid
	frame := solid(63, 45, black)
	paint(frame, image.Pt(55, 37), banner())

	s, err := NewTemplateSensor(&frameCapturer{frame: frame}, []Template{NewTemplate("dead_banner", banner(), nil, 0)}, SensorConfig{Stride: 4, Sample: 1})
	require.NoError(t, err)

	m, err := s.Probe(platform.Rect{Width: 63, Height: 45}, "dead_banner", 0)
	require.NoError(t, err)
	assert.True(t, m.Present)
	assert.Equal(t, platform.Point{X: 59, Y: 41}, m.Location)
}

func TestOffsets(t *testing.T) {
	assert.Equal(t, []int{0}, offsets(0, 4))
	assert.Equal(t, []int{0, 4, 8}, offsets(8, 4))
	assert.Equal(t, []int{0, 4, 8, 9}, offsets(9, 4))
}

func TestProbeMiss(t *testing.T) {
	s, err := NewTemplateSensor(&frameCapturer{frame: solid(32, 32, black)},
		[]Template{NewTemplate("dead_banner", banner(), nil, 0)}, SensorConfig{})
	require.NoError(t, err)

	m, err := s.Probe(platform.Rect{Width: 32, Height: 32}, "dead_banner", 0)
	require.NoError(t, err)
	assert.False(t, m.Present)
	assert.Less(t, m.Score, DefaultThreshold)
}

func TestProbeFixedOffset(t *testing.T) {
	frame := solid(32, 32, black)
	paint(frame, image.Pt(10, 10), banner())
	capturer := &frameCapturer{frame: frame}

	templates := []Template{
		NewTemplate("hit", banner(), &platform.Point{X: 10, Y: 10}, 0),
		NewTemplate("off", banner(), &platform.Point{X: 0, Y: 0}, 0),
		NewTemplate("outside", banner(), &platform.Point{X: 30, Y: 30}, 0),
	}
	s, err := NewTemplateSensor(capturer, templates, SensorConfig{})
	require.NoError(t, err)

	m, err := s.Probe(platform.Rect{Width: 32, Height: 32}, "hit", 0)
	require.NoError(t, err)
	assert.True(t, m.Present)
	assert.Equal(t, platform.Point{X: 14, Y: 14}, m.Location)

	m, err = s.Probe(platform.Rect{Width: 32, Height: 32}, "off", 0)
	require.NoError(t, err)
	assert.False(t, m.Present)

	_, err = s.Probe(platform.Rect{Width: 32, Height: 32}, "outside", 0)
	assert.Error(t, err)
}

func TestProbeThresholdPrecedence(t *testing.T) {
	// a dim red banner scores about 0.83 against the template
	frame := solid(16, 16, color.RGBA{R: 128, A: 255})
	tmpl := solid(16, 16, red)
	capturer := &frameCapturer{frame: frame}

	s, err := NewTemplateSensor(capturer, []Template{NewTemplate("dim", tmpl, nil, 0.5)}, SensorConfig{})
	require.NoError(t, err)

	m, err := s.Probe(platform.Rect{Width: 16, Height: 16}, "dim", 0)
	require.NoError(t, err)
	assert.True(t, m.Present, "template threshold applies when probe passes none")

	m, err = s.Probe(platform.Rect{Width: 16, Height: 16}, "dim", 0.95)
	require.NoError(t, err)
	assert.False(t, m.Present, "probe threshold overrides template")
}

func TestProbeErrors(t *testing.T) {
	capturer := &frameCapturer{frame: solid(4, 4, black)}
	s, err := NewTemplateSensor(capturer, []Template{NewTemplate("big", banner(), nil, 0)}, SensorConfig{})
	require.NoError(t, err)

	_, err = s.Probe(platform.Rect{Width: 4, Height: 4}, "missing", 0)
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = s.Probe(platform.Rect{Width: 4, Height: 4}, "big", 0)
	assert.ErrorIs(t, err, ErrTemplateTooLarge)

	capturer.err = errors.New("no display")
	_, err = s.Probe(platform.Rect{Width: 4, Height: 4}, "big", 0)
	assert.ErrorContains(t, err, "no display")
}

func TestNewTemplateSensorRejectsDuplicates(t *testing.T) {
	_, err := NewTemplateSensor(&frameCapturer{}, []Template{
		NewTemplate("a", banner(), nil, 0),
		NewTemplate("a", banner(), nil, 0),
	}, SensorConfig{})
	assert.Error(t, err)

	_, err = NewTemplateSensor(&frameCapturer{}, []Template{{Name: "empty"}}, SensorConfig{})
	assert.Error(t, err)
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banner.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, banner()))
	require.NoError(t, f.Close())

	tmpl, err := LoadTemplate("dead_banner", path, nil, 0.8)
	require.NoError(t, err)
	w, h := tmpl.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)
	assert.Equal(t, 0.8, tmpl.Threshold)

	_, err = LoadTemplate("nope", filepath.Join(t.TempDir(), "missing.png"), nil, 0)
	assert.Error(t, err)
}
