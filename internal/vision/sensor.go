package vision

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/1broseidon/vdwatch/internal/platform"
)

const (
	// DefaultThreshold is the minimum score for a match when neither the
	// probe nor the template sets one.
	DefaultThreshold = 0.9
	defaultStride    = 4
	defaultSample    = 2
)

var (
	ErrUnknownTarget    = errors.New("unknown target")
	ErrTemplateTooLarge = errors.New("template larger than region")
)

// SensorConfig holds configuration for a TemplateSensor.
type SensorConfig struct {
	// Stride is the search step in pixels.
	Stride int
	// Sample compares every Sample-th pixel of the template.
	Sample int
	Logger *slog.Logger
}

// TemplateSensor detects targets by comparing captured pixels against PNG
// templates. Score is one minus the mean absolute channel difference.
type TemplateSensor struct {
	capturer  platform.Capturer
	templates map[string]Template
	stride    int
	sample    int
	logger    *slog.Logger
}

// NewTemplateSensor creates a sensor over the given templates.
func NewTemplateSensor(capturer platform.Capturer, templates []Template, cfg SensorConfig) (*TemplateSensor, error) {
	if capturer == nil {
		return nil, errors.New("capturer is required")
	}
	byName := make(map[string]Template, len(templates))
	for _, t := range templates {
		if t.img == nil {
			return nil, fmt.Errorf("template %q has no image", t.Name)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, fmt.Errorf("template %q defined twice", t.Name)
		}
		byName[t.Name] = t
	}

	stride := cfg.Stride
	if stride <= 0 {
		stride = defaultStride
	}
	sample := cfg.Sample
	if sample <= 0 {
		sample = defaultSample
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TemplateSensor{
		capturer:  capturer,
		templates: byName,
		stride:    stride,
		sample:    sample,
		logger:    logger.With("component", "vision"),
	}, nil
}

// Probe captures region and looks for target in it.
func (s *TemplateSensor) Probe(region platform.Rect, target string, threshold float64) (platform.Match, error) {
	tmpl, ok := s.templates[target]
	if !ok {
		return platform.Match{}, fmt.Errorf("%w %q", ErrUnknownTarget, target)
	}
	if threshold <= 0 {
		threshold = tmpl.Threshold
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	shot, err := s.capturer.Capture(region)
	if err != nil {
		return platform.Match{}, fmt.Errorf("capture %s: %w", target, err)
	}
	frame := toRGBA(shot)

	tw, th := tmpl.Size()
	fb := frame.Bounds()
	if tw > fb.Dx() || th > fb.Dy() {
		return platform.Match{}, fmt.Errorf("%w: %s is %dx%d, region is %dx%d",
			ErrTemplateTooLarge, target, tw, th, fb.Dx(), fb.Dy())
	}

	var best float64
	var at image.Point
	if tmpl.Offset != nil {
		at = image.Pt(tmpl.Offset.X, tmpl.Offset.Y)
		if at.X < 0 || at.Y < 0 || at.X+tw > fb.Dx() || at.Y+th > fb.Dy() {
			return platform.Match{}, fmt.Errorf("template %s offset %v falls outside region", target, *tmpl.Offset)
		}
		best = score(frame, tmpl.img, at, s.sample)
	} else {
		best, at = s.search(frame, tmpl.img)
	}

	m := platform.Match{Score: best}
	if best >= threshold {
		m.Present = true
		m.Location = platform.Point{
			X: region.X + at.X + tw/2,
			Y: region.Y + at.Y + th/2,
		}
	}
	s.logger.Debug("probe", "target", target, "score", best, "present", m.Present)
	return m, nil
}

func (s *TemplateSensor) search(frame, tmpl *image.RGBA) (float64, image.Point) {
	tw, th := tmpl.Bounds().Dx(), tmpl.Bounds().Dy()
	maxX, maxY := frame.Bounds().Dx()-tw, frame.Bounds().Dy()-th

	xs, ys := offsets(maxX, s.stride), offsets(maxY, s.stride)
	var best float64
	var at image.Point
	for _, y := range ys {
		for _, x := range xs {
			p := image.Pt(x, y)
			if sc := score(frame, tmpl, p, s.sample); sc > best {
				best, at = sc, p
				if best == 1 {
					return best, at
				}
			}
		}
	}
	return best, at
}

// offsets steps from 0 by stride and always ends on limit, so templates
// flush against the right or bottom edge are still tried.
func offsets(limit, stride int) []int {
	out := make([]int, 0, limit/stride+2)
	for v := 0; v < limit; v += stride {
		out = append(out, v)
	}
	return append(out, limit)
}

// score compares tmpl against frame with tmpl's origin at off. Alpha is
// ignored; fully transparent template pixels are skipped.
func score(frame, tmpl *image.RGBA, off image.Point, sample int) float64 {
	tb := tmpl.Bounds()
	var diff, n uint64
	for y := 0; y < tb.Dy(); y += sample {
		for x := 0; x < tb.Dx(); x += sample {
			ti := tmpl.PixOffset(x, y)
			if tmpl.Pix[ti+3] == 0 {
				continue
			}
			fi := frame.PixOffset(off.X+x, off.Y+y)
			for c := 0; c < 3; c++ {
				diff += absDiff(frame.Pix[fi+c], tmpl.Pix[ti+c])
			}
			n += 3
		}
	}
	if n == 0 {
		return 0
	}
	return 1 - float64(diff)/float64(n*255)
}

func absDiff(a, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}
