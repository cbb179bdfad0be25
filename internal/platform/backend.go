package platform

import "image"

// Point is a position in root-window coordinates.
type Point struct {
	X int `yaml:"x" json:"x"`
	Y int `yaml:"y" json:"y"`
}

// Rect describes a rectangular region in screen coordinates.
type Rect struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.Width <= r.X+r.Width && o.Y+o.Height <= r.Y+r.Height
}

// Offset translates a region-relative point into root coordinates.
func (r Rect) Offset(p Point) Point {
	return Point{X: r.X + p.X, Y: r.Y + p.Y}
}

// Center returns the middle of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Match is the result of probing a region for a named target.
type Match struct {
	Present  bool
	Location Point // root coordinates of the target's center when Present
	Score    float64
}

// Sensor reports whether a named visual target is present inside a region.
// Implementations are synchronous; a miss is a normal result, not an error.
type Sensor interface {
	Probe(region Rect, target string, threshold float64) (Match, error)
}

// Actuator performs physical output actions.
type Actuator interface {
	Click(p Point) error
	PressKey(chord string) error
}

// DesktopSwitcher queries and changes the focused virtual desktop.
type DesktopSwitcher interface {
	CurrentDesktop() (int, error)
	SwitchDesktop(index int) error
}

// Capturer grabs pixels for a region of the screen.
type Capturer interface {
	Capture(region Rect) (image.Image, error)
}

// Display describes a physical display.
type Display struct {
	ID     int
	Name   string
	Bounds Rect
}
