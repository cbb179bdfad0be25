package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/platform"
)

// Submitter accepts physical actions for serialized execution.
type Submitter interface {
	Submit(component, screenID string, action ioscheduler.Action, priority ioscheduler.Priority)
}

// EngineConfig wires an engine to its table and collaborators.
type EngineConfig struct {
	Component string
	Table     *Table
	Sensor    platform.Sensor
	Actuator  platform.Actuator
	IO        Submitter
	Store     *Store
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine interprets one policy table for any number of screens. It holds no
// per-screen state, so a single engine may serve every screen of a monitor.
type Engine struct {
	component string
	table     *Table
	sensor    platform.Sensor
	actuator  platform.Actuator
	io        Submitter
	store     *Store
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine validates the table and returns an engine bound to it.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Table == nil {
		return nil, fmt.Errorf("policy table is required")
	}
	if cfg.Sensor == nil {
		return nil, fmt.Errorf("sensor is required")
	}
	if cfg.Actuator == nil {
		return nil, fmt.Errorf("actuator is required")
	}
	if cfg.IO == nil {
		return nil, fmt.Errorf("io scheduler is required")
	}
	if err := cfg.Table.Validate(); err != nil {
		if cfg.Table.Name != "" {
			return nil, fmt.Errorf("policy %q: %w", cfg.Table.Name, err)
		}
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	store := cfg.Store
	if store == nil {
		store = NewStore()
	}
	component := cfg.Component
	if component == "" {
		component = cfg.Table.Name
	}

	return &Engine{
		component: component,
		table:     cfg.Table,
		sensor:    cfg.Sensor,
		actuator:  cfg.Actuator,
		io:        cfg.IO,
		store:     store,
		logger:    logger.With("component", "state-machine", "monitor", component),
		now:       now,
	}, nil
}

// Table returns the engine's policy table.
func (e *Engine) Table() *Table { return e.table }

// Store returns the store the engine publishes to.
func (e *Engine) Store() *Store { return e.store }

// NewScreen creates a screen in the table's initial state and publishes it.
func (e *Engine) NewScreen(id string, region platform.Rect) *Screen {
	s := &Screen{ID: id, Monitor: e.component, Region: region}
	s.enter(e.table.Initial, e.now())
	e.store.Publish(s.Status())
	return s
}

// Tick runs one non-blocking step of the screen's automaton and reports
// whether the screen changed state.
func (e *Engine) Tick(s *Screen) bool {
	now := e.now()

	policy := e.table.Policy(s.state)
	if policy == nil {
		return false
	}

	raw := e.runAction(s, policy, now)
	key := e.reduce(s, policy, raw, now)
	if key == "" {
		return false
	}

	next, ok := policy.Transitions[key]
	if !ok || next == s.state {
		return false
	}
	if !e.table.Declared(next) {
		e.logger.Warn("ignoring transition to undeclared state",
			"screen", s.ID, "from", s.state, "result", key, "to", next)
		return false
	}

	from := s.state
	s.enter(next, now)
	e.store.Publish(s.Status())
	e.logger.Info("state transition",
		"screen", s.ID, "from", from, "to", next, "result", key)
	return true
}

func (e *Engine) runAction(s *Screen, p *Policy, now time.Time) ResultKey {
	switch p.Action {
	case ActionDetectOnly:
		return e.detectOnly(s, p)
	case ActionDetectAndClick:
		return e.detectAndClick(s, p)
	case ActionSequence:
		return e.sequenceStep(s, p, now)
	case ActionTimeBasedWait:
		return timeBasedWait(s, p, now)
	default:
		return ""
	}
}

func (e *Engine) detectOnly(s *Screen, p *Policy) ResultKey {
	for _, target := range p.Targets {
		if m := e.probe(s, target.Name, target.Threshold); m.Present {
			return target.Result
		}
	}
	return p.Default
}

func (e *Engine) detectAndClick(s *Screen, p *Policy) ResultKey {
	m := e.probe(s, p.Target.Name, p.Target.Threshold)
	if !m.Present {
		return p.notFoundKey()
	}
	e.submitClick(s, clickPoint(s.Region, p.Click, m), p.priority())
	return p.successKey()
}

// sequenceStep executes at most one step. A step that cannot complete yet
// leaves the index where it is and is re-evaluated on the next tick.
func (e *Engine) sequenceStep(s *Screen, p *Policy, now time.Time) ResultKey {
	if s.stepIndex >= len(p.Sequence) {
		s.stepIndex = 0
	}
	step := p.Sequence[s.stepIndex]

	advance := false
	switch step.Kind {
	case StepWait:
		advance = e.probe(s, step.Target, step.Threshold).Present
	case StepClick:
		if m := e.probe(s, step.Target, step.Threshold); m.Present {
			e.submitClick(s, clickPoint(s.Region, step.Point, m), p.stepPriority(step))
			advance = true
		}
	case StepClickIfPresent:
		if m := e.probe(s, step.Target, step.Threshold); m.Present {
			e.submitClick(s, clickPoint(s.Region, step.Point, m), p.stepPriority(step))
		}
		advance = true
	case StepImmediate:
		if step.Point != nil {
			e.submitClick(s, s.Region.Offset(*step.Point), p.stepPriority(step))
		}
		if step.Key != "" {
			e.submitKey(s, step.Key, p.stepPriority(step))
		}
		advance = true
	case StepWaitDuration:
		switch {
		case s.stepDeadline.IsZero():
			s.stepDeadline = now.Add(step.Duration)
		case !now.Before(s.stepDeadline):
			s.stepDeadline = time.Time{}
			advance = true
		}
	}

	if !advance {
		return ""
	}
	s.stepIndex++
	if s.stepIndex >= len(p.Sequence) {
		s.stepIndex = 0
		return ResultSequenceComplete
	}
	return ""
}

func timeBasedWait(s *Screen, p *Policy, now time.Time) ResultKey {
	elapsed := now.Sub(s.enteredAt)
	if p.Timeout > 0 && elapsed >= p.Timeout {
		return ResultTimeoutReached
	}
	if p.ExpectedDuration > 0 && elapsed >= p.ExpectedDuration {
		return ResultDurationPassed
	}
	return ""
}

func (e *Engine) reduce(s *Screen, p *Policy, raw ResultKey, now time.Time) ResultKey {
	switch p.Flow {
	case FlowRetry:
		return reduceRetry(s, p, raw, now)
	case FlowSequenceWithRetry:
		return reduceSequenceRetry(s, p, raw)
	case FlowWaitForDuration:
		if raw == ResultDurationPassed || raw == ResultTimeoutReached {
			return raw
		}
		return ""
	default:
		return raw
	}
}

func reduceRetry(s *Screen, p *Policy, raw ResultKey, now time.Time) ResultKey {
	if raw != "" && raw != p.missKey() {
		s.retryCount = 0
		s.lastRetryAt = time.Time{}
		return raw
	}
	if !s.lastRetryAt.IsZero() && now.Sub(s.lastRetryAt) < p.Retry.MinDelay {
		return ""
	}
	s.retryCount++
	s.lastRetryAt = now
	if s.retryCount > p.Retry.MaxAttempts {
		s.retryCount = 0
		s.lastRetryAt = time.Time{}
		return p.Retry.GiveUp
	}
	return ""
}

func reduceSequenceRetry(s *Screen, p *Policy, raw ResultKey) ResultKey {
	if raw == ResultSequenceComplete {
		s.sequenceAttempts = 0
		return p.sequenceSuccessKey()
	}
	s.sequenceAttempts++
	if s.sequenceAttempts > p.SequenceRetry.MaxAttempts {
		s.sequenceAttempts = 0
		s.stepIndex = 0
		s.stepDeadline = time.Time{}
		return p.sequenceFailureKey()
	}
	return ""
}

// probe treats sensor errors as a miss.
func (e *Engine) probe(s *Screen, target string, threshold float64) platform.Match {
	m, err := e.sensor.Probe(s.Region, target, threshold)
	if err != nil {
		e.logger.Debug("probe failed", "screen", s.ID, "target", target, "error", err)
		return platform.Match{}
	}
	return m
}

func (e *Engine) submitClick(s *Screen, at platform.Point, priority ioscheduler.Priority) {
	actuator := e.actuator
	e.io.Submit(e.component, s.ID, func(context.Context) error {
		return actuator.Click(at)
	}, priority)
}

func (e *Engine) submitKey(s *Screen, chord string, priority ioscheduler.Priority) {
	actuator := e.actuator
	e.io.Submit(e.component, s.ID, func(context.Context) error {
		return actuator.PressKey(chord)
	}, priority)
}

// clickPoint prefers a region-relative override, then the location of a
// present match, then the region's center.
func clickPoint(region platform.Rect, override *platform.Point, m platform.Match) platform.Point {
	if override != nil {
		return region.Offset(*override)
	}
	if m.Present {
		return m.Location
	}
	return region.Center()
}
