package statemachine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/platform"
)

// Target names a visual target and the result it yields when present.
type Target struct {
	Name      string    `yaml:"name"`
	Result    ResultKey `yaml:"result,omitempty"`
	Threshold float64   `yaml:"threshold,omitempty"`
}

// Step is one entry of a sequence action.
type Step struct {
	Kind      StepKind              `yaml:"kind"`
	Target    string                `yaml:"target,omitempty"`
	Threshold float64               `yaml:"threshold,omitempty"`
	Point     *platform.Point       `yaml:"point,omitempty"` // region-relative
	Key       string                `yaml:"key,omitempty"`
	Duration  time.Duration         `yaml:"duration,omitempty"`
	Priority  *ioscheduler.Priority `yaml:"priority,omitempty"`
}

// RetryParams bounds the retry flow.
type RetryParams struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinDelay    time.Duration `yaml:"min_delay,omitempty"`
	GiveUp      ResultKey     `yaml:"give_up"`
}

// SequenceRetryParams bounds the sequence_with_retry flow.
type SequenceRetryParams struct {
	MaxAttempts int       `yaml:"max_attempts"`
	Success     ResultKey `yaml:"success,omitempty"`
	Failure     ResultKey `yaml:"failure,omitempty"`
}

// Policy is the declarative description of one state.
type Policy struct {
	Action ActionType `yaml:"action"`

	// detect_only
	Targets []Target  `yaml:"targets,omitempty"`
	Default ResultKey `yaml:"default,omitempty"`

	// detect_and_click
	Target   Target          `yaml:"target,omitempty"`
	Click    *platform.Point `yaml:"click,omitempty"` // region-relative override of the match location
	Success  ResultKey       `yaml:"success,omitempty"`
	NotFound ResultKey       `yaml:"not_found,omitempty"`

	// sequence
	Sequence []Step `yaml:"sequence,omitempty"`

	// time_based_wait
	ExpectedDuration time.Duration `yaml:"expected_duration,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`

	Flow          FlowType            `yaml:"flow"`
	Retry         RetryParams         `yaml:"retry,omitempty"`
	SequenceRetry SequenceRetryParams `yaml:"sequence_retry,omitempty"`

	Priority    *ioscheduler.Priority `yaml:"priority,omitempty"`
	Transitions map[ResultKey]State   `yaml:"transitions"`
}

func (p *Policy) successKey() ResultKey {
	if p.Success != "" {
		return p.Success
	}
	return defaultSuccess
}

func (p *Policy) notFoundKey() ResultKey {
	if p.NotFound != "" {
		return p.NotFound
	}
	return defaultNotFound
}

// missKey is the raw result that counts as a failed attempt in the retry flow.
func (p *Policy) missKey() ResultKey {
	switch p.Action {
	case ActionDetectAndClick:
		return p.notFoundKey()
	case ActionDetectOnly:
		return p.Default
	default:
		return ""
	}
}

func (p *Policy) sequenceSuccessKey() ResultKey {
	if p.SequenceRetry.Success != "" {
		return p.SequenceRetry.Success
	}
	return ResultSequenceComplete
}

func (p *Policy) sequenceFailureKey() ResultKey {
	if p.SequenceRetry.Failure != "" {
		return p.SequenceRetry.Failure
	}
	return defaultSequenceFailure
}

func (p *Policy) priority() ioscheduler.Priority {
	if p.Priority != nil {
		return *p.Priority
	}
	return ioscheduler.PriorityNormal
}

func (p *Policy) stepPriority(step Step) ioscheduler.Priority {
	if step.Priority != nil {
		return *step.Priority
	}
	return p.priority()
}

// Table is a monitor type's complete policy: its declared state set and one
// policy per state. A nil policy declares a passive state that ticks as a
// no-op.
type Table struct {
	Name     string            `yaml:"-"`
	Initial  State             `yaml:"initial"`
	Baseline State             `yaml:"baseline"`
	Critical []State           `yaml:"critical,omitempty"`
	States   map[State]*Policy `yaml:"states"`

	critical map[State]struct{}
}

// ErrUnknownState is returned when a table references an undeclared state.
var ErrUnknownState = errors.New("unknown state")

// PolicyError locates a validation failure inside a table.
type PolicyError struct {
	State State  // empty for table-level fields
	Field string // yaml field name, e.g. "retry.give_up"
	Err   error
}

func (e *PolicyError) Error() string {
	switch {
	case e.State != "" && e.Field != "":
		return fmt.Sprintf("states.%s.%s: %v", e.State, e.Field, e.Err)
	case e.State != "":
		return fmt.Sprintf("states.%s: %v", e.State, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *PolicyError) Unwrap() error { return e.Err }

// Declared reports whether s belongs to the table's state set.
func (t *Table) Declared(s State) bool {
	_, ok := t.States[s]
	return ok
}

// IsCritical reports whether a desktop switch is unsafe while a screen is in s.
func (t *Table) IsCritical(s State) bool {
	if t.critical == nil {
		for _, c := range t.Critical {
			if c == s {
				return true
			}
		}
		return false
	}
	_, ok := t.critical[s]
	return ok
}

func (t *Table) indexCritical() {
	t.critical = make(map[State]struct{}, len(t.Critical))
	for _, s := range t.Critical {
		t.critical[s] = struct{}{}
	}
}

// StateNames returns the declared states in sorted order.
func (t *Table) StateNames() []State {
	out := make([]State, 0, len(t.States))
	for s := range t.States {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TargetNames returns every target the table probes for, sorted.
func (t *Table) TargetNames() []string {
	seen := make(map[string]struct{})
	for _, p := range t.States {
		if p == nil {
			continue
		}
		for _, target := range p.Targets {
			seen[target.Name] = struct{}{}
		}
		if p.Target.Name != "" {
			seen[p.Target.Name] = struct{}{}
		}
		for _, step := range p.Sequence {
			if step.Target != "" {
				seen[step.Target] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Policy returns the policy for s, or nil when s is passive or undeclared.
func (t *Table) Policy(s State) *Policy {
	return t.States[s]
}

// Validate checks the table's structure and its failure containment rule:
// every retrying or timed state must map its give-up, timeout, or failure
// key to a declared state, and every other state besides the baseline must
// have an exit that does not depend on the sensor finding a target.
func (t *Table) Validate() error {
	if len(t.States) == 0 {
		return &PolicyError{Field: "states", Err: errors.New("at least one state is required")}
	}
	if t.Initial == "" {
		return &PolicyError{Field: "initial", Err: errors.New("initial state is required")}
	}
	if !t.Declared(t.Initial) {
		return &PolicyError{Field: "initial", Err: fmt.Errorf("%w %q", ErrUnknownState, t.Initial)}
	}
	if t.Baseline == "" {
		return &PolicyError{Field: "baseline", Err: errors.New("baseline state is required")}
	}
	if !t.Declared(t.Baseline) {
		return &PolicyError{Field: "baseline", Err: fmt.Errorf("%w %q", ErrUnknownState, t.Baseline)}
	}
	for _, s := range t.Critical {
		if !t.Declared(s) {
			return &PolicyError{Field: "critical", Err: fmt.Errorf("%w %q", ErrUnknownState, s)}
		}
	}

	for _, state := range t.StateNames() {
		p := t.States[state]
		if p == nil {
			continue
		}
		if err := t.validatePolicy(state, p); err != nil {
			return err
		}
	}
	t.indexCritical()
	return nil
}

func (t *Table) validatePolicy(state State, p *Policy) error {
	fail := func(field string, format string, args ...any) error {
		return &PolicyError{State: state, Field: field, Err: fmt.Errorf(format, args...)}
	}

	switch p.Action {
	case ActionDetectOnly:
		if len(p.Targets) == 0 {
			return fail("targets", "detect_only requires at least one target")
		}
		for i, target := range p.Targets {
			if target.Name == "" {
				return fail(fmt.Sprintf("targets[%d].name", i), "target name is required")
			}
			if target.Result == "" {
				return fail(fmt.Sprintf("targets[%d].result", i), "result key is required")
			}
		}
	case ActionDetectAndClick:
		if p.Target.Name == "" {
			return fail("target.name", "detect_and_click requires a target")
		}
	case ActionSequence:
		if len(p.Sequence) == 0 {
			return fail("sequence", "sequence requires at least one step")
		}
		for i, step := range p.Sequence {
			if err := validateStep(step); err != nil {
				return fail(fmt.Sprintf("sequence[%d]", i), "%v", err)
			}
		}
	case ActionTimeBasedWait:
		if p.ExpectedDuration <= 0 && p.Timeout <= 0 {
			return fail("timeout", "time_based_wait requires expected_duration or timeout")
		}
		if p.Timeout > 0 && !t.mapsTo(p, ResultTimeoutReached) {
			return fail("transitions", "timeout_reached must map to a declared state")
		}
		if p.Timeout <= 0 && !t.mapsTo(p, ResultDurationPassed) {
			return fail("transitions", "duration_passed must map to a declared state")
		}
	default:
		return fail("action", "action is required")
	}

	switch p.Flow {
	case FlowTrigger, FlowHold:
	case FlowRetry:
		if p.Retry.MaxAttempts <= 0 {
			return fail("retry.max_attempts", "must be > 0")
		}
		if p.Retry.MinDelay < 0 {
			return fail("retry.min_delay", "must be >= 0")
		}
		if p.Retry.GiveUp == "" {
			return fail("retry.give_up", "give_up key is required")
		}
		if !t.mapsTo(p, p.Retry.GiveUp) {
			return fail("transitions", "give_up key %q must map to a declared state", p.Retry.GiveUp)
		}
	case FlowWaitForDuration:
		if p.Action != ActionTimeBasedWait {
			return fail("flow", "wait_for_duration requires action time_based_wait")
		}
	case FlowSequenceWithRetry:
		if p.Action != ActionSequence {
			return fail("flow", "sequence_with_retry requires action sequence")
		}
		if p.SequenceRetry.MaxAttempts <= 0 {
			return fail("sequence_retry.max_attempts", "must be > 0")
		}
		if !t.mapsTo(p, p.sequenceFailureKey()) {
			return fail("transitions", "failure key %q must map to a declared state", p.sequenceFailureKey())
		}
	default:
		return fail("flow", "flow is required")
	}

	for key, next := range p.Transitions {
		if !t.Declared(next) {
			return fail("transitions."+string(key), "%w %q", ErrUnknownState, next)
		}
	}

	if state != t.Baseline && (p.Flow == FlowTrigger || p.Flow == FlowHold) {
		if err := t.checkEscape(state, p); err != nil {
			return fail("transitions", "%v", err)
		}
	}
	return nil
}

// checkEscape requires a trigger or hold state to leave on a result the sensor
// cannot withhold. Without one the state would never exit while its targets
// stay missing.
func (t *Table) checkEscape(state State, p *Policy) error {
	switch p.Action {
	case ActionDetectOnly:
		if p.Default == "" || !t.leaves(state, p, p.Default) {
			return errors.New("default key must lead to another state, or use flow retry")
		}
	case ActionDetectAndClick:
		if !t.leaves(state, p, p.notFoundKey()) {
			return fmt.Errorf("not_found key %q must lead to another state, or use flow retry", p.notFoundKey())
		}
	case ActionSequence:
		for _, step := range p.Sequence {
			if step.Kind == StepWait || step.Kind == StepClick {
				return fmt.Errorf("%s step can stall; use flow sequence_with_retry", step.Kind)
			}
		}
		if !t.leaves(state, p, ResultSequenceComplete) {
			return errors.New("sequence_complete must lead to another state")
		}
	}
	return nil
}

func (t *Table) mapsTo(p *Policy, key ResultKey) bool {
	next, ok := p.Transitions[key]
	return ok && t.Declared(next)
}

func (t *Table) leaves(state State, p *Policy, key ResultKey) bool {
	return t.mapsTo(p, key) && p.Transitions[key] != state
}

func validateStep(step Step) error {
	switch step.Kind {
	case StepWait, StepClick, StepClickIfPresent:
		if step.Target == "" {
			return fmt.Errorf("%s step requires a target", step.Kind)
		}
	case StepImmediate:
		if step.Key == "" && step.Point == nil {
			return errors.New("immediate step requires a key or a point")
		}
	case StepWaitDuration:
		if step.Duration <= 0 {
			return errors.New("wait_duration step requires duration > 0")
		}
	default:
		return errors.New("step kind is required")
	}
	return nil
}
