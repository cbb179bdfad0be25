package statemachine

import (
	"fmt"
	"sort"
	"strings"
)

// State is one automaton state, drawn from a table's declared set.
type State string

// ResultKey is the reduced outcome of an action, used to index transitions.
type ResultKey string

// Reserved result keys produced by the interpreter itself.
const (
	ResultSequenceComplete ResultKey = "sequence_complete"
	ResultDurationPassed   ResultKey = "duration_passed"
	ResultTimeoutReached   ResultKey = "timeout_reached"

	defaultSuccess         ResultKey = "success"
	defaultNotFound        ResultKey = "not_found"
	defaultSequenceFailure ResultKey = "sequence_failed"
)

// ActionType selects what a state does on each tick.
type ActionType int

const (
	actionUnset ActionType = iota
	ActionDetectOnly
	ActionDetectAndClick
	ActionSequence
	ActionTimeBasedWait
)

var actionNames = map[ActionType]string{
	ActionDetectOnly:     "detect_only",
	ActionDetectAndClick: "detect_and_click",
	ActionSequence:       "sequence",
	ActionTimeBasedWait:  "time_based_wait",
}

func (a ActionType) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unset"
}

// MarshalText implements encoding.TextMarshaler.
func (a ActionType) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *ActionType) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), actionNames, "action")
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// FlowType selects how a raw action result becomes a transition key.
type FlowType int

const (
	flowUnset FlowType = iota
	FlowTrigger
	FlowHold
	FlowRetry
	FlowWaitForDuration
	FlowSequenceWithRetry
)

var flowNames = map[FlowType]string{
	FlowTrigger:           "trigger",
	FlowHold:              "hold",
	FlowRetry:             "retry",
	FlowWaitForDuration:   "wait_for_duration",
	FlowSequenceWithRetry: "sequence_with_retry",
}

func (f FlowType) String() string {
	if name, ok := flowNames[f]; ok {
		return name
	}
	return "unset"
}

// MarshalText implements encoding.TextMarshaler.
func (f FlowType) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FlowType) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), flowNames, "flow")
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// StepKind is one step of a sequence action.
type StepKind int

const (
	stepUnset StepKind = iota
	StepWait
	StepClick
	StepClickIfPresent
	StepImmediate
	StepWaitDuration
)

var stepNames = map[StepKind]string{
	StepWait:           "wait",
	StepClick:          "click",
	StepClickIfPresent: "click_if_present",
	StepImmediate:      "immediate",
	StepWaitDuration:   "wait_duration",
}

func (k StepKind) String() string {
	if name, ok := stepNames[k]; ok {
		return name
	}
	return "unset"
}

// MarshalText implements encoding.TextMarshaler.
func (k StepKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StepKind) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), stepNames, "step kind")
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func parseEnum[T comparable](s string, names map[T]string, what string) (T, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for v, name := range names {
		if name == s {
			return v, nil
		}
	}
	var zero T
	valid := make([]string, 0, len(names))
	for _, name := range names {
		valid = append(valid, name)
	}
	sort.Strings(valid)
	return zero, fmt.Errorf("unknown %s %q (want one of: %s)", what, s, strings.Join(valid, ", "))
}
