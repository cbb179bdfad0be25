package config

import (
	"time"

	"github.com/1broseidon/vdwatch/internal/ioscheduler"
	"github.com/1broseidon/vdwatch/internal/statemachine"
)

// BuiltinPolicies returns the built-in policy library.
//
// These are always available without defining them in YAML. A file may
// define a policy with the same name to replace one. Each call returns fresh
// tables.
func BuiltinPolicies() map[string]*statemachine.Table {
	return map[string]*statemachine.Table{
		"combat": combatPolicy(),
		"system": systemPolicy(),
	}
}

func priority(p ioscheduler.Priority) *ioscheduler.Priority { return &p }

type transitions = map[statemachine.ResultKey]statemachine.State

// combatPolicy watches for a death banner, clicks revive, waits to reach a
// safe zone, and repairs before returning to normal.
func combatPolicy() *statemachine.Table {
	return &statemachine.Table{
		Name:     "combat",
		Initial:  "NORMAL",
		Baseline: "NORMAL",
		Critical: []statemachine.State{"DEAD", "RECOVERING", "SAFE_ZONE"},
		States: map[statemachine.State]*statemachine.Policy{
			"NORMAL": {
				Action: statemachine.ActionDetectOnly,
				Targets: []statemachine.Target{
					{Name: "dead_banner", Result: "dead"},
				},
				Flow:        statemachine.FlowTrigger,
				Transitions: transitions{"dead": "DEAD"},
			},
			"DEAD": {
				Action:   statemachine.ActionDetectAndClick,
				Target:   statemachine.Target{Name: "revive_button"},
				Flow:     statemachine.FlowRetry,
				Retry:    statemachine.RetryParams{MaxAttempts: 10, MinDelay: 2 * time.Second, GiveUp: "give_up"},
				Priority: priority(ioscheduler.PriorityUrgent),
				Transitions: transitions{
					"success": "RECOVERING",
					"give_up": "NORMAL",
				},
			},
			"RECOVERING": {
				Action: statemachine.ActionDetectOnly,
				Targets: []statemachine.Target{
					{Name: "safe_zone", Result: "safe"},
					{Name: "dead_banner", Result: "dead"},
				},
				Flow:  statemachine.FlowRetry,
				Retry: statemachine.RetryParams{MaxAttempts: 30, MinDelay: 2 * time.Second, GiveUp: "give_up"},
				Transitions: transitions{
					"safe":    "SAFE_ZONE",
					"dead":    "DEAD",
					"give_up": "NORMAL",
				},
			},
			"SAFE_ZONE": {
				Action: statemachine.ActionSequence,
				Sequence: []statemachine.Step{
					{Kind: statemachine.StepWaitDuration, Duration: 3 * time.Second},
					{Kind: statemachine.StepClickIfPresent, Target: "repair_button"},
					{Kind: statemachine.StepImmediate, Key: "Escape"},
				},
				Flow:          statemachine.FlowSequenceWithRetry,
				SequenceRetry: statemachine.SequenceRetryParams{MaxAttempts: 20},
				Priority:      priority(ioscheduler.PriorityHigh),
				Transitions: transitions{
					statemachine.ResultSequenceComplete: "NORMAL",
					"sequence_failed":                   "NORMAL",
				},
			},
		},
	}
}

// systemPolicy handles client-level interruptions: disconnects and update
// prompts.
func systemPolicy() *statemachine.Table {
	return &statemachine.Table{
		Name:     "system",
		Initial:  "NORMAL",
		Baseline: "NORMAL",
		Critical: []statemachine.State{"DISCONNECTED", "RECONNECTING"},
		States: map[statemachine.State]*statemachine.Policy{
			"NORMAL": {
				Action: statemachine.ActionDetectOnly,
				Targets: []statemachine.Target{
					{Name: "disconnect_dialog", Result: "disconnected"},
					{Name: "update_prompt", Result: "update"},
				},
				Flow: statemachine.FlowTrigger,
				Transitions: transitions{
					"disconnected": "DISCONNECTED",
					"update":       "UPDATE_PROMPT",
				},
			},
			"DISCONNECTED": {
				Action:   statemachine.ActionDetectAndClick,
				Target:   statemachine.Target{Name: "reconnect_button"},
				Flow:     statemachine.FlowRetry,
				Retry:    statemachine.RetryParams{MaxAttempts: 5, MinDelay: 5 * time.Second, GiveUp: "give_up"},
				Priority: priority(ioscheduler.PriorityHigh),
				Transitions: transitions{
					"success": "RECONNECTING",
					"give_up": "NORMAL",
				},
			},
			"RECONNECTING": {
				Action:           statemachine.ActionTimeBasedWait,
				ExpectedDuration: 20 * time.Second,
				Timeout:          2 * time.Minute,
				Flow:             statemachine.FlowWaitForDuration,
				Transitions: transitions{
					statemachine.ResultDurationPassed: "NORMAL",
					statemachine.ResultTimeoutReached: "NORMAL",
				},
			},
			"UPDATE_PROMPT": {
				Action:   statemachine.ActionDetectAndClick,
				Target:   statemachine.Target{Name: "update_dismiss"},
				Flow:     statemachine.FlowTrigger,
				Priority: priority(ioscheduler.PriorityLow),
				Transitions: transitions{
					"success":   "NORMAL",
					"not_found": "NORMAL",
				},
			},
		},
	}
}
