package coordinator

import "fmt"

// Desktop identifies a configured virtual desktop.
type Desktop string

const (
	VD1   Desktop = "VD1"
	VD2   Desktop = "VD2"
	Other Desktop = "OTHER"
)

// ParseDesktop accepts VD1, VD2, or OTHER.
func ParseDesktop(s string) (Desktop, error) {
	switch d := Desktop(s); d {
	case VD1, VD2, Other:
		return d, nil
	default:
		return "", fmt.Errorf("unknown desktop %q (want VD1, VD2, or OTHER)", s)
	}
}

// ActiveState is the coordinator's current activity.
type ActiveState int

const (
	StateIdle ActiveState = iota
	StateMonitoringVD1
	StateMonitoringVD2
	StateExecutingTaskVD1
	StateExecutingTaskVD2
	StateSwitching
)

var stateNames = map[ActiveState]string{
	StateIdle:             "IDLE",
	StateMonitoringVD1:    "MONITORING_VD1",
	StateMonitoringVD2:    "MONITORING_VD2",
	StateExecutingTaskVD1: "EXECUTING_TASK_VD1",
	StateExecutingTaskVD2: "EXECUTING_TASK_VD2",
	StateSwitching:        "SWITCHING",
}

func (s ActiveState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ActiveState(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s ActiveState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ActiveState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown coordinator state %q", text)
}

// Monitoring reports whether monitors of the focused desktop run in s.
func (s ActiveState) Monitoring() bool {
	return s == StateMonitoringVD1 || s == StateMonitoringVD2
}

// monitoringState is the monitoring state for d. Desktops other than VD1 and
// VD2 have no monitors and idle instead.
func monitoringState(d Desktop) ActiveState {
	switch d {
	case VD1:
		return StateMonitoringVD1
	case VD2:
		return StateMonitoringVD2
	default:
		return StateIdle
	}
}

func executingState(d Desktop) ActiveState {
	switch d {
	case VD1:
		return StateExecutingTaskVD1
	case VD2:
		return StateExecutingTaskVD2
	default:
		return StateIdle
	}
}
