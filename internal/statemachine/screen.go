package statemachine

import (
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/vdwatch/internal/platform"
)

// Screen is one tracked capture region and its automaton fields. The fields
// are owned by the monitor goroutine that ticks the screen; other goroutines
// read published states through a Store instead.
type Screen struct {
	ID      string
	Monitor string
	Region  platform.Rect

	state            State
	enteredAt        time.Time
	retryCount       int
	lastRetryAt      time.Time
	stepIndex        int
	stepDeadline     time.Time
	sequenceAttempts int
}

// State returns the screen's current state.
func (s *Screen) State() State { return s.state }

// EnteredAt returns when the current state was entered.
func (s *Screen) EnteredAt() time.Time { return s.enteredAt }

// RetryCount returns the counted attempts of the retry flow.
func (s *Screen) RetryCount() int { return s.retryCount }

// StepIndex returns the next sequence step to run.
func (s *Screen) StepIndex() int { return s.stepIndex }

// StepDeadline returns the armed wait_duration deadline, or the zero time.
func (s *Screen) StepDeadline() time.Time { return s.stepDeadline }

// SequenceAttempts returns the ticks spent in the current sequence attempt.
func (s *Screen) SequenceAttempts() int { return s.sequenceAttempts }

// enter moves the screen to next and zeroes every retry, sequence, and timer
// field.
func (s *Screen) enter(next State, now time.Time) {
	s.state = next
	s.enteredAt = now
	s.retryCount = 0
	s.lastRetryAt = time.Time{}
	s.stepIndex = 0
	s.stepDeadline = time.Time{}
	s.sequenceAttempts = 0
}

// Status returns the screen's publishable view.
func (s *Screen) Status() ScreenStatus {
	return ScreenStatus{
		ScreenID:  s.ID,
		Monitor:   s.Monitor,
		State:     s.state,
		EnteredAt: s.enteredAt,
	}
}

// ScreenStatus is the published, read-only view of a screen.
type ScreenStatus struct {
	ScreenID  string    `json:"screen_id"`
	Monitor   string    `json:"monitor"`
	State     State     `json:"state"`
	EnteredAt time.Time `json:"entered_at"`
}

// Store holds the latest published state of every live screen. Monitors write
// on transitions; the coordinator's safety gate and the IPC status handler
// read. Reads may be stale by up to one tick.
type Store struct {
	mu      sync.RWMutex
	screens map[string]ScreenStatus
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{screens: make(map[string]ScreenStatus)}
}

// Publish records the status of one screen.
func (st *Store) Publish(status ScreenStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.screens[status.ScreenID] = status
}

// Get returns the published status of a screen.
func (st *Store) Get(screenID string) (ScreenStatus, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	status, ok := st.screens[screenID]
	return status, ok
}

// Remove forgets the given screens.
func (st *Store) Remove(screenIDs ...string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, id := range screenIDs {
		delete(st.screens, id)
	}
}

// Snapshot returns every published status sorted by monitor, then screen.
func (st *Store) Snapshot() []ScreenStatus {
	st.mu.RLock()
	out := make([]ScreenStatus, 0, len(st.screens))
	for _, status := range st.screens {
		out = append(out, status)
	}
	st.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Monitor != out[j].Monitor {
			return out[i].Monitor < out[j].Monitor
		}
		return out[i].ScreenID < out[j].ScreenID
	})
	return out
}
