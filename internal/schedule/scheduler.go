package schedule

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler fires daily triggers. Each trigger fires at most once per
// occurrence: an occurrence is due when it falls after the previous poll and
// at or before the current one, so a daemon started after a trigger's time
// waits for the next day rather than firing late.
type Scheduler struct {
	mu       sync.Mutex
	triggers []Trigger
	last     time.Time
	logger   *slog.Logger
}

// NewScheduler creates a scheduler that considers occurrences after start.
func NewScheduler(triggers []Trigger, start time.Time, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		triggers: append([]Trigger(nil), triggers...),
		last:     start,
		logger:   logger.With("component", "task-scheduler"),
	}
}

// Due returns the tasks whose trigger time passed since the previous call,
// in trigger order.
func (s *Scheduler) Due(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !now.After(s.last) {
		return nil
	}

	var due []Task
	for _, trig := range s.triggers {
		at := trig.At.latest(now)
		if at.After(s.last) {
			due = append(due, trig.Task)
			s.logger.Debug("task due", "task", trig.Task.Key, "at", trig.At.String())
		}
	}
	s.last = now
	return due
}

// Replace swaps the trigger set. Occurrences already passed are not
// re-fired.
func (s *Scheduler) Replace(triggers []Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append([]Trigger(nil), triggers...)
	s.logger.Info("task triggers replaced", "count", len(triggers))
}

// Triggers returns a copy of the current trigger set.
func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Trigger(nil), s.triggers...)
}
