// Package ioscheduler serializes every physical output action from every
// running monitor into one global order. Submitters never block and never
// learn the outcome of their action.
package ioscheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyStarted is returned when Start is called more than once.
var ErrAlreadyStarted = errors.New("io scheduler already started")

// DefaultDequeueWait is the idle poll interval when Config leaves it unset.
const DefaultDequeueWait = time.Second

// Config holds scheduler settings.
type Config struct {
	// DequeueWait bounds how long the idle worker blocks before re-checking
	// cancellation.
	DequeueWait time.Duration
	Logger      *slog.Logger
}

// Scheduler is the single global serializer for actuator calls.
type Scheduler struct {
	dequeueWait time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	queue  requestQueue
	seq    uint64
	notify chan struct{}

	execMu sync.Mutex

	startOnce sync.Once
	started   bool
	done      chan struct{}
}

// New creates a scheduler. Start must be called before queued actions run.
func New(cfg Config) *Scheduler {
	wait := cfg.DequeueWait
	if wait <= 0 {
		wait = DefaultDequeueWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		dequeueWait: wait,
		logger:      logger.With("component", "io-scheduler"),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	heap.Init(&s.queue)
	return s
}

// Submit enqueues an action without blocking. Equal priorities run in
// submission order.
func (s *Scheduler) Submit(component, screenID string, action Action, priority Priority) {
	if action == nil {
		return
	}

	s.mu.Lock()
	s.seq++
	req := &Request{
		ID:        uuid.NewString(),
		Priority:  priority,
		Seq:       s.seq,
		Submitted: time.Now(),
		Component: component,
		ScreenID:  screenID,
		Action:    action,
	}
	heap.Push(&s.queue, req)
	s.mu.Unlock()

	// Wake the worker if it is idle.
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, not yet started actions.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Start spawns the worker. It runs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		err = nil
		go s.run(ctx)
	})
	return err
}

// Wait blocks until the worker has exited. It returns immediately if the
// scheduler was never started.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.logger.Info("io scheduler started", "dequeue_wait", s.dequeueWait)
	for {
		req, ok := s.dequeue(ctx)
		if ctx.Err() != nil {
			n := s.Pending()
			if ok {
				n++
			}
			if n > 0 {
				s.logger.Info("io scheduler stopped with pending actions", "dropped", n)
			} else {
				s.logger.Info("io scheduler stopped")
			}
			return
		}
		if !ok {
			continue
		}
		s.execute(ctx, req)
	}
}

// dequeue pops the highest-precedence request, waiting at most dequeueWait.
func (s *Scheduler) dequeue(ctx context.Context) (*Request, bool) {
	if req, ok := s.pop(); ok {
		return req, true
	}

	timer := time.NewTimer(s.dequeueWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, false
	case <-timer.C:
		return nil, false
	case <-s.notify:
		return s.pop()
	}
}

func (s *Scheduler) pop() (*Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&s.queue).(*Request), true
}

// execute runs one action under the global lock. Failures and panics are
// logged and discarded.
func (s *Scheduler) execute(ctx context.Context, req *Request) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	logger := s.logger.With(
		"request_id", req.ID,
		"submitter", req.Component,
		"screen", req.ScreenID,
		"priority", req.Priority.String(),
	)

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action panic: %v\n%s", r, debug.Stack())
			}
		}()
		return req.Action(ctx)
	}()
	if err != nil {
		logger.Warn("io action failed", "error", err, "queued_for", time.Since(req.Submitted))
		return
	}
	logger.Debug("io action done", "queued_for", time.Since(req.Submitted))
}
