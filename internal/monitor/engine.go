package monitor

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSession is returned when there is no session to act on
var ErrNoSession = errors.New("no monitoring session")

// Engine holds at most one live session
type Engine struct {
	mu      sync.Mutex
	current *Session
	active  func(bool)
}

// NewEngine creates an engine. onActive, if set, is told whenever a session
// starts or stops.
func NewEngine(onActive func(bool)) *Engine {
	return &Engine{active: onActive}
}

// Start starts s and makes it the current session. It fails while another
// session is starting or running.
func (e *Engine) Start(ctx context.Context, s *Session) error {
	e.mu.Lock()
	if e.current != nil && e.current.Status() != StatusStopped {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.current = s
	e.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		e.mu.Lock()
		if e.current == s {
			e.current = nil
		}
		e.mu.Unlock()
		return err
	}
	e.notify(true)
	return nil
}

// Stop stops the current session
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.current
	e.mu.Unlock()

	if s == nil {
		return ErrNoSession
	}
	s.Stop()
	e.notify(false)
	return nil
}

// Current returns the current (possibly stopped) session
func (e *Engine) Current() (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.current != nil
}

func (e *Engine) notify(active bool) {
	if e.active != nil {
		e.active(active)
	}
}
