// Package router picks the top-level screen stack from the session.
package router

import (
	"sync"

	"github.com/snapshare/client/internal/model"
)

// Stack is a top-level navigation stack.
type Stack int

const (
	StackLoading Stack = iota
	StackUnauthenticated
	StackAuthenticated
)

func (s Stack) String() string {
	switch s {
	case StackLoading:
		return "loading"
	case StackUnauthenticated:
		return "unauthenticated"
	case StackAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Route maps a session snapshot to the stack that should be shown.
func Route(s model.Session) Stack {
	switch {
	case s.IsLoading:
		return StackLoading
	case s.User != nil:
		return StackAuthenticated
	default:
		return StackUnauthenticated
	}
}

// SessionSource is the part of the session store the router reads.
type SessionSource interface {
	Current() model.Session
	Watch(fn func(model.Session)) func()
}

// Navigator is told about every stack change.
type Navigator func(Stack)

// Router follows the session and calls the navigator when the stack changes.
type Router struct {
	nav Navigator

	// navMu orders navigator calls.
	navMu sync.Mutex

	mu      sync.Mutex
	current Stack
	routed  bool
	cancel  func()
}

// New subscribes to the session, then routes its current value unless a
// change has already been routed.
func New(src SessionSource, nav Navigator) *Router {
	r := &Router{nav: nav}
	cancel := src.Watch(r.update)

	r.navMu.Lock()
	r.mu.Lock()
	routed := r.routed
	r.mu.Unlock()
	if !routed {
		r.applyLocked(src.Current())
	}
	r.navMu.Unlock()

	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	return r
}

// Current returns the stack last routed to.
func (r *Router) Current() Stack {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Close stops following the session.
func (r *Router) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Router) update(s model.Session) {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	r.applyLocked(s)
}

// applyLocked routes s and calls the navigator on a change. The caller holds navMu.
func (r *Router) applyLocked(s model.Session) {
	next := Route(s)

	r.mu.Lock()
	changed := !r.routed || next != r.current
	r.current = next
	r.routed = true
	r.mu.Unlock()

	if changed && r.nav != nil {
		r.nav(next)
	}
}
