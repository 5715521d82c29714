// Package tracking tells which request a piece of work belongs to.
//
// A request scope is carried in a context.Context. Every branch that is
// handed the context, whether a nested call, a goroutine, or a continuation
// scheduled on a cooperative engine, sees the scope that was ambient when the
// context was derived. Branches of different requests never share a scope,
// even when they interleave on the same goroutine.
package tracking

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrScopeLeak is returned when a scope is closed while branches started in
// it are still running. It reports a misuse by the host integration and is
// never fatal.
var ErrScopeLeak = errors.New("scope closed with live branches")

// A TimeTeller can tell the current time. This interface is recreated here
// to avoid depending on the recording package. Scopes must be stamped with
// the same clock as the recorded events.
type TimeTeller interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

type scopeKey struct{}

// A Scope is the lifetime during which a ContextID is the ambient
// attribution target.
type Scope struct {
	ID    ContextID
	Start time.Time

	parent   *Scope
	tracker  *Tracker
	closed   atomic.Bool
	branches atomic.Int64
}

// Closed tells if the scope has been closed.
func (s *Scope) Closed() bool {
	return s.closed.Load()
}

// LiveBranches returns the number of branches started with Tracker.Go that
// have not returned yet.
func (s *Scope) LiveBranches() int {
	return int(s.branches.Load())
}

// Close releases the scope. After Close, contexts that carry the scope report
// the nearest open ancestor scope, or no scope at all. Closing a closed scope
// does nothing.
func (s *Scope) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.tracker.live.Add(-1)

	if n := s.branches.Load(); n > 0 {
		return errors.Wrapf(ErrScopeLeak, "scope %s, %d branches", s.ID, n)
	}

	return nil
}

// Tracker opens request scopes.
type Tracker struct {
	idGenerator IDGenerator
	timeTeller  TimeTeller
	live        atomic.Int64
}

// OpenScope creates a new scope and returns a context that carries it. The
// scope of ctx, if any, becomes the parent.
func (t *Tracker) OpenScope(ctx context.Context) (context.Context, *Scope) {
	s := &Scope{
		ID:      t.idGenerator.Generate(),
		Start:   t.timeTeller.Now(),
		parent:  ScopeFrom(ctx),
		tracker: t,
	}

	t.live.Add(1)

	return context.WithValue(ctx, scopeKey{}, s), s
}

// Go runs fn in a new goroutine that inherits ctx. The goroutine counts as a
// live branch of the scope until fn returns.
func (t *Tracker) Go(ctx context.Context, fn func(ctx context.Context)) {
	s := ScopeFrom(ctx)
	if s != nil {
		s.branches.Add(1)
	}

	go func() {
		if s != nil {
			defer s.branches.Add(-1)
		}

		fn(ctx)
	}()
}

// Detach returns a context for work that outlives the request. It carries
// the values of ctx but no scope, and it is not cancelled with ctx.
func (t *Tracker) Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), scopeKey{}, (*Scope)(nil))
}

// NumLive returns the number of scopes that are open.
func (t *Tracker) NumLive() int {
	return int(t.live.Load())
}

// Now returns the time as seen by the tracker.
func (t *Tracker) Now() time.Time {
	return t.timeTeller.Now()
}

// ScopeFrom returns the innermost open scope carried by ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	for s != nil && s.Closed() {
		s = s.parent
	}

	return s
}

// Current returns the ID of the request that work running with ctx is
// attributable to.
func Current(ctx context.Context) (ContextID, bool) {
	s := ScopeFrom(ctx)
	if s == nil {
		return "", false
	}

	return s.ID, true
}
