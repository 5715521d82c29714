// Package middleware reports the time that a request spent in tracked
// functions as a Server-Timing response header.
//
// For every request, the middleware opens a tracking scope, serves the
// request, and, right before the response header is sent, aggregates the
// calls recorded since the scope opened. Instrumentation is observability
// only. If the source cannot record, or if anything else goes wrong, the
// request is served without the header.
package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/felixge/httpsnoop"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sarchlab/servertiming/aggregation"
	"github.com/sarchlab/servertiming/guard"
	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/timingheader"
	"github.com/sarchlab/servertiming/tracking"
)

// Middleware adds the Server-Timing header to responses.
type Middleware struct {
	source      recording.Source
	groups      aggregation.Groups
	tracker     *tracking.Tracker
	guard       *guard.Guard
	overwrite   timingheader.OverwriteBehavior
	emptyHeader bool
	headerName  string
	logger      log.Logger

	unavailable atomic.Bool
}

// Tracker returns the tracker that opens request scopes.
func (m *Middleware) Tracker() *tracking.Tracker {
	return m.tracker
}

// Guard returns the memory guard of the event source.
func (m *Middleware) Guard() *guard.Guard {
	return m.guard
}

// Groups returns the groups that are reported.
func (m *Middleware) Groups() aggregation.Groups {
	return m.groups
}

// Source returns the event source.
func (m *Middleware) Source() recording.Source {
	return m.source
}

// Wrap returns a handler that times next. Its signature matches
// mux.MiddlewareFunc.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.ensureRecording() {
			next.ServeHTTP(w, r)
			return
		}

		ctx, scope := m.tracker.OpenScope(r.Context())
		defer m.closeScope(scope)

		resp := &timedResponse{
			middleware: m,
			scope:      scope,
			header:     w.Header(),
		}

		next.ServeHTTP(resp.wrap(w), r.WithContext(ctx))

		resp.finish()
	})
}

func (m *Middleware) ensureRecording() bool {
	if m.source.IsActive() {
		return true
	}

	err := m.source.Start()
	if err != nil {
		if m.unavailable.CompareAndSwap(false, true) {
			level.Warn(m.logger).Log(
				"msg", "event source unavailable, timings are not reported",
				"err", err,
			)
		}

		return false
	}

	if m.unavailable.CompareAndSwap(true, false) {
		level.Info(m.logger).Log("msg", "event source recording again")
	}

	return true
}

func (m *Middleware) closeScope(scope *tracking.Scope) {
	err := scope.Close()
	if err != nil {
		level.Warn(m.logger).Log(
			"msg", "request scope closed with live branches",
			"ctx_id", scope.ID,
			"err", err,
		)
	}
}

func (m *Middleware) writeTimings(header http.Header, scope *tracking.Scope) {
	result := aggregation.Aggregate(
		scope.ID, scope.Start, m.groups, m.source.DrainSince(scope.Start))

	existing := strings.Join(header.Values(m.headerName), ", ")
	value := timingheader.Merge(existing, result.Metrics(), m.overwrite)

	switch {
	case value != "":
		header.Set(m.headerName, value)
	case m.emptyHeader:
		header.Set(m.headerName, "")
	}

	level.Debug(m.logger).Log(
		"msg", "request timed",
		"ctx_id", scope.ID,
		"groups", result.Len(),
	)

	m.maintain()
}

func (m *Middleware) maintain() {
	_, err := m.guard.Check()
	if err != nil {
		level.Warn(m.logger).Log("msg", "memory guard check failed", "err", err)
	}
}

// timedResponse writes the timings into the header right before the header
// is sent.
type timedResponse struct {
	middleware *Middleware
	scope      *tracking.Scope
	header     http.Header
	once       sync.Once
}

func (t *timedResponse) finish() {
	t.once.Do(func() {
		t.middleware.writeTimings(t.header, t.scope)
	})
}

func (t *timedResponse) wrap(w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if !isInformational(code) {
					t.finish()
				}

				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				t.finish()
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				t.finish()
				return next(src)
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				t.finish()
				next()
			}
		},
	})
}

// Informational responses are followed by the final one, which carries the
// timings.
func isInformational(code int) bool {
	return code >= 100 && code < 200 && code != http.StatusSwitchingProtocols
}
