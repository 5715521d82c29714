// Package scheduling provides a cooperative engine that interleaves many
// logical branches on a single goroutine.
//
// A branch is written as a chain of steps. A step that needs to wait, e.g.,
// for downstream I/O, schedules its continuation with Yield and returns. The
// engine then runs whichever branch is ready next. Each continuation carries
// the context that was passed when it was scheduled, so a branch resumes
// with its own context no matter what ran in between.
package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sarchlab/servertiming/hooking"
)

// A list of hook positions that the Engine triggers. The item is a StepInfo.
var (
	HookPosBeforeStep = &hooking.HookPos{Name: "BeforeStep"}
	HookPosAfterStep  = &hooking.HookPos{Name: "AfterStep"}
)

// Step is a piece of a branch that runs without suspending.
type Step func(ctx context.Context)

// StepInfo describes the step a hook is invoked around.
type StepInfo struct {
	Ctx context.Context
	At  time.Duration
}

// Engine runs steps one at a time, in virtual time order.
type Engine struct {
	*hooking.HookableBase

	origin time.Time

	timeLock sync.RWMutex
	now      time.Duration
	ambient  context.Context

	queue *continuationQueue

	singleRunLock sync.Mutex
}

// NewEngine creates an Engine whose virtual clock starts at origin.
func NewEngine(origin time.Time) *Engine {
	return &Engine{
		HookableBase: hooking.NewHookableBase(),
		origin:       origin,
		queue:        newContinuationQueue(),
	}
}

// Spawn schedules a new branch to start at the current virtual time.
func (e *Engine) Spawn(ctx context.Context, step Step) {
	e.schedule(ctx, 0, step)
}

// Yield schedules the continuation of a branch after delay of virtual time.
// The caller should return right after Yield.
func (e *Engine) Yield(ctx context.Context, delay time.Duration, step Step) {
	if delay < 0 {
		panic(fmt.Sprintf("scheduling: negative delay %s", delay))
	}

	e.schedule(ctx, delay, step)
}

func (e *Engine) schedule(ctx context.Context, delay time.Duration, step Step) {
	if ctx == nil {
		panic("scheduling: nil context")
	}

	e.queue.Push(&continuation{
		ctx:  ctx,
		at:   e.CurrentTime() + delay,
		step: step,
	})
}

// Run processes scheduled steps until none is left.
func (e *Engine) Run() {
	e.singleRunLock.Lock()
	defer e.singleRunLock.Unlock()

	for {
		c := e.queue.Pop()
		if c == nil {
			return
		}

		e.enter(c)

		info := StepInfo{Ctx: c.ctx, At: c.at}
		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosBeforeStep,
			Item:   info,
		})

		c.step(c.ctx)

		e.InvokeHook(hooking.HookCtx{
			Domain: e,
			Pos:    HookPosAfterStep,
			Item:   info,
		})

		e.leave()
	}
}

func (e *Engine) enter(c *continuation) {
	e.timeLock.Lock()
	defer e.timeLock.Unlock()

	if c.at < e.now {
		panic(fmt.Sprintf(
			"scheduling: cannot run step in the past, step @ %s, now %s",
			c.at, e.now))
	}

	e.now = c.at
	e.ambient = c.ctx
}

func (e *Engine) leave() {
	e.timeLock.Lock()
	e.ambient = nil
	e.timeLock.Unlock()
}

// Ambient returns the context of the step that is running. Outside of a
// step, it returns context.Background().
func (e *Engine) Ambient() context.Context {
	e.timeLock.RLock()
	defer e.timeLock.RUnlock()

	if e.ambient == nil {
		return context.Background()
	}

	return e.ambient
}

// CurrentTime returns the virtual time elapsed since origin.
func (e *Engine) CurrentTime() time.Duration {
	e.timeLock.RLock()
	defer e.timeLock.RUnlock()

	return e.now
}

// Now returns the virtual wall-clock time. It lets a recorder or a tracker
// run on the engine's clock.
func (e *Engine) Now() time.Time {
	return e.origin.Add(e.CurrentTime())
}

// Pending returns the number of steps waiting to run.
func (e *Engine) Pending() int {
	return e.queue.Len()
}
