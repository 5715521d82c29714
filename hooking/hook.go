// Package hooking lets observers attach to the recorder, the scheduler and
// other domains without those domains knowing who is listening.
package hooking

import (
	"reflect"
	"sync"
)

// HookPos defines the enum of possible hooking positions.
type HookPos struct {
	Name string
}

// HookCtx is the context that holds all the information about the site that a
// hook is triggered.
type HookCtx struct {
	// Domain is the hookable object that is raising this hook.
	Domain Hookable

	// Pos identifies where the hook is firing from.
	Pos *HookPos

	// Item carries the primary subject, e.g., a call event.
	Item any

	// Detail holds optional auxiliary data; hook sites may leave it nil.
	Detail any
}

// Hookable defines an object that accept Hooks.
type Hookable interface {
	// AcceptHook registers a hook.
	AcceptHook(hook Hook)

	// NumHooks returns the number of hooks registered.
	NumHooks() int

	// Hooks returns all the hooks registered.
	Hooks() []Hook

	// InvokeHook triggers the registered Hooks.
	InvokeHook(ctx HookCtx)
}

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	// Func determines what to do if hook is invoked.
	Func(ctx HookCtx)
}

// HookFunc adapts a plain function to the Hook interface.
type HookFunc func(ctx HookCtx)

// Func calls f(ctx).
func (f HookFunc) Func(ctx HookCtx) {
	f(ctx)
}

// A HookableBase provides some utility function for other type that implement
// the Hookable interface.
//
// Unlike a simulation component, the domains in this module are shared by
// request goroutines, so hooks may be registered and invoked concurrently.
// Registration replaces the list instead of appending in place, which lets
// InvokeHook iterate over a stable snapshot without holding the lock.
type HookableBase struct {
	lock     sync.RWMutex
	hookList []Hook
}

// NewHookableBase creates a HookableBase object.
func NewHookableBase() *HookableBase {
	return &HookableBase{}
}

// NumHooks returns the number of hooks registered.
func (h *HookableBase) NumHooks() int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return len(h.hookList)
}

// Hooks returns a copy of the hooks registered.
func (h *HookableBase) Hooks() []Hook {
	registered := h.snapshot()
	hooks := make([]Hook, len(registered))
	copy(hooks, registered)

	return hooks
}

// AcceptHook registers a hook. Registering the same hook twice panics.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.mustNotHaveDuplicatedHook(hook)

	hooks := make([]Hook, len(h.hookList), len(h.hookList)+1)
	copy(hooks, h.hookList)
	h.hookList = append(hooks, hook)
}

func (h *HookableBase) mustNotHaveDuplicatedHook(hook Hook) {
	// HookFunc values cannot be compared.
	if !reflect.TypeOf(hook).Comparable() {
		return
	}

	for _, registered := range h.hookList {
		if registered == hook {
			panic("duplicated hook")
		}
	}
}

// InvokeHook triggers the register Hooks.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	for _, hook := range h.snapshot() {
		hook.Func(ctx)
	}
}

func (h *HookableBase) snapshot() []Hook {
	h.lock.RLock()
	hooks := h.hookList
	h.lock.RUnlock()

	return hooks
}

var _ Hookable = (*HookableBase)(nil)
