package feed

import (
	"sort"
	"sync"
)

// Hooks lets a feed attach to the host application's lifecycle. Each register
// call returns a function that removes the hook.
type Hooks interface {
	OnActivate(fn func()) (remove func())
	OnQuit(fn func()) (remove func())
}

// HookSet is a Hooks implementation the host fires explicitly.
type HookSet struct {
	mu       sync.Mutex
	next     int
	activate map[int]func()
	quit     map[int]func()
}

func NewHookSet() *HookSet {
	return &HookSet{activate: make(map[int]func()), quit: make(map[int]func())}
}

func (h *HookSet) OnActivate(fn func()) func() { return h.add(h.activate, fn) }

func (h *HookSet) OnQuit(fn func()) func() { return h.add(h.quit, fn) }

func (h *HookSet) add(m map[int]func(), fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	m[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(m, id)
	}
}

// Activate runs the activation hooks in registration order.
func (h *HookSet) Activate() { h.fire(h.activate) }

// Quit runs the quit hooks in registration order.
func (h *HookSet) Quit() { h.fire(h.quit) }

// Len reports the number of registered hooks.
func (h *HookSet) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.activate) + len(h.quit)
}

func (h *HookSet) fire(m map[int]func()) {
	h.mu.Lock()
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
