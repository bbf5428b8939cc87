// Package reactor implements the single-threaded cooperative event loop
// that the rest of the motion planning core runs on: a monotonic clock,
// a sorted timer queue, and a completion/pause primitive used by stall
// detection and drip-mode homing.
//
// This is the host-side analogue of core/scheduler.go's interrupt-driven
// timer list (insertion sort by wake time, wrap-safe comparison) adapted
// from 32-bit MCU ticks to a float64 seconds domain, and of Klipper's
// Python reactor object (monotonic/pause/completion/register_timer).
package reactor

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentPauses bounds how many goroutines may be blocked inside
// Pause at once: a runaway chain of stall/dwell callers (each WaitMoves
// or DripMove loop pauses repeatedly) must not be able to pile up
// unbounded goroutines against a single reactor.
const maxConcurrentPauses = 64

// NEVER is a wake time meaning "do not fire"; NOW means "fire immediately".
const (
	NEVER = 1e18
	NOW   = 0
)

// TimerHandler is invoked when a timer fires. It returns the next wake
// time, or NEVER to stop rescheduling.
type TimerHandler func(eventTime float64) float64

type timerEntry struct {
	wake    float64
	handler TimerHandler
	index   int
	removed bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].wake < h[j].wake }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Clock abstracts wall-clock time so tests can drive a fake clock
// instead of real sleeps; Reactor.Monotonic() always defers to it.
type Clock interface {
	Now() float64
}

// RealClock reports seconds since an arbitrary epoch fixed at process start.
type RealClock struct{ start time.Time }

func NewRealClock() *RealClock { return &RealClock{start: time.Now()} }

func (c *RealClock) Now() float64 { return time.Since(c.start).Seconds() }

// Completion is a one-shot signal, analogous to Klipper's
// reactor.completion(): producers call Complete, consumers call Test
// (non-blocking) or Wait (blocking with a deadline).
type Completion struct {
	mu     sync.Mutex
	done   bool
	result any
	ch     chan struct{}
}

func NewCompletion() *Completion {
	return &Completion{ch: make(chan struct{})}
}

// Complete marks the completion done, waking any Wait callers. It is a
// no-op if already complete.
func (c *Completion) Complete(result any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.result = result
	close(c.ch)
}

// Test reports whether Complete has already been called.
func (c *Completion) Test() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Wait blocks until Complete is called or the deadline (in reactor
// seconds, relative to r.Monotonic()) elapses, returning the completion
// result and whether it fired before the deadline.
func (c *Completion) Wait(r *Reactor, deadline float64) (any, bool) {
	if c.Test() {
		return c.result, true
	}
	timeout := deadline - r.Monotonic()
	if timeout < 0 {
		timeout = 0
	}
	select {
	case <-c.ch:
		return c.result, true
	case <-time.After(time.Duration(timeout * float64(time.Second))):
		return nil, c.Test()
	}
}

// Reactor is the cooperative event loop shared by the toolhead,
// move queue flush timer, and homing's drip-mode wait. Every blocking
// point in the core goes through Pause or
// Completion.Wait so there is exactly one suspension mechanism.
type Reactor struct {
	mu      sync.Mutex
	clock   Clock
	timers  timerHeap
	byID    map[*TimerHandle]*timerEntry
	canPause bool
	pauseSem *semaphore.Weighted
}

// TimerHandle is an opaque reference returned by RegisterTimer, used to
// reschedule or cancel the timer later (UpdateTimer). It is not
// zero-size, so every handle has its own address and map key.
type TimerHandle struct{ _ byte }

// New constructs a Reactor. Pass nil for clock to use RealClock.
func New(clock Clock) *Reactor {
	if clock == nil {
		clock = NewRealClock()
	}
	r := &Reactor{
		clock:    clock,
		byID:     make(map[*TimerHandle]*timerEntry),
		canPause: true,
		pauseSem: semaphore.NewWeighted(maxConcurrentPauses),
	}
	heap.Init(&r.timers)
	return r
}

// Monotonic returns the reactor's current time in seconds.
func (r *Reactor) Monotonic() float64 { return r.clock.Now() }

// RegisterTimer schedules handler to run at waketime (NEVER to disable
// it initially) and returns a handle for future UpdateTimer calls.
func (r *Reactor) RegisterTimer(handler TimerHandler, waketime float64) *TimerHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &TimerHandle{}
	e := &timerEntry{wake: waketime, handler: handler}
	r.byID[h] = e
	if waketime != NEVER {
		heap.Push(&r.timers, e)
	}
	return h
}

// UpdateTimer changes when a previously registered timer fires.
func (r *Reactor) UpdateTimer(h *TimerHandle, waketime float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[h]
	if !ok {
		return
	}
	if e.index >= 0 && e.index < len(r.timers) && r.timers[e.index] == e {
		heap.Remove(&r.timers, e.index)
	}
	e.wake = waketime
	e.removed = false
	if waketime != NEVER {
		heap.Push(&r.timers, e)
	}
}

// SetCanPause toggles whether Pause is allowed to actually block; set
// false after a shutdown so further pauses degrade to no-ops, matching
// toolhead.py's self.can_pause = False in _handle_shutdown.
func (r *Reactor) SetCanPause(v bool) {
	r.mu.Lock()
	r.canPause = v
	r.mu.Unlock()
}

func (r *Reactor) CanPause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canPause
}

// Pause blocks the caller until waketime (reactor seconds) and returns
// the reactor time at wake. If pausing has been disabled (shutdown),
// it returns immediately with the current time.
func (r *Reactor) Pause(waketime float64) float64 {
	if !r.CanPause() {
		return r.Monotonic()
	}
	if err := r.pauseSem.Acquire(context.Background(), 1); err != nil {
		return r.Monotonic()
	}
	defer r.pauseSem.Release(1)
	now := r.Monotonic()
	delay := waketime - now
	if delay > 0 {
		time.Sleep(time.Duration(delay * float64(time.Second)))
	}
	r.pumpDueTimers()
	return r.Monotonic()
}

// pumpDueTimers runs any registered timers whose wake time has passed,
// rescheduling per their returned next wake time. This is the host-side
// analogue of core/scheduler.go's TimerDispatch loop.
func (r *Reactor) pumpDueTimers() {
	for {
		r.mu.Lock()
		if len(r.timers) == 0 {
			r.mu.Unlock()
			return
		}
		top := r.timers[0]
		now := r.clock.Now()
		if top.wake > now {
			r.mu.Unlock()
			return
		}
		heap.Pop(&r.timers)
		r.mu.Unlock()

		next := top.handler(now)
		top.wake = next
		if next != NEVER {
			r.mu.Lock()
			heap.Push(&r.timers, top)
			r.mu.Unlock()
		}
	}
}

// RunPending runs any due timers without blocking; the reactor equivalent
// of a single non-blocking select loop iteration.
func (r *Reactor) RunPending() { r.pumpDueTimers() }
