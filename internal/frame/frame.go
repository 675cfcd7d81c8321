// Package frame schedules work on animation-frame boundaries so bursts of
// resize and visibility events collapse into one unit of work.
package frame

import (
	"sync"
	"time"
)

// Interval is the length of one frame.
const Interval = 16 * time.Millisecond

// Scheduler runs fn after d. The returned stop function cancels a call that
// has not started yet.
type Scheduler interface {
	After(d time.Duration, fn func()) (stop func() bool)
}

// Real schedules with time.AfterFunc.
type Real struct{}

func (Real) After(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Coalescer runs fn at most once per frame no matter how often Request is
// called within it.
type Coalescer struct {
	sched Scheduler
	fn    func()

	mu      sync.Mutex
	pending bool
	stopped bool
	stop    func() bool
}

func NewCoalescer(sched Scheduler, fn func()) *Coalescer {
	if sched == nil {
		sched = Real{}
	}
	return &Coalescer{sched: sched, fn: fn}
}

// Request schedules fn for the next frame unless one is already pending.
func (c *Coalescer) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending || c.stopped {
		return
	}
	c.pending = true
	c.stop = c.sched.After(Interval, c.fire)
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.stop = nil
	c.mu.Unlock()
	c.fn()
}

// Stop cancels any pending frame and ignores later requests.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	c.pending = false
}

// Manual is a Scheduler driven by the caller, for tests.
type Manual struct {
	mu    sync.Mutex
	queue []*manualTask
}

type manualTask struct {
	fn      func()
	stopped bool
}

func (m *Manual) After(_ time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &manualTask{fn: fn}
	m.queue = append(m.queue, task)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		wasPending := !task.stopped
		task.stopped = true
		return wasPending
	}
}

// Pending counts scheduled calls that have neither run nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, task := range m.queue {
		if !task.stopped {
			n++
		}
	}
	return n
}

// Flush runs every scheduled call, including ones scheduled while flushing.
func (m *Manual) Flush() int {
	ran := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return ran
		}
		task := m.queue[0]
		m.queue = m.queue[1:]
		skip := task.stopped
		task.stopped = true
		m.mu.Unlock()
		if !skip {
			task.fn()
			ran++
		}
	}
}
