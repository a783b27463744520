// Package reactor implements the daemon's single-threaded cooperative
// multiplexer: one goroutine owns a poller and a timer heap, dispatching
// ready file descriptor callbacks and expired timer callbacks from RunOnce.
// No other goroutine may call Add/Modify/Remove/RunOnce concurrently with
// RunOnce itself; WakeFromSignal is the one operation safe to call from any
// goroutine, intended for a SIGCHLD handler that needs to interrupt a
// blocked RunOnce.
package reactor

import (
	"container/heap"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"
)

// Mode selects which readiness a registered fd is polled for.
type Mode int

const (
	ModeRead Mode = 1 << iota
	ModeWrite
)

const ModeReadWrite = ModeRead | ModeWrite

// Callback is invoked with the readiness that fired and whether the fd
// reported a hard error. It must not block, and may call Add/Modify/Remove
// on any fd, including its own.
type Callback func(readable, writable, hardError bool)

// TimerCallback is invoked when a timer's absolute time has passed.
type TimerCallback func(data any)

var (
	ErrClosed          = errors.New("reactor: closed")
	ErrNotRegistered   = errors.New("reactor: fd not registered")
	ErrAlreadyAdded    = errors.New("reactor: fd already registered")
	ErrUnknownTimer    = errors.New("reactor: unknown timer id")
	ErrWrongGoroutine  = errors.New("reactor: called from outside the reactor goroutine")
	ErrReentrantRunOnce = errors.New("reactor: RunOnce called re-entrantly")
)

type fdEntry struct {
	mode Mode
	cb   Callback
}

// TimerID identifies a scheduled timer for UpdateTimer/RemoveTimer.
type TimerID uint64

type timerEntry struct {
	id      TimerID
	when    time.Time
	cb      TimerCallback
	data    any
	index   int
	removed bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
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
	e.index = -1
	*h = old[:n-1]
	return e
}

// Reactor is the single-threaded fd/timer multiplexer.
type Reactor struct {
	poller poller
	fds    map[int]*fdEntry

	timers     timerHeap
	timerByID  map[TimerID]*timerEntry
	nextTimer  uint64

	wakeRead, wakeWrite int
	pendingWake         atomic.Bool

	ownerGoroutineID atomic.Uint64
	inRunOnce        atomic.Bool

	closed atomic.Bool
}

// New constructs a Reactor and initializes the platform poller and the
// self-pipe used by WakeFromSignal.
func New() (*Reactor, error) {
	r := &Reactor{
		fds:       make(map[int]*fdEntry),
		timerByID: make(map[TimerID]*timerEntry),
	}

	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	r.poller = p

	rd, wr, err := createWakePipe()
	if err != nil {
		_ = p.close()
		return nil, err
	}
	r.wakeRead, r.wakeWrite = rd, wr

	if err := r.poller.add(r.wakeRead, ModeRead); err != nil {
		_ = p.close()
		closeWakePipe(rd, wr)
		return nil, err
	}

	return r, nil
}

// Close releases the poller and self-pipe. Not safe to call concurrently
// with RunOnce.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.poller.close()
	closeWakePipe(r.wakeRead, r.wakeWrite)
	return err
}

// assertOwner panics in debug builds' sense of "checkable", but here simply
// returns an error: it is cheap enough (one runtime.Stack parse) to run
// unconditionally, matching the stdlib-only goroutine-id idiom used for
// this kind of thread-affinity assertion when no third-party helper library
// is available (see DESIGN.md).
func (r *Reactor) assertOwner() error {
	owner := r.ownerGoroutineID.Load()
	if owner == 0 {
		// Not yet bound to a goroutine: first caller claims ownership. This
		// happens the first time Add/AddTimer/RunOnce is invoked.
		r.ownerGoroutineID.Store(currentGoroutineID())
		return nil
	}
	if owner != currentGoroutineID() {
		return ErrWrongGoroutine
	}
	return nil
}

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// Add registers fd for the given readiness mode. Equivalent to Modify if fd
// is already registered, per the reactor's contract.
func (r *Reactor) Add(fd int, mode Mode, cb Callback) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.assertOwner(); err != nil {
		return err
	}
	if _, ok := r.fds[fd]; ok {
		return r.modifyLocked(fd, mode, cb)
	}
	if err := r.poller.add(fd, mode); err != nil {
		return fmt.Errorf("reactor: add fd %d: %w", fd, err)
	}
	r.fds[fd] = &fdEntry{mode: mode, cb: cb}
	return nil
}

// Modify changes the readiness mode and callback for an already-registered
// fd; semantically identical to Add on a registered fd.
func (r *Reactor) Modify(fd int, mode Mode, cb Callback) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.assertOwner(); err != nil {
		return err
	}
	return r.modifyLocked(fd, mode, cb)
}

func (r *Reactor) modifyLocked(fd int, mode Mode, cb Callback) error {
	e, ok := r.fds[fd]
	if !ok {
		return r.Add(fd, mode, cb)
	}
	if err := r.poller.modify(fd, mode); err != nil {
		return fmt.Errorf("reactor: modify fd %d: %w", fd, err)
	}
	e.mode = mode
	e.cb = cb
	return nil
}

// Remove unregisters fd. A callback for fd already on the current ready
// list, but not yet invoked, is skipped (deferred-free).
func (r *Reactor) Remove(fd int) error {
	if err := r.assertOwner(); err != nil {
		return err
	}
	if _, ok := r.fds[fd]; !ok {
		return ErrNotRegistered
	}
	delete(r.fds, fd)
	if r.closed.Load() {
		return nil
	}
	if err := r.poller.remove(fd); err != nil {
		return fmt.Errorf("reactor: remove fd %d: %w", fd, err)
	}
	return nil
}

// AddTimer schedules cb to run at absolute time when, returning an id that
// may later be passed to UpdateTimer/RemoveTimer.
func (r *Reactor) AddTimer(when time.Time, cb TimerCallback, data any) TimerID {
	_ = r.assertOwner()
	r.nextTimer++
	id := TimerID(r.nextTimer)
	e := &timerEntry{id: id, when: when, cb: cb, data: data}
	heap.Push(&r.timers, e)
	r.timerByID[id] = e
	return id
}

// UpdateTimer reschedules an existing timer to a new absolute time.
func (r *Reactor) UpdateTimer(id TimerID, when time.Time) error {
	e, ok := r.timerByID[id]
	if !ok || e.removed {
		return ErrUnknownTimer
	}
	e.when = when
	heap.Fix(&r.timers, e.index)
	return nil
}

// RemoveTimer cancels a timer before it fires.
func (r *Reactor) RemoveTimer(id TimerID) error {
	e, ok := r.timerByID[id]
	if !ok || e.removed {
		return ErrUnknownTimer
	}
	e.removed = true
	delete(r.timerByID, id)
	if e.index >= 0 && e.index < len(r.timers) {
		heap.Remove(&r.timers, e.index)
	}
	return nil
}

// RunOnce blocks for at most timeout, having dispatched every ready fd
// callback at most once and every expired timer at most once by the time it
// returns. A timeout <= 0 polls without blocking.
func (r *Reactor) RunOnce(timeout time.Duration) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := r.assertOwner(); err != nil {
		return err
	}
	if !r.inRunOnce.CompareAndSwap(false, true) {
		return ErrReentrantRunOnce
	}
	defer r.inRunOnce.Store(false)

	now := timeNow()
	deadline := now.Add(timeout)
	if len(r.timers) > 0 {
		if next := r.timers[0].when; next.Before(deadline) {
			deadline = next
		}
	}

	wait := deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}

	events, err := r.poller.wait(wait)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.fd == r.wakeRead {
			drainWakePipe(r.wakeRead)
			r.pendingWake.Store(false)
			continue
		}
		e, ok := r.fds[ev.fd]
		if !ok {
			// Removed after the poll returned but before dispatch: skip,
			// per the deferred-free contract.
			continue
		}
		e.cb(ev.readable, ev.writable, ev.hardError)
	}

	r.fireExpiredTimers()
	return nil
}

func (r *Reactor) fireExpiredTimers() {
	now := timeNow()
	for len(r.timers) > 0 {
		top := r.timers[0]
		if top.when.After(now) {
			break
		}
		heap.Pop(&r.timers)
		if top.removed {
			continue
		}
		delete(r.timerByID, top.id)
		top.cb(top.data)
	}
}

// WakeFromSignal interrupts a blocked RunOnce from any goroutine, in
// particular a dedicated SIGCHLD-handling goroutine that needs the reactor
// to re-enter its dispatch loop and reap children promptly.
func (r *Reactor) WakeFromSignal() {
	if r.closed.Load() {
		return
	}
	if r.pendingWake.CompareAndSwap(false, true) {
		writeWakePipe(r.wakeWrite)
	}
}

var timeNow = time.Now
