// Package loop implements the single-goroutine affinity scheduler: one
// dedicated goroutine owns a store handle, drains a thread-safe work
// queue, runs registered update callbacks, and refreshes the handle once
// per iteration so subscription callbacks fire only on that goroutine.
package loop

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/tether/internal/gid"
	"github.com/mesh-intelligence/tether/internal/store"
	"github.com/mesh-intelligence/tether/pkg/types"
)

// State is the loop lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateExiting
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateExiting:
		return "exiting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Item is a unit of deferred work. It runs exactly once, on the loop
// goroutine, with the loop's own handle. A returned error is logged and
// the loop continues with the next item; it does not stop the loop.
type Item func(h *store.Handle) error

// Loop owns one dedicated goroutine and the store handle bound to it.
// Work submitted from any goroutine via Schedule runs exclusively on the
// loop goroutine; no other goroutine ever touches the handle. Each
// iteration ends with a handle refresh, which is the only moment
// subscription callbacks are delivered.
type Loop struct {
	cfg   types.Config
	log   *zap.Logger
	queue *queue

	state   atomic.Int32
	done    chan struct{}
	loopGID atomic.Uint64

	updateMu sync.Mutex
	updates  []func(h *store.Handle)

	// handle is opened lazily on the first iteration and touched only by
	// the loop goroutine.
	handle *store.Handle
}

// New validates cfg, starts the dedicated loop goroutine, and returns the
// running loop. A nil logger is replaced with a no-op logger.
func New(cfg types.Config, log *zap.Logger) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new loop: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	l := &Loop{
		cfg:   cfg,
		log:   log,
		queue: newQueue(),
		done:  make(chan struct{}),
	}
	l.state.Store(int32(StateRunning))
	go l.run()
	return l, nil
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Done is closed when the loop reaches StateStopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// onLoop reports whether the caller is the loop goroutine.
func (l *Loop) onLoop() bool {
	id := l.loopGID.Load()
	return id != 0 && gid.Get() == id
}

// run is the loop goroutine body. The goroutine is pinned to its OS thread
// so the handle's affinity maps to a real dedicated thread.
func (l *Loop) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.loopGID.Store(gid.Get())
	defer func() {
		if l.handle != nil {
			if err := l.handle.Close(); err != nil {
				l.log.Warn("close handle", zap.Error(err))
			}
		}
		l.state.Store(int32(StateStopped))
		close(l.done)
		l.log.Debug("loop stopped", zap.String("locator", l.cfg.Locator))
	}()

	ticker := time.NewTicker(l.cfg.EffectiveTickInterval())
	defer ticker.Stop()

	for {
		l.iterate()
		if l.State() == StateExiting {
			return
		}
		select {
		case <-l.queue.wake:
		case <-ticker.C:
		}
	}
}

// iterate is one scheduler turn: open the handle if this is the first
// turn, drain and execute queued items, run update callbacks, refresh.
func (l *Loop) iterate() {
	if l.handle == nil {
		h, err := store.Open(l.cfg.Locator)
		if err != nil {
			l.log.Error("open handle, stopping loop",
				zap.String("locator", l.cfg.Locator), zap.Error(err))
			l.state.Store(int32(StateExiting))
			return
		}
		l.handle = h
		l.log.Debug("handle opened", zap.String("locator", l.cfg.Locator))
	}

	items := l.queue.drain()
	for i, item := range items {
		l.execute(item)
		items[i] = nil
	}

	for _, fn := range l.snapshotUpdates() {
		l.runUpdate(fn)
	}

	if _, err := l.handle.Refresh(); err != nil {
		l.log.Error("refresh", zap.Error(err))
	}
}

// execute runs one item with panic recovery. A failed or panicking item is
// logged and the loop moves on; scheduling guarantees for later items are
// unaffected.
func (l *Loop) execute(item Item) {
	defer l.finishItem()
	if err := item(l.handle); err != nil {
		l.log.Warn("work item failed", zap.Error(err))
	}
}

// finishItem recovers a panicking item and rolls back any write
// transaction the item left open. Without the rollback a single bad item
// would hold the locator's write lock and block every later writer on the
// loop goroutine.
func (l *Loop) finishItem() {
	if r := recover(); r != nil {
		l.log.Error("work item panicked", zap.Any("panic", r))
	}
	abandoned, err := l.handle.AbandonWrite()
	if err != nil {
		l.log.Error("roll back abandoned write", zap.Error(err))
		return
	}
	if abandoned {
		l.log.Warn("work item left a write transaction open; rolled back")
	}
}

func (l *Loop) runUpdate(fn func(h *store.Handle)) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("update callback panicked", zap.Any("panic", r))
		}
	}()
	fn(l.handle)
}

// Schedule enqueues an item for execution on the loop goroutine. Safe from
// any goroutine; never blocks. Returns types.ErrLoopStopped once the loop
// has stopped. Items scheduled before an Exit item are guaranteed to run;
// items racing with shutdown may be dropped.
func (l *Loop) Schedule(item Item) error {
	if l.State() == StateStopped {
		return fmt.Errorf("schedule: %w", types.ErrLoopStopped)
	}
	l.queue.enqueue(item)
	return nil
}

// ScheduleAndWait enqueues fn, blocks the caller until the loop goroutine
// has executed it, and returns its result. The item's error propagates to
// the caller, not to the loop's failure log. When called from the loop
// goroutine itself it executes fn inline instead of deadlocking.
func ScheduleAndWait[T any](l *Loop, fn func(h *store.Handle) (T, error)) (T, error) {
	var zero T

	if l.onLoop() {
		return fn(l.handle)
	}

	var (
		result T
		rerr   error
	)
	executed := make(chan struct{})
	err := l.Schedule(func(h *store.Handle) error {
		result, rerr = fn(h)
		close(executed)
		return nil
	})
	if err != nil {
		return zero, err
	}

	select {
	case <-executed:
		return result, rerr
	case <-l.done:
		// The loop may have executed the item on its way out; prefer the
		// result if so.
		select {
		case <-executed:
			return result, rerr
		default:
			return zero, fmt.Errorf("schedule and wait: %w", types.ErrLoopStopped)
		}
	}
}

// OnUpdate registers a callback run once per loop iteration, after queued
// items and before refresh. Callbacks run in registration order on the
// loop goroutine. Safe from any goroutine.
func (l *Loop) OnUpdate(fn func(h *store.Handle)) {
	l.updateMu.Lock()
	l.updates = append(l.updates, fn)
	l.updateMu.Unlock()
}

func (l *Loop) snapshotUpdates() []func(h *store.Handle) {
	l.updateMu.Lock()
	defer l.updateMu.Unlock()
	out := make([]func(h *store.Handle), len(l.updates))
	copy(out, l.updates)
	return out
}

// Exit schedules loop shutdown as a regular work item, so it is sequenced
// after everything queued before it. The loop finishes the drain pass
// containing the exit item, closes its handle, and stops.
func (l *Loop) Exit() error {
	return l.Schedule(func(*store.Handle) error {
		l.state.CompareAndSwap(int32(StateRunning), int32(StateExiting))
		return nil
	})
}

// ExitAndWait schedules shutdown and blocks until the loop has stopped.
func (l *Loop) ExitAndWait() {
	if err := l.Exit(); err != nil {
		// Already stopped; done is closed.
		<-l.done
		return
	}
	<-l.done
}
