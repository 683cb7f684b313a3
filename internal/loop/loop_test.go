package loop

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/tether/internal/gid"
	"github.com/mesh-intelligence/tether/internal/store"
	"github.com/mesh-intelligence/tether/pkg/types"
)

// newTestLoop starts a loop on an isolated locator and stops it on cleanup.
func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	cfg := types.Config{
		Locator:      filepath.Join(t.TempDir(), "tether.db"),
		TickInterval: time.Millisecond,
	}
	l, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(l.ExitAndWait)
	return l
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(types.Config{}, nil)
	require.ErrorIs(t, err, types.ErrLocatorEmpty)
}

func TestLoop_ItemsRunOnLoopGoroutine(t *testing.T) {
	l := newTestLoop(t)

	first, err := ScheduleAndWait(l, func(*store.Handle) (uint64, error) {
		return gid.Get(), nil
	})
	require.NoError(t, err)
	require.NotZero(t, first)
	require.NotEqual(t, gid.Get(), first, "items must not run on the caller goroutine")

	second, err := ScheduleAndWait(l, func(*store.Handle) (uint64, error) {
		return gid.Get(), nil
	})
	require.NoError(t, err)
	require.Equal(t, first, second, "all items run on the same goroutine")
}

func TestScheduleAndWait_PropagatesItemError(t *testing.T) {
	l := newTestLoop(t)

	want := errors.New("query exploded")
	_, err := ScheduleAndWait(l, func(*store.Handle) (int, error) {
		return 0, want
	})
	require.ErrorIs(t, err, want)
}

func TestLoop_ItemFailureDoesNotStopLoop(t *testing.T) {
	l := newTestLoop(t)

	require.NoError(t, l.Schedule(func(*store.Handle) error {
		return fmt.Errorf("deliberate failure")
	}))

	// The loop is still serving items afterwards.
	n, err := ScheduleAndWait(l, func(h *store.Handle) (int, error) {
		return h.All().Count()
	})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, StateRunning, l.State())
}

func TestLoop_ItemPanicDoesNotStopLoop(t *testing.T) {
	l := newTestLoop(t)

	require.NoError(t, l.Schedule(func(*store.Handle) error {
		panic("deliberate panic")
	}))

	n, err := ScheduleAndWait(l, func(h *store.Handle) (int, error) {
		return h.All().Count()
	})
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, StateRunning, l.State())
}

func TestLoop_PanicMidTransactionDoesNotBlockLaterWriters(t *testing.T) {
	l := newTestLoop(t)

	// The item dies between BeginWrite and Commit; the loop must release
	// the write lock or every later writer blocks forever.
	require.NoError(t, l.Schedule(func(h *store.Handle) error {
		if _, err := h.BeginWrite(); err != nil {
			return err
		}
		panic("mid-transaction")
	}))

	_, err := ScheduleAndWait(l, func(h *store.Handle) (struct{}, error) {
		return struct{}{}, h.Write(func(tx *store.Tx) error {
			return tx.Add(&types.Beatmap{Title: "after the crash"})
		})
	})
	require.NoError(t, err)
	require.Equal(t, StateRunning, l.State())

	n, err := ScheduleAndWait(l, func(h *store.Handle) (int, error) {
		return h.All().Count()
	})
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the surviving item's write should land")
}

func TestLoop_AbandonedTransactionRolledBack(t *testing.T) {
	l := newTestLoop(t)

	// The item returns with its transaction still open; the loop rolls the
	// leftover back so the write is discarded and the lock is released.
	require.NoError(t, l.Schedule(func(h *store.Handle) error {
		tx, err := h.BeginWrite()
		if err != nil {
			return err
		}
		return tx.Add(&types.Beatmap{Title: "abandoned"})
	}))

	n, err := ScheduleAndWait(l, func(h *store.Handle) (int, error) {
		return h.All().Count()
	})
	require.NoError(t, err)
	require.Equal(t, 0, n, "abandoned writes must not be committed")
	require.Equal(t, StateRunning, l.State())
}

func TestScheduleAndWait_ReentrantExecutesInline(t *testing.T) {
	l := newTestLoop(t)

	got, err := ScheduleAndWait(l, func(*store.Handle) (int, error) {
		// Called from the loop goroutine itself; must not deadlock.
		return ScheduleAndWait(l, func(*store.Handle) (int, error) {
			return 42, nil
		})
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestExit_RunsPreviouslyScheduledItems(t *testing.T) {
	cfg := types.Config{Locator: filepath.Join(t.TempDir(), "tether.db")}
	l, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	var ran atomic.Int32
	const items = 50
	for i := 0; i < items; i++ {
		require.NoError(t, l.Schedule(func(*store.Handle) error {
			ran.Add(1)
			return nil
		}))
	}

	l.ExitAndWait()

	require.Equal(t, int32(items), ran.Load(), "items scheduled before exit must all run")
	require.Equal(t, StateStopped, l.State())

	err = l.Schedule(func(*store.Handle) error { return nil })
	require.ErrorIs(t, err, types.ErrLoopStopped)
}

func TestExitAndWait_Idempotent(t *testing.T) {
	cfg := types.Config{Locator: filepath.Join(t.TempDir(), "tether.db")}
	l, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	l.ExitAndWait()
	l.ExitAndWait()
	require.Equal(t, StateStopped, l.State())
}

func TestScheduleAndWait_AfterStopReturnsError(t *testing.T) {
	cfg := types.Config{Locator: filepath.Join(t.TempDir(), "tether.db")}
	l, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	l.ExitAndWait()

	_, err = ScheduleAndWait(l, func(*store.Handle) (int, error) {
		return 0, nil
	})
	require.ErrorIs(t, err, types.ErrLoopStopped)
}

func TestOnUpdate_RunsEveryIteration(t *testing.T) {
	l := newTestLoop(t)

	var ticks atomic.Int32
	l.OnUpdate(func(*store.Handle) {
		ticks.Add(1)
	})

	require.Eventually(t, func() bool {
		return ticks.Load() >= 3
	}, time.Second, time.Millisecond, "update callback should run on every loop iteration")
}
