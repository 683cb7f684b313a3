package store

import (
	"fmt"

	"github.com/mesh-intelligence/tether/internal/gid"
	"github.com/mesh-intelligence/tether/pkg/types"
)

// Handle is a goroutine-affine view of a locator's database. Every
// operation except Snapshot reads and Ref transport must run on the
// goroutine that called Open; anything else fails with
// types.ErrAffinityViolation.
//
// A handle's reads are pinned to its read version. Commits made through
// other handles (or through this one) become visible only after Refresh.
type Handle struct {
	shared *shared
	owner  uint64 // id of the goroutine that opened the handle

	// Owner-goroutine state; no locking needed because the guard rejects
	// every other goroutine first.
	readVersion int64
	subs        []*Subscription
	tx          *Tx // open write transaction, nil between transactions
	closed      bool
}

// Open attaches a new handle to locator, bound to the calling goroutine.
// Handles on the same locator share committed state; the new handle starts
// at the latest committed version.
func Open(locator string) (*Handle, error) {
	if locator == "" {
		return nil, fmt.Errorf("open handle: %w", types.ErrLocatorEmpty)
	}
	s, err := attach(locator)
	if err != nil {
		return nil, fmt.Errorf("open handle: %w", err)
	}
	h := &Handle{shared: s, owner: gid.Get()}
	h.readVersion = s.version.Load()
	return h, nil
}

// guard rejects calls from any goroutine other than the owner, and calls
// on a closed handle.
func (h *Handle) guard(op string) error {
	if gid.Get() != h.owner {
		return fmt.Errorf("%s: %w", op, types.ErrAffinityViolation)
	}
	if h.closed {
		return fmt.Errorf("%s: %w", op, types.ErrHandleClosed)
	}
	return nil
}

// Locator returns the locator the handle is attached to.
func (h *Handle) Locator() string {
	return h.shared.locator
}

// Version returns the handle's current read version.
// Owner goroutine only.
func (h *Handle) Version() (int64, error) {
	if err := h.guard("version"); err != nil {
		return 0, err
	}
	return h.readVersion, nil
}

// Refresh advances the handle's read version to the latest committed
// sequence and reports whether it moved. It is the single point at which
// due subscription callbacks fire, in registration order. Refreshing with
// no newer commits is a no-op and fires nothing.
// Owner goroutine only.
func (h *Handle) Refresh() (bool, error) {
	if err := h.guard("refresh"); err != nil {
		return false, err
	}

	latest := h.shared.version.Load()
	if latest == h.readVersion {
		return false, nil
	}
	h.readVersion = latest

	// Compact out unsubscribed entries while delivering. Callbacks may
	// register new subscriptions; those are preserved for the next refresh.
	// A delivery failure stops further callbacks this round but the
	// compaction still completes, so the list stays consistent.
	subs := h.subs
	live := subs[:0]
	var deliverErr error
	for _, sub := range subs {
		if sub.cancelled {
			continue
		}
		live = append(live, sub)
		if deliverErr != nil {
			continue
		}
		deliverErr = sub.deliver()
	}
	h.subs = append(live, h.subs[len(subs):]...)
	if deliverErr != nil {
		return true, fmt.Errorf("refresh: %w", deliverErr)
	}
	return true, nil
}

// All returns a live query over every stored record, evaluated lazily at
// the handle's read version. Constructing the query is cheap and
// unrestricted; evaluating it is owner-goroutine only.
func (h *Handle) All() *LiveQuery {
	return &LiveQuery{h: h, pinned: -1}
}

// Freeze materializes the rows visible at the handle's read version into
// an immutable snapshot. Creation is owner-goroutine only; the returned
// snapshot may be read from any goroutine.
func (h *Handle) Freeze() (*Snapshot, error) {
	if err := h.guard("freeze"); err != nil {
		return nil, err
	}
	rows, err := h.shared.fetchAt(h.readVersion)
	if err != nil {
		return nil, fmt.Errorf("freeze: %w", err)
	}
	return &Snapshot{version: h.readVersion, rows: rows}, nil
}

// Close releases the handle's registration; the last handle on a locator
// closes the underlying database. An open write transaction is rolled
// back so the locator's write lock is not leaked. Close is
// owner-goroutine only and idempotent.
func (h *Handle) Close() error {
	if gid.Get() != h.owner {
		return fmt.Errorf("close: %w", types.ErrAffinityViolation)
	}
	if h.closed {
		return nil
	}
	if h.tx != nil {
		if err := h.tx.Rollback(); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}
	h.closed = true
	h.subs = nil
	if err := h.shared.release(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
