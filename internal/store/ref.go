package store

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/tether/pkg/types"
)

// Ref is a one-shot transport token for moving a live query across
// goroutines. It captures the query's locator and read version at creation;
// resolving it against a handle on the same locator yields a live query
// pinned at that version, bound to the destination handle's goroutine.
//
// A ref may be resolved at most once. Resolving it twice, or against a
// handle on a different locator, fails with types.ErrRefMisuse.
type Ref struct {
	id      string
	locator string
	version int64
	used    atomic.Bool
}

// ID returns the token's unique identifier.
func (r *Ref) ID() string {
	return r.id
}

// NewRef packages a live query of this handle for cross-goroutine
// transport. Owner goroutine only.
func (h *Handle) NewRef(q *LiveQuery) (*Ref, error) {
	if err := h.guard("new ref"); err != nil {
		return nil, err
	}
	if q.h != h {
		return nil, fmt.Errorf("new ref: query belongs to another handle: %w", types.ErrRefMisuse)
	}
	return &Ref{
		id:      uuid.Must(uuid.NewV7()).String(),
		locator: h.shared.locator,
		version: q.version(),
	}, nil
}

// Resolve turns a transported ref back into a live query against this
// handle. The result evaluates at the version captured when the ref was
// created, independent of later commits. Owner goroutine of the
// destination handle only.
func (h *Handle) Resolve(r *Ref) (*LiveQuery, error) {
	if err := h.guard("resolve"); err != nil {
		return nil, err
	}
	if r.locator != h.shared.locator {
		return nil, fmt.Errorf("resolve: ref for locator %q against %q: %w",
			r.locator, h.shared.locator, types.ErrRefMisuse)
	}
	if r.used.Swap(true) {
		return nil, fmt.Errorf("resolve: ref %s already resolved: %w", r.id, types.ErrRefMisuse)
	}
	return &LiveQuery{h: h, pinned: r.version}, nil
}
