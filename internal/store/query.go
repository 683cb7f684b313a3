package store

import (
	"fmt"

	"github.com/mesh-intelligence/tether/pkg/types"
)

// LiveQuery is a lazily evaluated query scoped to a handle. A query with
// pinned < 0 follows the handle's read version; a pinned query (produced by
// resolving a Ref) always evaluates at that fixed version. Evaluation is
// owner-goroutine only.
type LiveQuery struct {
	h      *Handle
	pinned int64 // fixed read version, or -1 to follow the handle
}

// version returns the read version the query evaluates at.
func (q *LiveQuery) version() int64 {
	if q.pinned >= 0 {
		return q.pinned
	}
	return q.h.readVersion
}

// Count returns the number of visible records.
func (q *LiveQuery) Count() (int, error) {
	if err := q.h.guard("query count"); err != nil {
		return 0, err
	}
	n, _, err := q.h.shared.countAt(q.version())
	if err != nil {
		return 0, fmt.Errorf("query count: %w", err)
	}
	return n, nil
}

// Fetch returns the visible records in commit order.
func (q *LiveQuery) Fetch() ([]types.Beatmap, error) {
	if err := q.h.guard("query fetch"); err != nil {
		return nil, err
	}
	rows, err := q.h.shared.fetchAt(q.version())
	if err != nil {
		return nil, fmt.Errorf("query fetch: %w", err)
	}
	return rows, nil
}

// Subscription is a registration that a live query be re-evaluated on each
// of its handle's refreshes, invoking the callback when the result set
// changed. Callbacks run on the owner goroutine, inside Refresh, after the
// read version has advanced; they never run concurrently with queued work.
type Subscription struct {
	query     *LiveQuery
	callback  func(*LiveQuery)
	lastCount int
	lastSeq   int64
	cancelled bool
}

// Subscribe registers cb against the query. The callback does not fire at
// registration time; the first delivery happens on the first refresh that
// changes the query's result set.
// Owner goroutine only.
func (q *LiveQuery) Subscribe(cb func(*LiveQuery)) (*Subscription, error) {
	if err := q.h.guard("subscribe"); err != nil {
		return nil, err
	}
	n, maxSeq, err := q.h.shared.countAt(q.version())
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub := &Subscription{query: q, callback: cb, lastCount: n, lastSeq: maxSeq}
	q.h.subs = append(q.h.subs, sub)
	return sub, nil
}

// Unsubscribe ends the registration. Safe to call from inside the
// callback; delivery for later refreshes stops.
// Owner goroutine only.
func (s *Subscription) Unsubscribe() error {
	if err := s.query.h.guard("unsubscribe"); err != nil {
		return err
	}
	s.cancelled = true
	return nil
}

// deliver re-evaluates the subscribed query at the handle's new read
// version and fires the callback if the result set changed. Called from
// Refresh on the owner goroutine.
func (s *Subscription) deliver() error {
	n, maxSeq, err := s.query.h.shared.countAt(s.query.version())
	if err != nil {
		return err
	}
	if n == s.lastCount && maxSeq == s.lastSeq {
		return nil
	}
	s.lastCount = n
	s.lastSeq = maxSeq
	s.callback(s.query)
	return nil
}
