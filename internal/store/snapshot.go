package store

import "github.com/mesh-intelligence/tether/pkg/types"

// Snapshot is an immutable, point-in-time copy of a handle's visible rows.
// Unlike every other product of a handle, a snapshot carries no affinity:
// once created on the owner goroutine (Handle.Freeze), it may be read from
// anywhere, and it never changes as the handle refreshes past it.
type Snapshot struct {
	version int64
	rows    []types.Beatmap
}

// Version returns the read version the snapshot was frozen at.
func (s *Snapshot) Version() int64 {
	return s.version
}

// Count returns the number of records in the snapshot.
func (s *Snapshot) Count() int {
	return len(s.rows)
}

// Fetch returns a copy of the snapshot's records in commit order.
func (s *Snapshot) Fetch() []types.Beatmap {
	out := make([]types.Beatmap, len(s.rows))
	copy(out, s.rows)
	return out
}
