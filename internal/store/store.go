// Package store implements the goroutine-affine storage layer: handles
// bound to the goroutine that opened them, write transactions with a
// shared commit sequence, live queries with change subscriptions, frozen
// snapshots, and one-shot thread-safe references for moving live queries
// across goroutines.
//
// All handles opened with the same locator share one SQLite database and
// one monotonically increasing commit sequence. A handle observes commits
// only when it refreshes; refresh is also the sole point at which
// subscription callbacks fire.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/tether/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// shared is the per-locator state behind every handle on that locator:
// the database connection pool, the latest published commit sequence, and
// the write lock that serializes transactions.
type shared struct {
	locator string
	db      *sql.DB
	version atomic.Int64 // latest committed sequence, 0 when empty

	// writeMu is held from BeginWrite until Commit or Rollback, so at most
	// one write transaction is open per locator at a time.
	writeMu sync.Mutex

	handles int // open handle count, guarded by registryMu
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*shared)
)

// attach returns the shared state for locator, opening the database and
// applying the schema on first attach.
func attach(locator string) (*shared, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if s, ok := registry[locator]; ok {
		s.handles++
		return s, nil
	}

	// Build the DSN as a URL so locator paths containing query
	// metacharacters ('?', '#', spaces) do not corrupt the pragmas.
	u := url.URL{
		Scheme:   "file",
		Path:     locator,
		RawQuery: "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", locator, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	// Recover the sequence from existing rows so reattaching to a locator
	// continues where the previous session left off.
	var seq int64
	if err := db.QueryRow("SELECT COALESCE(MAX(commit_seq), 0) FROM beatmaps").Scan(&seq); err != nil {
		db.Close()
		return nil, fmt.Errorf("read commit sequence: %w", err)
	}

	s := &shared{locator: locator, db: db, handles: 1}
	s.version.Store(seq)
	registry[locator] = s
	return s, nil
}

// release drops one handle's registration; the last release closes the
// database and removes the locator from the registry.
func (s *shared) release() error {
	registryMu.Lock()
	defer registryMu.Unlock()

	s.handles--
	if s.handles > 0 {
		return nil
	}
	delete(registry, s.locator)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.locator, err)
	}
	return nil
}

// countAt reports the row count and the highest commit sequence visible at
// version. The pair identifies a result set for change detection.
func (s *shared) countAt(version int64) (int, int64, error) {
	var n int
	var maxSeq int64
	err := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(MAX(commit_seq), 0) FROM beatmaps WHERE commit_seq <= ?",
		version,
	).Scan(&n, &maxSeq)
	if err != nil {
		return 0, 0, fmt.Errorf("count at version %d: %w", version, err)
	}
	return n, maxSeq, nil
}

// fetchAt returns all rows visible at version in commit order.
func (s *shared) fetchAt(version int64) ([]types.Beatmap, error) {
	rows, err := s.db.Query(
		"SELECT id, title, pending_deletion, difficulty FROM beatmaps WHERE commit_seq <= ? ORDER BY commit_seq, id",
		version,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch at version %d: %w", version, err)
	}
	defer rows.Close()

	var result []types.Beatmap
	for rows.Next() {
		var b types.Beatmap
		var pending int
		if err := rows.Scan(&b.ID, &b.Title, &pending, &b.Difficulty); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		b.PendingDeletion = pending != 0
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}
	return result, nil
}
