package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/tether/pkg/types"
)

// Tx is a write transaction. It holds the locator's write lock from
// BeginWrite until Commit or Rollback, so writers across all handles on
// the locator are serialized. All methods are owner-goroutine only.
type Tx struct {
	h    *Handle
	tx   *sql.Tx
	seq  int64 // sequence this transaction will publish on commit
	done bool
}

// newUUID generates a UUID v7 string for record IDs.
func newUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// BeginWrite opens a write transaction on the handle's locator. The
// transaction must be finished with Commit or Rollback; until then no
// other write transaction can start on the same locator, and BeginWrite
// on this handle fails with types.ErrTxOpen.
// Owner goroutine only.
func (h *Handle) BeginWrite() (*Tx, error) {
	if err := h.guard("begin write"); err != nil {
		return nil, err
	}
	if h.tx != nil {
		return nil, fmt.Errorf("begin write: %w", types.ErrTxOpen)
	}

	h.shared.writeMu.Lock()
	tx, err := h.shared.db.Begin()
	if err != nil {
		h.shared.writeMu.Unlock()
		return nil, fmt.Errorf("begin write: %w", err)
	}
	t := &Tx{h: h, tx: tx, seq: h.shared.version.Load() + 1}
	h.tx = t
	return t, nil
}

// Write runs fn inside a write transaction: committed when fn returns
// nil, rolled back when fn returns an error or panics. The write lock is
// released either way. Owner goroutine only.
func (h *Handle) Write(fn func(*Tx) error) error {
	tx, err := h.BeginWrite()
	if err != nil {
		return err
	}
	defer func() {
		if !tx.done {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// AbandonWrite rolls back the handle's open write transaction, if any,
// releasing the locator's write lock. It reports whether a transaction
// was open. Owner goroutine only.
func (h *Handle) AbandonWrite() (bool, error) {
	if err := h.guard("abandon write"); err != nil {
		return false, err
	}
	if h.tx == nil {
		return false, nil
	}
	return true, h.tx.Rollback()
}

func (t *Tx) guard(op string) error {
	if err := t.h.guard(op); err != nil {
		return err
	}
	if t.done {
		return fmt.Errorf("%s: %w", op, types.ErrTxDone)
	}
	return nil
}

// Add inserts a record. A zero ID is replaced with a generated UUID v7,
// written back to b. The row becomes visible at this transaction's commit
// sequence.
func (t *Tx) Add(b *types.Beatmap) error {
	if err := t.guard("tx add"); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = newUUID()
	}

	pending := 0
	if b.PendingDeletion {
		pending = 1
	}
	_, err := t.tx.Exec(
		"INSERT INTO beatmaps (id, title, pending_deletion, difficulty, commit_seq) VALUES (?, ?, ?, ?, ?)",
		b.ID, b.Title, pending, b.Difficulty, t.seq,
	)
	if err != nil {
		return fmt.Errorf("tx add: %w", err)
	}
	return nil
}

// Commit durably applies the transaction's writes and publishes its commit
// sequence to all handles on the locator. The committing handle does NOT
// observe its own writes until its next Refresh; commit never auto-
// refreshes.
func (t *Tx) Commit() error {
	if err := t.guard("tx commit"); err != nil {
		return err
	}
	t.done = true
	t.h.tx = nil
	defer t.h.shared.writeMu.Unlock()

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", err)
	}
	t.h.shared.version.Store(t.seq)
	return nil
}

// Rollback discards the transaction's writes and releases the write lock.
func (t *Tx) Rollback() error {
	if err := t.guard("tx rollback"); err != nil {
		return err
	}
	t.done = true
	t.h.tx = nil
	defer t.h.shared.writeMu.Unlock()

	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("tx rollback: %w", err)
	}
	return nil
}
