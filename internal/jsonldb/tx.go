// Implements the transaction handed to Table.Mutate callbacks.

package jsonldb

import (
	"fmt"
	"iter"
	"slices"
)

// Tx is a pending set of changes to a Table.
//
// A Tx works on its own copy of the row slice; rows themselves are shared with
// the table and must be replaced, never modified in place. A Tx is only valid
// inside the Mutate callback that received it.
type Tx[T Row[T]] struct {
	table    *Table[T]
	rows     []T
	seq      uint64
	dirty    bool
	changes  []change[T]
	onCommit []func()
	onAbort  []func()
}

// Len returns the number of rows in the transaction.
func (tx *Tx[T]) Len() int {
	return len(tx.rows)
}

// Rows iterates over the transaction's rows in order. The rows must not be
// modified.
func (tx *Tx[T]) Rows() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i, row := range tx.rows {
			if !yield(i, row) {
				return
			}
		}
	}
}

// Find returns the index and row with the given id.
func (tx *Tx[T]) Find(id string) (int, T, bool) {
	for i, row := range tx.rows {
		if row.GetID() == id {
			return i, row, true
		}
	}
	var zero T
	return -1, zero, false
}

// Append adds row at the end.
func (tx *Tx[T]) Append(row T) error {
	if err := tx.check(row); err != nil {
		return err
	}
	if _, _, ok := tx.Find(row.GetID()); ok {
		return fmt.Errorf("%w %q", errDuplicateID, row.GetID())
	}
	tx.rows = append(tx.rows, row)
	tx.ObserveSeq(tx.table.seqOf(row.GetID()))
	tx.record(change[T]{curr: row, op: opAppend})
	return nil
}

// Set replaces the row at index i. The id must not change.
func (tx *Tx[T]) Set(i int, row T) error {
	if err := tx.check(row); err != nil {
		return err
	}
	prev := tx.rows[i]
	if prev.GetID() != row.GetID() {
		return fmt.Errorf("cannot change row id from %q to %q", prev.GetID(), row.GetID())
	}
	tx.rows[i] = row
	tx.record(change[T]{prev: prev, curr: row, op: opUpdate})
	return nil
}

// Remove deletes and returns the row at index i.
func (tx *Tx[T]) Remove(i int) T {
	prev := tx.rows[i]
	tx.rows = slices.Delete(tx.rows, i, i+1)
	tx.record(change[T]{prev: prev, op: opDelete})
	return prev
}

// Replace substitutes every row.
func (tx *Tx[T]) Replace(rows []T) error {
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if err := tx.check(row); err != nil {
			return err
		}
		if _, ok := seen[row.GetID()]; ok {
			return fmt.Errorf("%w %q", errDuplicateID, row.GetID())
		}
		seen[row.GetID()] = struct{}{}
	}
	for _, prev := range tx.rows {
		tx.record(change[T]{prev: prev, op: opDelete})
	}
	tx.rows = slices.Clone(rows)
	for _, row := range tx.rows {
		tx.ObserveSeq(tx.table.seqOf(row.GetID()))
		tx.record(change[T]{curr: row, op: opAppend})
	}
	if len(rows) == 0 {
		tx.dirty = true
	}
	return nil
}

// Seq returns the id high-water mark.
func (tx *Tx[T]) Seq() uint64 {
	return tx.seq
}

// ObserveSeq raises the id high-water mark to at least n.
func (tx *Tx[T]) ObserveSeq(n uint64) {
	tx.seq = max(tx.seq, n)
}

// OnCommit registers f to run after the transaction was persisted, still
// under the table lock.
func (tx *Tx[T]) OnCommit(f func()) {
	tx.onCommit = append(tx.onCommit, f)
}

// OnAbort registers f to run when the transaction is discarded, either
// because the callback failed or because the backend rejected the write.
func (tx *Tx[T]) OnAbort(f func()) {
	tx.onAbort = append(tx.onAbort, f)
}

func (tx *Tx[T]) check(row T) error {
	if row.GetID() == "" {
		return errEmptyID
	}
	if err := row.Validate(); err != nil {
		return fmt.Errorf("invalid row %q: %w", row.GetID(), err)
	}
	return nil
}

func (tx *Tx[T]) record(c change[T]) {
	tx.dirty = true
	tx.changes = append(tx.changes, c)
}

func (tx *Tx[T]) abort() {
	for _, f := range tx.onAbort {
		f()
	}
}

//

type changeOp int

const (
	opAppend changeOp = iota
	opUpdate
	opDelete
)

type change[T any] struct {
	op   changeOp
	prev T
	curr T
}

func (c *change[T]) notify(o Observer[T]) {
	switch c.op {
	case opAppend:
		o.OnAppend(c.curr)
	case opUpdate:
		o.OnUpdate(c.prev, c.curr)
	case opDelete:
		o.OnDelete(c.prev)
	}
}
