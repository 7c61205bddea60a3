package jsonldb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrRowNotFound is returned when no row has the requested id.
	ErrRowNotFound = errors.New("row not found")

	errEmptyID     = errors.New("row id is empty")
	errDuplicateID = errors.New("duplicate row id")
)

// maxLineSize bounds a single encoded row.
const maxLineSize = 16 << 20

// Row is implemented by every type stored in a Table.
type Row[T any] interface {
	// Clone returns a deep copy.
	Clone() T
	// GetID returns the row's unique, immutable id.
	GetID() string
	// Validate checks the row's invariants. It runs on load and before a row
	// enters a transaction.
	Validate() error
}

// Observer is notified of row changes after they were persisted.
//
// Callbacks run while the table lock is held and must not call back into the
// table.
type Observer[T any] interface {
	OnAppend(row T)
	OnUpdate(prev, curr T)
	OnDelete(row T)
}

// Options configures NewTable.
type Options[T any] struct {
	// Seed returns the initial rows when the backend holds no data. The seed
	// is persisted right away and becomes the authoritative state.
	Seed func() ([]T, error)
	// SeqOf maps a row id to its position in the id sequence. The table keeps
	// its high-water mark at or above SeqOf of every row it ever held. Ids
	// that are not part of a sequence return 0.
	SeqOf func(id string) uint64
}

// PersistError reports that the backend failed to store a table. The
// in-memory rows are left as they were before the failed mutation.
type PersistError struct {
	Table string
	Err   error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist table %s: %v", e.Table, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// Table handles storage and in-memory caching for a single table in JSONL format.
type Table[T Row[T]] struct {
	name    string
	backend Backend
	seqOf   func(id string) uint64
	columns []column
	sem     *semaphore.Weighted

	rows      []T
	seq       uint64
	observers []Observer[T]
}

// NewTable creates a Table and loads all data from backend.
//
// When the backend holds no data and opts.Seed is set, the seed rows are
// persisted as the initial state.
func NewTable[T Row[T]](name string, backend Backend, opts *Options[T]) (*Table[T], error) {
	columns, err := schemaFromType[T]()
	if err != nil {
		return nil, err
	}
	t := &Table[T]{
		name:    name,
		backend: backend,
		seqOf:   func(string) uint64 { return 0 },
		columns: columns,
		sem:     semaphore.NewWeighted(1),
	}
	if opts != nil && opts.SeqOf != nil {
		t.seqOf = opts.SeqOf
	}

	data, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) != 0 {
		if err := t.decode(data); err != nil {
			return nil, err
		}
		return t, nil
	}

	if opts == nil || opts.Seed == nil {
		return t, nil
	}
	seed, err := opts.Seed()
	if err != nil {
		return nil, fmt.Errorf("failed to load seed for table %s: %w", name, err)
	}
	tx := t.begin()
	if err := tx.Replace(seed); err != nil {
		return nil, fmt.Errorf("invalid seed for table %s: %w", name, err)
	}
	encoded, err := t.encode(tx.rows, tx.seq)
	if err != nil {
		return nil, err
	}
	if err := backend.Replace(encoded); err != nil {
		return nil, &PersistError{Table: name, Err: err}
	}
	t.rows, t.seq = tx.rows, tx.seq
	return t, nil
}

// Name returns the table name.
func (t *Table[T]) Name() string {
	return t.name
}

// AddObserver registers o and replays every existing row to o.OnAppend.
func (t *Table[T]) AddObserver(o Observer[T]) {
	_ = t.sem.Acquire(context.Background(), 1)
	defer t.sem.Release(1)
	t.observers = append(t.observers, o)
	for _, row := range t.rows {
		o.OnAppend(row)
	}
}

// Len returns the number of rows.
func (t *Table[T]) Len(ctx context.Context) (int, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer t.sem.Release(1)
	return len(t.rows), nil
}

// All returns clones of all rows in insertion order.
func (t *Table[T]) All(ctx context.Context) ([]T, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.sem.Release(1)
	out := make([]T, len(t.rows))
	for i, row := range t.rows {
		out[i] = row.Clone()
	}
	return out, nil
}

// Get returns a clone of the row with the given id, or ErrRowNotFound.
func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer t.sem.Release(1)
	for _, row := range t.rows {
		if row.GetID() == id {
			return row.Clone(), nil
		}
	}
	return zero, ErrRowNotFound
}

// Mutate runs fn in a transaction while holding the table lock.
//
// If fn returns an error, nothing changes and the transaction's OnAbort hooks
// run. Otherwise the resulting rows are encoded and handed to the backend;
// only once the backend succeeded do they replace the live rows, observers
// get notified and OnCommit hooks run. A backend failure is returned as a
// *PersistError after running the OnAbort hooks.
//
// ctx only bounds the wait for the lock.
func (t *Table[T]) Mutate(ctx context.Context, fn func(tx *Tx[T]) error) error {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)

	tx := t.begin()
	if err := fn(tx); err != nil {
		tx.abort()
		return err
	}
	if tx.dirty {
		data, err := t.encode(tx.rows, tx.seq)
		if err != nil {
			tx.abort()
			return err
		}
		if err := t.backend.Replace(data); err != nil {
			tx.abort()
			return &PersistError{Table: t.name, Err: err}
		}
		t.rows, t.seq = tx.rows, tx.seq
		for _, c := range tx.changes {
			for _, o := range t.observers {
				c.notify(o)
			}
		}
	}
	for _, f := range tx.onCommit {
		f()
	}
	return nil
}

func (t *Table[T]) begin() *Tx[T] {
	rows := make([]T, len(t.rows))
	copy(rows, t.rows)
	return &Tx[T]{table: t, rows: rows, seq: t.seq}
}

func (t *Table[T]) encode(rows []T, seq uint64) ([]byte, error) {
	var buf bytes.Buffer
	header, err := json.Marshal(schemaHeader{Version: currentVersion, Seq: seq, Columns: t.columns})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema header: %w", err)
	}
	buf.Write(header)
	buf.WriteByte('\n')
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal row %s: %w", row.GetID(), err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func (t *Table[T]) decode(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var header *schemaHeader
	seen := make(map[string]struct{})
	var rows []T
	seq := uint64(0)
	line := 0
	for scanner.Scan() {
		line++
		b := scanner.Bytes()
		if len(bytes.TrimSpace(b)) == 0 {
			continue
		}
		if header == nil {
			header = &schemaHeader{}
			if err := json.Unmarshal(b, header); err != nil {
				return fmt.Errorf("failed to unmarshal schema header in %s: %w", t.name, err)
			}
			if err := header.Validate(); err != nil {
				return fmt.Errorf("invalid schema header in %s: %w", t.name, err)
			}
			seq = header.Seq
			continue
		}
		var row T
		if err := json.Unmarshal(b, &row); err != nil {
			return fmt.Errorf("failed to unmarshal row at line %d in %s: %w", line, t.name, err)
		}
		id := row.GetID()
		if id == "" {
			return fmt.Errorf("line %d in %s: %w", line, t.name, errEmptyID)
		}
		if _, ok := seen[id]; ok {
			return fmt.Errorf("line %d in %s: %w %q", line, t.name, errDuplicateID, id)
		}
		if err := row.Validate(); err != nil {
			return fmt.Errorf("invalid row %q in %s: %w", id, t.name, err)
		}
		seen[id] = struct{}{}
		seq = max(seq, t.seqOf(id))
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read table %s: %w", t.name, err)
	}
	if rows == nil {
		rows = []T{}
	}
	t.rows, t.seq = rows, seq
	return nil
}
