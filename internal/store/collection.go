package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/maruel/orgsite/internal/assets"
	"github.com/maruel/orgsite/internal/jsonldb"
	"github.com/maruel/orgsite/internal/metrics"
	"github.com/maruel/orgsite/internal/records"
)

// Store is the CRUD surface of one collection.
type Store interface {
	Name() string
	Kind() *records.Kind
	// List returns every record in insertion order.
	List(ctx context.Context) ([]records.Record, error)
	Get(ctx context.Context, id string) (records.Record, error)
	// Create decodes raw, stores its inline uploads, assigns a fresh id and
	// appends the record.
	Create(ctx context.Context, raw []byte) (records.Record, error)
	// Update replaces the record id in place with the decoded raw.
	Update(ctx context.Context, id string, raw []byte) (records.Record, error)
	Delete(ctx context.Context, id string) (records.Record, error)
	// ReplaceAll substitutes the whole collection. Payloads whose "id" names
	// an existing record keep it; the others get fresh ids.
	ReplaceAll(ctx context.Context, raws []json.RawMessage) ([]records.Record, error)
}

// entity is the constraint on the record types a Collection holds.
type entity[T any] interface {
	records.Record
	Clone() T
}

// Collection implements Store for one entity kind on top of a jsonldb.Table.
type Collection[T entity[T]] struct {
	kind    *records.Kind
	table   *jsonldb.Table[T]
	assets  *assets.Manager
	strict  bool
	metrics *metrics.Metrics
	// referenced reports whether any record of any collection holds ref.
	referenced func(ctx context.Context, ref records.AssetRef) (bool, error)
}

func (c *Collection[T]) Name() string {
	return c.kind.Name()
}

func (c *Collection[T]) Kind() *records.Kind {
	return c.kind
}

func (c *Collection[T]) List(ctx context.Context) (out []records.Record, err error) {
	defer c.observe("list", time.Now(), &err)
	rows, err := c.table.All(ctx)
	if err != nil {
		return nil, err
	}
	out = make([]records.Record, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (_ records.Record, err error) {
	defer c.observe("get", time.Now(), &err)
	row, err := c.table.Get(ctx, id)
	if errors.Is(err, jsonldb.ErrRowNotFound) {
		return nil, &NotFoundError{Collection: c.Name(), ID: id}
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (c *Collection[T]) Create(ctx context.Context, raw []byte) (_ records.Record, err error) {
	defer c.observe("create", time.Now(), &err)
	row, uploads, err := c.decode(raw)
	if err != nil {
		return nil, err
	}
	var out T
	err = c.table.Mutate(ctx, func(tx *jsonldb.Tx[T]) error {
		if err := c.storeUploads(ctx, tx, row, uploads); err != nil {
			return err
		}
		if err := c.checkRefs(row, nil); err != nil {
			return err
		}
		row.SetID(c.kind.IDScheme().NewID(tx.Seq()))
		if err := tx.Append(row); err != nil {
			return err
		}
		out = row.Clone()
		return nil
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	slog.InfoContext(ctx, "created record", "collection", c.Name(), "id", out.GetID())
	return out, nil
}

func (c *Collection[T]) Update(ctx context.Context, id string, raw []byte) (_ records.Record, err error) {
	defer c.observe("update", time.Now(), &err)
	var out T
	err = c.table.Mutate(ctx, func(tx *jsonldb.Tx[T]) error {
		i, prev, ok := tx.Find(id)
		if !ok {
			return &NotFoundError{Collection: c.Name(), ID: id}
		}
		row, uploads, err := c.decode(raw)
		if err != nil {
			return err
		}
		if err := c.storeUploads(ctx, tx, row, uploads); err != nil {
			return err
		}
		if err := c.checkRefs(row, prev.AssetRefs()); err != nil {
			return err
		}
		row.SetID(prev.GetID())
		if err := tx.Set(i, row); err != nil {
			return err
		}
		if old := vanished(prev.AssetRefs(), row.AssetRefs()); len(old) != 0 {
			tx.OnCommit(func() { c.release(ctx, old) })
		}
		out = row.Clone()
		return nil
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	slog.InfoContext(ctx, "updated record", "collection", c.Name(), "id", id)
	return out, nil
}

func (c *Collection[T]) Delete(ctx context.Context, id string) (_ records.Record, err error) {
	defer c.observe("delete", time.Now(), &err)
	var out T
	err = c.table.Mutate(ctx, func(tx *jsonldb.Tx[T]) error {
		i, _, ok := tx.Find(id)
		if !ok {
			return &NotFoundError{Collection: c.Name(), ID: id}
		}
		out = tx.Remove(i)
		refs := out.AssetRefs()
		tx.OnCommit(func() { c.release(ctx, refs) })
		return nil
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	slog.InfoContext(ctx, "deleted record", "collection", c.Name(), "id", id)
	return out, nil
}

func (c *Collection[T]) ReplaceAll(ctx context.Context, raws []json.RawMessage) (_ []records.Record, err error) {
	defer c.observe("replace_all", time.Now(), &err)
	var out []records.Record
	err = c.table.Mutate(ctx, func(tx *jsonldb.Tx[T]) error {
		var oldRefs []records.AssetRef
		for _, prev := range tx.Rows() {
			oldRefs = append(oldRefs, prev.AssetRefs()...)
		}

		verr := &records.ValidationError{Kind: c.Name(), Fields: map[string]string{}}
		rows := make([]T, 0, len(raws))
		kept := map[string]bool{}
		seq := tx.Seq()
		scheme := c.kind.IDScheme()
		for i, raw := range raws {
			row, uploads, err := c.decode(raw)
			if err != nil {
				if !mergeValidation(verr, strconv.Itoa(i), err) {
					return err
				}
				continue
			}
			if id := payloadID(raw); id != "" && !kept[id] {
				if _, _, ok := tx.Find(id); ok {
					kept[id] = true
					row.SetID(id)
				}
			}
			if row.GetID() == "" {
				id := scheme.NewID(seq)
				seq = max(seq, scheme.SeqOf(id))
				row.SetID(id)
			}
			if err := c.storeUploads(ctx, tx, row, uploads); err != nil {
				return err
			}
			if err := c.checkRefs(row, oldRefs); err != nil {
				if !mergeValidation(verr, strconv.Itoa(i), err) {
					return err
				}
				continue
			}
			rows = append(rows, row)
		}
		if len(verr.Fields) != 0 {
			return verr
		}
		if err := tx.Replace(rows); err != nil {
			return err
		}
		tx.ObserveSeq(seq)
		var newRefs []records.AssetRef
		for _, row := range rows {
			newRefs = append(newRefs, row.AssetRefs()...)
			out = append(out, row.Clone())
		}
		if old := vanished(oldRefs, newRefs); len(old) != 0 {
			tx.OnCommit(func() { c.release(ctx, old) })
		}
		return nil
	})
	if err != nil {
		return nil, c.wrap(err)
	}
	slog.InfoContext(ctx, "replaced collection", "collection", c.Name(), "records", len(out))
	return out, nil
}

func (c *Collection[T]) decode(raw []byte) (T, []records.Upload, error) {
	var zero T
	rec, uploads, err := c.kind.Decode(raw)
	if err != nil {
		return zero, nil, err
	}
	row, ok := rec.(T)
	if !ok {
		return zero, nil, fmt.Errorf("kind %s decoded %T", c.Name(), rec)
	}
	return row, uploads, nil
}

// storeUploads writes the inline uploads of row and points its asset fields
// at them. The assets are released again if the transaction aborts.
func (c *Collection[T]) storeUploads(ctx context.Context, tx *jsonldb.Tx[T], row T, uploads []records.Upload) error {
	for _, up := range uploads {
		ref, err := c.assets.Store(ctx, bytes.NewReader(up.Data), up.Name, up.Category)
		if err != nil {
			if errors.Is(err, assets.ErrTooLarge) {
				return &records.ValidationError{Kind: c.Name(), Fields: map[string]string{up.Field: err.Error()}}
			}
			return err
		}
		tx.OnAbort(func() { c.assets.Release(context.WithoutCancel(ctx), ref) })
		if err := c.kind.SetAsset(row, up.Field, ref); err != nil {
			return err
		}
	}
	return nil
}

// checkRefs verifies in strict mode that every asset reference of row not
// found in known resolves.
func (c *Collection[T]) checkRefs(row T, known []records.AssetRef) error {
	if !c.strict {
		return nil
	}
	fields := c.kind.AssetFields()
	verr := &records.ValidationError{Kind: c.Name()}
	for i, ref := range row.AssetRefs() {
		if ref.IsPlaceholder() || slices.Contains(known, ref) {
			continue
		}
		if !c.assets.Resolve(ref) {
			verr.Fields = map[string]string{fields[i]: fmt.Sprintf("asset %s does not exist", ref)}
			return verr
		}
	}
	return nil
}

// release removes each of refs that no record references anymore.
//
// It runs after the collection was persisted, with the collection lock held.
func (c *Collection[T]) release(ctx context.Context, refs []records.AssetRef) {
	ctx = context.WithoutCancel(ctx)
	slices.Sort(refs)
	for _, ref := range slices.Compact(refs) {
		if ref.IsPlaceholder() {
			continue
		}
		used, err := c.referenced(ctx, ref)
		if err != nil {
			slog.WarnContext(ctx, "not releasing asset, reference check failed", "ref", ref, "err", err)
			continue
		}
		if !used {
			c.assets.Release(ctx, ref)
		}
	}
}

func (c *Collection[T]) wrap(err error) error {
	var perr *jsonldb.PersistError
	if errors.As(err, &perr) {
		return &PersistenceError{Collection: c.Name(), Err: perr.Err}
	}
	return err
}

func (c *Collection[T]) observe(op string, start time.Time, err *error) {
	c.metrics.ObserveOp(c.Name(), op, start, *err)
}

// vanished returns the refs of old that are absent from curr.
func vanished(old, curr []records.AssetRef) []records.AssetRef {
	var out []records.AssetRef
	for _, r := range old {
		if !r.IsPlaceholder() && !slices.Contains(curr, r) {
			out = append(out, r)
		}
	}
	return out
}

// payloadID returns the "id" member of a JSON object, if any.
func payloadID(raw json.RawMessage) string {
	var p struct {
		ID records.ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return string(p.ID)
}

// mergeValidation copies the fields of a *records.ValidationError into dst,
// prefixed with "prefix.". It returns false for other errors.
func mergeValidation(dst *records.ValidationError, prefix string, err error) bool {
	var verr *records.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	for k, v := range verr.Fields {
		dst.Fields[prefix+"."+k] = v
	}
	return true
}

// refTracker keeps the shared reference counts and the record gauge current.
type refTracker[T entity[T]] struct {
	name    string
	refs    *assets.RefCounter
	metrics *metrics.Metrics
	n       int
}

func (r *refTracker[T]) OnAppend(row T) {
	r.refs.Add(row.AssetRefs()...)
	r.n++
	r.metrics.SetRecords(r.name, r.n)
}

func (r *refTracker[T]) OnUpdate(prev, curr T) {
	r.refs.Add(curr.AssetRefs()...)
	r.refs.Remove(prev.AssetRefs()...)
}

func (r *refTracker[T]) OnDelete(row T) {
	r.refs.Remove(row.AssetRefs()...)
	r.n--
	r.metrics.SetRecords(r.name, r.n)
}
