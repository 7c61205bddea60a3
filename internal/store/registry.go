// Package store implements the collections of the site on top of jsonldb
// tables, and the registry handing them out.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/maruel/orgsite/internal/assets"
	"github.com/maruel/orgsite/internal/jsonldb"
	"github.com/maruel/orgsite/internal/metrics"
	"github.com/maruel/orgsite/internal/records"
	"github.com/maruel/orgsite/internal/store/seeds"
)

// Options configures a Registry.
type Options struct {
	// Dir holds one <collection>.jsonl file per collection. Ignored when
	// Bolt or Backend is set.
	Dir string
	// Bolt stores every collection in a single bbolt file instead.
	Bolt *jsonldb.BoltDB
	// Backend overrides how a collection's backend is created.
	Backend func(name string) (jsonldb.Backend, error)
	// Assets is the asset manager shared by every collection. Required.
	Assets *assets.Manager
	// Seeds holds <collection>.yaml seed files. Defaults to the embedded seeds.
	Seeds fs.FS
	// Lenient lists collections whose asset references are not checked.
	Lenient []string
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Registry maps collection names to their Store. Collections are opened on
// first use and kept for the lifetime of the Registry.
type Registry struct {
	opts Options
	refs *assets.RefCounter

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	done  chan struct{}
	store Store
	err   error
}

// NewRegistry returns a Registry. No collection is opened yet.
func NewRegistry(opts *Options) (*Registry, error) {
	if opts == nil || opts.Assets == nil {
		return nil, errors.New("an asset manager is required")
	}
	r := &Registry{opts: *opts, refs: assets.NewRefCounter(), entries: map[string]*entry{}}
	if r.opts.Seeds == nil {
		r.opts.Seeds = seeds.FS
	}
	if r.opts.Backend == nil {
		switch {
		case r.opts.Bolt != nil:
			r.opts.Backend = func(name string) (jsonldb.Backend, error) {
				return r.opts.Bolt.Backend(name), nil
			}
		case r.opts.Dir != "":
			r.opts.Backend = func(name string) (jsonldb.Backend, error) {
				return jsonldb.NewFileBackend(filepath.Join(r.opts.Dir, name+".jsonl"))
			}
		default:
			return nil, errors.New("one of Dir, Bolt or Backend is required")
		}
	}
	return r, nil
}

// Names returns every collection name in display order.
func (r *Registry) Names() []string {
	var out []string
	for _, k := range records.Kinds() {
		out = append(out, k.Name())
	}
	return out
}

// Assets returns the shared asset manager.
func (r *Registry) Assets() *assets.Manager {
	return r.opts.Assets
}

// Store returns the collection called name, opening it on first use.
//
// Concurrent first accesses share a single open. ctx only bounds the wait
// for an open started by another caller; an open always runs to completion.
func (r *Registry) Store(ctx context.Context, name string) (Store, error) {
	k, ok := records.Lookup(name)
	if !ok {
		return nil, &NotFoundError{Collection: name}
	}
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &entry{done: make(chan struct{})}
		r.entries[name] = e
		r.mu.Unlock()
		e.store, e.err = r.open(k)
		if e.err != nil {
			r.mu.Lock()
			delete(r.entries, name)
			r.mu.Unlock()
			slog.ErrorContext(ctx, "failed to open collection", "collection", name, "err", e.err)
		}
		close(e.done)
	} else {
		r.mu.Unlock()
	}
	select {
	case <-e.done:
		return e.store, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Preload opens every collection concurrently.
func (r *Registry) Preload(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, name := range r.Names() {
		eg.Go(func() error {
			_, err := r.Store(ctx, name)
			return err
		})
	}
	return eg.Wait()
}

// Referenced reports whether any record of any collection references ref.
//
// Every collection is opened first so that their references are counted.
func (r *Registry) Referenced(ctx context.Context, ref records.AssetRef) (bool, error) {
	if ref.IsPlaceholder() {
		return true, nil
	}
	if err := r.Preload(ctx); err != nil {
		return false, err
	}
	return r.refs.Count(ref) > 0, nil
}

// UploadAsset stores an asset without attaching it to a record.
func (r *Registry) UploadAsset(ctx context.Context, category string, data io.Reader, name string) (records.AssetRef, error) {
	return r.opts.Assets.Store(ctx, data, name, category)
}

func (r *Registry) open(k *records.Kind) (Store, error) {
	switch k {
	case records.Blogs:
		return openCollection[*records.BlogPost](r, k)
	case records.Events:
		return openCollection[*records.Event](r, k)
	case records.Gallery:
		return openCollection[*records.GalleryItem](r, k)
	case records.Team:
		return openCollection[*records.TeamMember](r, k)
	case records.Faculty:
		return openCollection[*records.FacultyAdvisor](r, k)
	case records.Chapters:
		return openCollection[*records.Chapter](r, k)
	case records.Resources:
		return openCollection[*records.Resource](r, k)
	default:
		return nil, fmt.Errorf("no collection type for kind %s", k.Name())
	}
}

func openCollection[T entity[T]](r *Registry, k *records.Kind) (*Collection[T], error) {
	backend, err := r.opts.Backend(k.Name())
	if err != nil {
		return nil, err
	}
	table, err := jsonldb.NewTable(k.Name(), backend, &jsonldb.Options[T]{
		Seed:  func() ([]T, error) { return loadSeed[T](r.opts.Seeds, k.Name()) },
		SeqOf: k.IDScheme().SeqOf,
	})
	if err != nil {
		var perr *jsonldb.PersistError
		if errors.As(err, &perr) {
			return nil, &PersistenceError{Collection: k.Name(), Err: perr.Err}
		}
		return nil, err
	}
	table.AddObserver(&refTracker[T]{name: k.Name(), refs: r.refs, metrics: r.opts.Metrics})
	return &Collection[T]{
		kind:       k,
		table:      table,
		assets:     r.opts.Assets,
		strict:     !slices.Contains(r.opts.Lenient, k.Name()),
		metrics:    r.opts.Metrics,
		referenced: r.Referenced,
	}, nil
}

// loadSeed decodes <name>.yaml from fsys. A missing file is an empty seed.
func loadSeed[T any](fsys fs.FS, name string) ([]T, error) {
	data, err := fs.ReadFile(fsys, name+".yaml")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var docs []map[string]any
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse seed %s: %w", name, err)
	}
	out := make([]T, 0, len(docs))
	for i, doc := range docs {
		// Round-trip through JSON so the record's json tags and
		// UnmarshalJSON methods apply.
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("seed %s[%d]: %w", name, i, err)
		}
		var row T
		if err := json.Unmarshal(b, &row); err != nil {
			return nil, fmt.Errorf("seed %s[%d]: %w", name, i, err)
		}
		out = append(out, row)
	}
	return out, nil
}
