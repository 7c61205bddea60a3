package store

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"golang.org/x/sync/errgroup"

	"github.com/maruel/orgsite/internal/assets"
	"github.com/maruel/orgsite/internal/jsonldb"
	"github.com/maruel/orgsite/internal/records"
)

type env struct {
	reg    *Registry
	dir    string
	assets *assets.Manager
}

// newEnv creates a registry on files in a temp directory. opts may adjust the
// options before the registry is created.
func newEnv(t *testing.T, opts func(o *Options)) *env {
	t.Helper()
	dir := t.TempDir()
	am, err := assets.NewManager(filepath.Join(dir, "public"), nil)
	if err != nil {
		t.Fatal(err)
	}
	o := &Options{Dir: filepath.Join(dir, "db"), Assets: am}
	if opts != nil {
		opts(o)
	}
	reg, err := NewRegistry(o)
	if err != nil {
		t.Fatal(err)
	}
	return &env{reg: reg, dir: dir, assets: am}
}

func (e *env) store(t *testing.T, name string) Store {
	t.Helper()
	s, err := e.reg.Store(t.Context(), name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// putAsset writes an asset file directly and returns its reference.
func (e *env) putAsset(t *testing.T, ref records.AssetRef) {
	t.Helper()
	p := filepath.Join(e.assets.Root(), filepath.FromSlash(string(ref)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("img"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func listIDs(t *testing.T, s Store) []string {
	t.Helper()
	recs, err := s.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.GetID()
	}
	return out
}

func emptySeeds() fstest.MapFS {
	return fstest.MapFS{}
}

func upload(name, data string) string {
	return fmt.Sprintf(`{"name":%q,"data":%q}`, name, base64.StdEncoding.EncodeToString([]byte(data)))
}

func TestCollection(t *testing.T) {
	t.Run("create then get", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.store(t, "events")
		created, err := s.Create(t.Context(), []byte(`{"title":"X","date":"2024-01-01","location":"Lab"}`))
		if err != nil {
			t.Fatal(err)
		}
		if created.GetID() == "" {
			t.Fatal("empty id")
		}
		got, err := s.Get(t.Context(), created.GetID())
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(records.Encode(got), records.Encode(created)) {
			t.Errorf("Get() = %s, want %s", records.Encode(got), records.Encode(created))
		}
	})

	t.Run("delete then get", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.store(t, "team")
		for _, id := range listIDs(t, s) {
			if _, err := s.Delete(t.Context(), id); err != nil {
				t.Fatal(err)
			}
			_, err := s.Get(t.Context(), id)
			var nf *NotFoundError
			if !errors.As(err, &nf) || nf.ID != id || nf.Collection != "team" {
				t.Errorf("Get(%q) after delete = %v, want NotFoundError", id, err)
			}
		}
		if _, err := s.Delete(t.Context(), "1"); err == nil {
			t.Error("second Delete succeeded")
		}
	})

	t.Run("update keeps position", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.store(t, "team")
		before := listIDs(t, s)
		if len(before) < 3 {
			t.Fatalf("seed too small: %v", before)
		}
		mid := before[1]
		rec, err := s.Update(t.Context(), mid, []byte(`{"name":"New Name","role":"Secretary"}`))
		if err != nil {
			t.Fatal(err)
		}
		if rec.GetID() != mid {
			t.Errorf("Update changed id to %q", rec.GetID())
		}
		if after := listIDs(t, s); !slices.Equal(before, after) {
			t.Errorf("order changed: %v -> %v", before, after)
		}
		got, _ := s.Get(t.Context(), mid)
		if m := got.(*records.TeamMember); m.Name != "New Name" || m.Image != records.Placeholder {
			t.Errorf("Get() = %+v", m)
		}
	})

	t.Run("update unknown id", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.store(t, "events")
		// NotFound wins over the invalid payload.
		_, err := s.Update(t.Context(), "nope", []byte(`{}`))
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Update() = %v, want NotFoundError", err)
		}
	})

	t.Run("seeded events", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.store(t, "events")
		seed := listIDs(t, s)
		if !slices.Equal(seed, []string{"1", "2", "3"}) {
			t.Fatalf("first List() = %v, want the seed", seed)
		}
		if _, err := os.Stat(filepath.Join(e.dir, "db", "events.jsonl")); err != nil {
			t.Errorf("seed not persisted: %v", err)
		}
		rec, err := s.Create(t.Context(), []byte(`{"title":"X","date":"2024-01-01"}`))
		if err != nil {
			t.Fatal(err)
		}
		if slices.Contains(seed, rec.GetID()) {
			t.Errorf("Create() reused id %q", rec.GetID())
		}
		if got, want := listIDs(t, s), append(slices.Clone(seed), rec.GetID()); !slices.Equal(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}
	})

	t.Run("concurrent creates", func(t *testing.T) {
		for _, name := range []string{"events", "team"} {
			t.Run(name, func(t *testing.T) {
				e := newEnv(t, nil)
				s := e.store(t, name)
				before := len(listIDs(t, s))
				raw := `{"title":"X","date":"2024-01-01"}`
				if name == "team" {
					raw = `{"name":"N","role":"R"}`
				}
				const n = 25
				ids := make([]string, n)
				var eg errgroup.Group
				for i := range n {
					eg.Go(func() error {
						rec, err := s.Create(t.Context(), []byte(raw))
						if err != nil {
							return err
						}
						ids[i] = rec.GetID()
						return nil
					})
				}
				if err := eg.Wait(); err != nil {
					t.Fatal(err)
				}
				slices.Sort(ids)
				if len(slices.Compact(slices.Clone(ids))) != n {
					t.Errorf("ids not distinct: %v", ids)
				}
				if got := len(listIDs(t, s)); got != before+n {
					t.Errorf("List() has %d records, want %d", got, before+n)
				}
				// Everything reached the disk.
				reopened := newEnvAt(t, e.dir).store(t, name)
				if got := len(listIDs(t, reopened)); got != before+n {
					t.Errorf("reopened List() has %d records, want %d", got, before+n)
				}
			})
		}
	})

	t.Run("sequence ids are never reused", func(t *testing.T) {
		e := newEnv(t, func(o *Options) { o.Seeds = emptySeeds() })
		s := e.store(t, "chapters")
		var last string
		for range 3 {
			rec, err := s.Create(t.Context(), []byte(`{"name":"N","university":"U"}`))
			if err != nil {
				t.Fatal(err)
			}
			last = rec.GetID()
		}
		if last != "3" {
			t.Fatalf("third id = %q, want 3", last)
		}
		if _, err := s.Delete(t.Context(), "3"); err != nil {
			t.Fatal(err)
		}
		reopened := newEnvAt(t, e.dir, func(o *Options) { o.Seeds = emptySeeds() }).store(t, "chapters")
		rec, err := reopened.Create(t.Context(), []byte(`{"name":"N","university":"U"}`))
		if err != nil {
			t.Fatal(err)
		}
		if rec.GetID() != "4" {
			t.Errorf("id after delete and restart = %q, want 4", rec.GetID())
		}
	})

	t.Run("update releases replaced asset", func(t *testing.T) {
		seed := fstest.MapFS{"events.yaml": {Data: []byte(
			"- id: 41\n  title: A\n  date: \"2024-01-01\"\n  image: /events/shared.jpg\n" +
				"- id: 42\n  title: B\n  date: \"2024-02-01\"\n  image: /events/old.jpg\n" +
				"- id: 43\n  title: C\n  date: \"2024-03-01\"\n  image: /events/shared.jpg\n",
		)}}
		e := newEnv(t, func(o *Options) { o.Seeds = seed })
		e.putAsset(t, "/events/old.jpg")
		e.putAsset(t, "/events/new.jpg")
		e.putAsset(t, "/events/shared.jpg")
		s := e.store(t, "events")

		if _, err := s.Update(t.Context(), "42", []byte(`{"title":"B","date":"2024-02-01","image":"/events/new.jpg"}`)); err != nil {
			t.Fatal(err)
		}
		if e.assets.Resolve("/events/old.jpg") {
			t.Error("/events/old.jpg still resolves")
		}
		if !e.assets.Resolve("/events/new.jpg") {
			t.Error("/events/new.jpg was removed")
		}

		// A reference still held by another record is kept.
		if _, err := s.Update(t.Context(), "41", []byte(`{"title":"A","date":"2024-01-01"}`)); err != nil {
			t.Fatal(err)
		}
		if !e.assets.Resolve("/events/shared.jpg") {
			t.Error("/events/shared.jpg removed while 43 references it")
		}
		if _, err := s.Delete(t.Context(), "43"); err != nil {
			t.Fatal(err)
		}
		if e.assets.Resolve("/events/shared.jpg") {
			t.Error("/events/shared.jpg still resolves after its last reference was deleted")
		}
	})

	t.Run("asset lifecycle with uploads", func(t *testing.T) {
		e := newEnv(t, func(o *Options) { o.Seeds = emptySeeds() })
		s := e.store(t, "gallery")
		rec, err := s.Create(t.Context(), []byte(`{"title":"T","image":`+upload("Group Photo.JPG", "v1")+`}`))
		if err != nil {
			t.Fatal(err)
		}
		first := rec.(*records.GalleryItem).Image
		if first != "/gallery/group-photo.jpg" || !e.assets.Resolve(first) {
			t.Fatalf("Image = %q", first)
		}
		rec, err = s.Update(t.Context(), rec.GetID(), []byte(`{"title":"T","image":`+upload("Group Photo.JPG", "v2")+`}`))
		if err != nil {
			t.Fatal(err)
		}
		second := rec.(*records.GalleryItem).Image
		if second == first || !e.assets.Resolve(second) {
			t.Fatalf("second Image = %q", second)
		}
		if e.assets.Resolve(first) {
			t.Errorf("%s still resolves after update", first)
		}
		if _, err := s.Delete(t.Context(), rec.GetID()); err != nil {
			t.Fatal(err)
		}
		if e.assets.Resolve(second) {
			t.Errorf("%s still resolves after delete", second)
		}
	})

	t.Run("shared across collections", func(t *testing.T) {
		e := newEnv(t, func(o *Options) { o.Seeds = emptySeeds() })
		e.putAsset(t, "/team/pat.jpg")
		team := e.store(t, "team")
		m, err := team.Create(t.Context(), []byte(`{"name":"Pat","role":"Mentor","image":"/team/pat.jpg"}`))
		if err != nil {
			t.Fatal(err)
		}
		// faculty is opened lazily by the reference check.
		fac, err := e.reg.Store(t.Context(), "faculty")
		if err != nil {
			t.Fatal(err)
		}
		f, err := fac.Create(t.Context(), []byte(`{"name":"Pat","title":"Dr","image":"/team/pat.jpg"}`))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := team.Delete(t.Context(), m.GetID()); err != nil {
			t.Fatal(err)
		}
		if !e.assets.Resolve("/team/pat.jpg") {
			t.Fatal("asset removed while faculty still references it")
		}
		if _, err := fac.Delete(t.Context(), f.GetID()); err != nil {
			t.Fatal(err)
		}
		if e.assets.Resolve("/team/pat.jpg") {
			t.Error("asset still resolves after last reference deleted")
		}
	})

	t.Run("strict references", func(t *testing.T) {
		e := newEnv(t, func(o *Options) { o.Lenient = []string{"resources"} })
		s := e.store(t, "events")
		_, err := s.Create(t.Context(), []byte(`{"title":"X","date":"2024-01-01","image":"/events/missing.jpg"}`))
		var verr *records.ValidationError
		if !errors.As(err, &verr) || verr.Fields["image"] == "" {
			t.Errorf("Create() = %v, want ValidationError on image", err)
		}
		lenient := e.store(t, "resources")
		if _, err := lenient.Create(t.Context(), []byte(`{"title":"T","url":"https://x.org","thumbnail":"/resources/missing.png"}`)); err != nil {
			t.Errorf("lenient Create() = %v", err)
		}
	})

	t.Run("persistence failure rolls back", func(t *testing.T) {
		var mu sync.Mutex
		backends := map[string]*jsonldb.MemBackend{}
		e := newEnv(t, func(o *Options) {
			o.Backend = func(name string) (jsonldb.Backend, error) {
				mu.Lock()
				defer mu.Unlock()
				b := jsonldb.NewMemBackend(nil)
				backends[name] = b
				return b, nil
			}
		})
		s := e.store(t, "gallery")
		before := listIDs(t, s)
		mu.Lock()
		b := backends["gallery"]
		mu.Unlock()
		b.FailWith(errors.New("disk full"))

		_, err := s.Create(t.Context(), []byte(`{"title":"T","image":`+upload("x.png", "data")+`}`))
		var perr *PersistenceError
		if !errors.As(err, &perr) || perr.Collection != "gallery" {
			t.Fatalf("Create() = %v, want PersistenceError", err)
		}
		if got := listIDs(t, s); !slices.Equal(got, before) {
			t.Errorf("List() = %v, want %v", got, before)
		}
		if e.assets.Resolve("/gallery/x.png") {
			t.Error("upload of the failed create was kept")
		}
		if _, err := s.Delete(t.Context(), before[0]); !errors.As(err, &perr) {
			t.Errorf("Delete() = %v, want PersistenceError", err)
		}
		if got := listIDs(t, s); !slices.Equal(got, before) {
			t.Errorf("List() after failed delete = %v, want %v", got, before)
		}
	})

	t.Run("ReplaceAll", func(t *testing.T) {
		seed := fstest.MapFS{"team.yaml": {Data: []byte(
			"- id: 1\n  name: A\n  role: R\n  image: /team/a.jpg\n" +
				"- id: 2\n  name: B\n  role: R\n  image: /team/b.jpg\n",
		)}}
		e := newEnv(t, func(o *Options) { o.Seeds = seed })
		e.putAsset(t, "/team/a.jpg")
		e.putAsset(t, "/team/b.jpg")
		s := e.store(t, "team")
		raws := []json.RawMessage{
			json.RawMessage(`{"id":"2","name":"B","role":"Lead","image":"/team/b.jpg"}`),
			json.RawMessage(`{"id":99,"name":"C","role":"New"}`),
		}
		out, err := s.ReplaceAll(t.Context(), raws)
		if err != nil {
			t.Fatal(err)
		}
		if got := listIDs(t, s); !slices.Equal(got, []string{"2", "3"}) {
			t.Errorf("List() = %v, want [2 3]", got)
		}
		if len(out) != 2 || out[0].(*records.TeamMember).Role != "Lead" {
			t.Errorf("ReplaceAll() = %v", out)
		}
		if e.assets.Resolve("/team/a.jpg") {
			t.Error("/team/a.jpg not released")
		}
		if !e.assets.Resolve("/team/b.jpg") {
			t.Error("/team/b.jpg released")
		}

		t.Run("errors", func(t *testing.T) {
			_, err := s.ReplaceAll(t.Context(), []json.RawMessage{
				json.RawMessage(`{"name":"ok","role":"R"}`),
				json.RawMessage(`{"name":"missing role"}`),
			})
			var verr *records.ValidationError
			if !errors.As(err, &verr) || verr.Fields["1.role"] == "" {
				t.Fatalf("ReplaceAll() = %v, want ValidationError on 1.role", err)
			}
			if got := listIDs(t, s); !slices.Equal(got, []string{"2", "3"}) {
				t.Errorf("List() after failed ReplaceAll = %v", got)
			}
		})
	})

	t.Run("validation", func(t *testing.T) {
		e := newEnv(t, nil)
		s := e.store(t, "blogs")
		before := listIDs(t, s)
		_, err := s.Create(t.Context(), []byte(`{"title":"no body"}`))
		var verr *records.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Create() = %v, want ValidationError", err)
		}
		if got := listIDs(t, s); !slices.Equal(got, before) {
			t.Errorf("List() = %v, want %v", got, before)
		}
	})
}

// newEnvAt reopens a registry on the data of a previous env.
func newEnvAt(t *testing.T, dir string, opts ...func(o *Options)) *env {
	t.Helper()
	am, err := assets.NewManager(filepath.Join(dir, "public"), nil)
	if err != nil {
		t.Fatal(err)
	}
	o := &Options{Dir: filepath.Join(dir, "db"), Assets: am}
	for _, f := range opts {
		f(o)
	}
	reg, err := NewRegistry(o)
	if err != nil {
		t.Fatal(err)
	}
	return &env{reg: reg, dir: dir, assets: am}
}

func TestRegistry(t *testing.T) {
	t.Run("unknown collection", func(t *testing.T) {
		e := newEnv(t, nil)
		_, err := e.reg.Store(t.Context(), "users")
		var nf *NotFoundError
		if !errors.As(err, &nf) || nf.ID != "" {
			t.Errorf("Store(users) = %v, want NotFoundError", err)
		}
	})

	t.Run("single instance", func(t *testing.T) {
		e := newEnv(t, nil)
		const n = 16
		got := make([]Store, n)
		var eg errgroup.Group
		for i := range n {
			eg.Go(func() error {
				s, err := e.reg.Store(t.Context(), "events")
				got[i] = s
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			t.Fatal(err)
		}
		for _, s := range got[1:] {
			if s != got[0] {
				t.Fatal("concurrent first accesses built different stores")
			}
		}
	})

	t.Run("Preload", func(t *testing.T) {
		e := newEnv(t, nil)
		if err := e.reg.Preload(t.Context()); err != nil {
			t.Fatal(err)
		}
		for _, name := range e.reg.Names() {
			if _, err := os.Stat(filepath.Join(e.dir, "db", name+".jsonl")); err != nil {
				t.Errorf("%s not loaded: %v", name, err)
			}
		}
	})

	t.Run("open failure is retried", func(t *testing.T) {
		e := newEnv(t, nil)
		path := filepath.Join(e.dir, "db", "events.jsonl")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("garbage\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := e.reg.Store(t.Context(), "events"); err == nil {
			t.Fatal("Store() on corrupt file succeeded")
		}
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}
		if _, err := e.reg.Store(t.Context(), "events"); err != nil {
			t.Errorf("Store() after repair = %v", err)
		}
	})

	t.Run("bolt", func(t *testing.T) {
		dir := t.TempDir()
		db, err := jsonldb.OpenBolt(filepath.Join(dir, "site.bolt"))
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		am, err := assets.NewManager(filepath.Join(dir, "public"), nil)
		if err != nil {
			t.Fatal(err)
		}
		reg, err := NewRegistry(&Options{Bolt: db, Assets: am})
		if err != nil {
			t.Fatal(err)
		}
		s, err := reg.Store(t.Context(), "chapters")
		if err != nil {
			t.Fatal(err)
		}
		rec, err := s.Create(t.Context(), []byte(`{"name":"New","university":"U"}`))
		if err != nil {
			t.Fatal(err)
		}
		reg2, _ := NewRegistry(&Options{Bolt: db, Assets: am})
		s2, err := reg2.Store(t.Context(), "chapters")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s2.Get(t.Context(), rec.GetID()); err != nil {
			t.Errorf("Get() from second registry = %v", err)
		}
	})

	t.Run("UploadAsset", func(t *testing.T) {
		e := newEnv(t, nil)
		ref, err := e.reg.UploadAsset(t.Context(), "events", strings.NewReader("x"), "Poster.PNG")
		if err != nil {
			t.Fatal(err)
		}
		if ref != "/events/poster.png" {
			t.Errorf("UploadAsset() = %q", ref)
		}
		used, err := e.reg.Referenced(t.Context(), ref)
		if err != nil || used {
			t.Errorf("Referenced() = %v, %v, want false", used, err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := NewRegistry(nil); err == nil {
			t.Error("NewRegistry(nil) succeeded")
		}
		am, _ := assets.NewManager(t.TempDir(), nil)
		if _, err := NewRegistry(&Options{Assets: am}); err == nil {
			t.Error("NewRegistry without storage succeeded")
		}
	})
}

func TestSeeds(t *testing.T) {
	e := newEnv(t, nil)
	for _, name := range e.reg.Names() {
		t.Run(name, func(t *testing.T) {
			s := e.store(t, name)
			if len(listIDs(t, s)) == 0 {
				t.Errorf("%s has no seed", name)
			}
		})
	}
}
