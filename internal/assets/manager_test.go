package assets

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/maruel/orgsite/internal/records"
)

func newManager(t *testing.T, opts *Options) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "public"), opts)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManager(t *testing.T) {
	t.Run("Store", func(t *testing.T) {
		t.Run("valid", func(t *testing.T) {
			m := newManager(t, nil)
			tests := []struct {
				name     string
				category string
				want     records.AssetRef
			}{
				{"Team Photo!.JPG", "events", "/events/team-photo.jpg"},
				{"../../etc/passwd", "events", "/events/passwd"},
				{"___.png", "Gallery", "/gallery/asset.png"},
				{"C:\\Users\\me\\My Pic.jpeg", "team", "/team/my-pic.jpeg"},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					ref, err := m.Store(t.Context(), strings.NewReader("data"), tt.name, tt.category)
					if err != nil {
						t.Fatal(err)
					}
					if ref != tt.want {
						t.Errorf("Store() = %q, want %q", ref, tt.want)
					}
					got, err := os.ReadFile(filepath.Join(m.Root(), filepath.FromSlash(string(ref))))
					if err != nil || string(got) != "data" {
						t.Errorf("content = %q, %v", got, err)
					}
					if !m.Resolve(ref) {
						t.Errorf("Resolve(%q) = false", ref)
					}
				})
			}
		})
		t.Run("collision", func(t *testing.T) {
			m := newManager(t, nil)
			seen := map[records.AssetRef]bool{}
			for i := range 3 {
				ref, err := m.Store(t.Context(), strings.NewReader("x"), "a.jpg", "events")
				if err != nil {
					t.Fatal(err)
				}
				if seen[ref] {
					t.Fatalf("duplicate ref %q", ref)
				}
				seen[ref] = true
				if i == 0 && ref != "/events/a.jpg" {
					t.Errorf("first ref = %q", ref)
				}
				if i > 0 && (!strings.HasPrefix(string(ref), "/events/a-") || !strings.HasSuffix(string(ref), ".jpg")) {
					t.Errorf("ref = %q, want /events/a-<stamp>.jpg", ref)
				}
			}
		})
		t.Run("placeholder name is reserved", func(t *testing.T) {
			m := newManager(t, nil)
			ref, err := m.Store(t.Context(), strings.NewReader("<svg>other</svg>"), "Placeholder.SVG", "images")
			if err != nil {
				t.Fatal(err)
			}
			if ref.IsPlaceholder() {
				t.Fatalf("upload took the placeholder reference %q", ref)
			}
			if !strings.HasPrefix(string(ref), "/images/placeholder-") || !strings.HasSuffix(string(ref), ".svg") {
				t.Errorf("ref = %q, want /images/placeholder-<stamp>.svg", ref)
			}
			if _, err := os.Stat(filepath.Join(m.Root(), "images", "placeholder.svg")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("placeholder file written: %v", err)
			}
		})
		t.Run("concurrent", func(t *testing.T) {
			m := newManager(t, nil)
			const n = 20
			refs := make([]records.AssetRef, n)
			var wg sync.WaitGroup
			for i := range n {
				wg.Go(func() {
					ref, err := m.Store(t.Context(), strings.NewReader("x"), "same.png", "gallery")
					if err != nil {
						t.Error(err)
					}
					refs[i] = ref
				})
			}
			wg.Wait()
			seen := map[records.AssetRef]bool{}
			for _, r := range refs {
				if seen[r] {
					t.Errorf("duplicate ref %q", r)
				}
				seen[r] = true
			}
		})
		t.Run("errors", func(t *testing.T) {
			t.Run("too large", func(t *testing.T) {
				m := newManager(t, &Options{MaxSize: 4})
				_, err := m.Store(t.Context(), bytes.NewReader([]byte("12345")), "a.jpg", "events")
				if !errors.Is(err, ErrTooLarge) {
					t.Errorf("Store() = %v, want ErrTooLarge", err)
				}
				entries, _ := os.ReadDir(filepath.Join(m.Root(), "events"))
				if len(entries) != 0 {
					t.Errorf("leftover files: %v", entries)
				}
			})
			t.Run("invalid category", func(t *testing.T) {
				m := newManager(t, nil)
				if _, err := m.Store(t.Context(), strings.NewReader("x"), "a.jpg", "../"); !errors.Is(err, ErrInvalidCategory) {
					t.Errorf("Store() = %v, want ErrInvalidCategory", err)
				}
			})
			t.Run("write error", func(t *testing.T) {
				m := newManager(t, nil)
				// A file where the category directory should be.
				if err := os.WriteFile(filepath.Join(m.Root(), "events"), nil, 0o600); err != nil {
					t.Fatal(err)
				}
				_, err := m.Store(t.Context(), strings.NewReader("x"), "a.jpg", "events")
				var werr *WriteError
				if !errors.As(err, &werr) {
					t.Errorf("Store() = %v, want *WriteError", err)
				}
			})
			t.Run("canceled", func(t *testing.T) {
				m := newManager(t, nil)
				ctx, cancel := context.WithCancel(t.Context())
				cancel()
				if _, err := m.Store(ctx, strings.NewReader("x"), "a.jpg", "events"); !errors.Is(err, context.Canceled) {
					t.Errorf("Store() = %v, want context.Canceled", err)
				}
			})
		})
	})

	t.Run("Resolve", func(t *testing.T) {
		m := newManager(t, nil)
		ref, err := m.Store(t.Context(), strings.NewReader("x"), "a.jpg", "events")
		if err != nil {
			t.Fatal(err)
		}
		tests := []struct {
			ref  records.AssetRef
			want bool
		}{
			{ref, true},
			{records.Placeholder, true},
			{"/events/missing.jpg", false},
			{"/events", false},
			{"/events/../../secret", false},
			{"", false},
		}
		for _, tt := range tests {
			if got := m.Resolve(tt.ref); got != tt.want {
				t.Errorf("Resolve(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		}
	})

	t.Run("Release", func(t *testing.T) {
		m := newManager(t, nil)
		ref, err := m.Store(t.Context(), strings.NewReader("x"), "a.jpg", "events")
		if err != nil {
			t.Fatal(err)
		}
		m.Release(t.Context(), ref)
		if m.Resolve(ref) {
			t.Errorf("Resolve(%q) after Release = true", ref)
		}
		// Releasing again, the placeholder or garbage must not panic.
		m.Release(t.Context(), ref)
		m.Release(t.Context(), records.Placeholder)
		m.Release(t.Context(), "../../x")
	})

	t.Run("Open", func(t *testing.T) {
		m := newManager(t, nil)
		ref, _ := m.Store(t.Context(), strings.NewReader("hello"), "a.txt", "resources")
		f, err := m.Open(ref)
		if err != nil {
			t.Fatal(err)
		}
		defer f.Close()
		buf := make([]byte, 5)
		if _, err := f.Read(buf); err != nil || string(buf) != "hello" {
			t.Errorf("Read() = %q, %v", buf, err)
		}
		if _, err := m.Open("/../x"); err == nil {
			t.Error("Open of invalid ref succeeded")
		}
	})
}

func TestSanitize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello World", "hello-world"},
		{"--a__b--", "a-b"},
		{"ÉTÉ 2024", "t-2024"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
