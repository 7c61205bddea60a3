package records

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestKind(t *testing.T) {
	t.Run("Lookup", func(t *testing.T) {
		var names []string
		for _, k := range Kinds() {
			names = append(names, k.Name())
			if got, ok := Lookup(k.Name()); !ok || got != k {
				t.Errorf("Lookup(%q) = %v, %v", k.Name(), got, ok)
			}
		}
		want := []string{"blogs", "events", "gallery", "team", "faculty", "chapters", "resources"}
		if !slices.Equal(names, want) {
			t.Errorf("Kinds() = %v, want %v", names, want)
		}
		if _, ok := Lookup("users"); ok {
			t.Error("Lookup(users) succeeded")
		}
	})
	t.Run("Categories", func(t *testing.T) {
		if got := Faculty.Categories(); !slices.Equal(got, []string{"team"}) {
			t.Errorf("Faculty.Categories() = %v", got)
		}
		if got := Chapters.Categories(); !slices.Equal(got, []string{"chapters"}) {
			t.Errorf("Chapters.Categories() = %v", got)
		}
	})
	t.Run("Schema", func(t *testing.T) {
		s := Events.Schema()
		if !slices.Contains(s.Required, "title") || !slices.Contains(s.Required, "date") {
			t.Errorf("Required = %v", s.Required)
		}
		prop, ok := s.Properties.Get("date")
		if !ok || prop.Format != "date" {
			t.Errorf("date property = %+v", prop)
		}
	})
}

func TestDecode(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		t.Run("defaults", func(t *testing.T) {
			rec, uploads, err := Events.Decode([]byte(`{"title":"X","date":"2024-01-01"}`))
			if err != nil {
				t.Fatal(err)
			}
			if len(uploads) != 0 {
				t.Errorf("uploads = %v", uploads)
			}
			e := rec.(*Event)
			want := Event{Title: "X", Date: "2024-01-01", Location: "TBA", Category: "general", Image: Placeholder}
			if *e != want {
				t.Errorf("Decode() = %+v, want %+v", *e, want)
			}
		})
		t.Run("explicit values", func(t *testing.T) {
			raw := `{"id":"ignored","title":"Post","author":"A","date":"2023-05-06","content":"c",` +
				`"image":"/blogs/a.png","tags":["x","y"],"featured":true}`
			rec, _, err := Blogs.Decode([]byte(raw))
			if err != nil {
				t.Fatal(err)
			}
			b := rec.(*BlogPost)
			if b.ID != "" {
				t.Errorf("ID = %q, want empty", b.ID)
			}
			if !b.Featured || b.Image != "/blogs/a.png" || !slices.Equal(b.Tags, []string{"x", "y"}) {
				t.Errorf("Decode() = %+v", b)
			}
		})
		t.Run("empty array default", func(t *testing.T) {
			rec, _, err := Blogs.Decode([]byte(`{"title":"T","author":"A","date":"2023-05-06","content":"c"}`))
			if err != nil {
				t.Fatal(err)
			}
			if got := string(Encode(rec)); !strings.Contains(got, `"tags":[]`) {
				t.Errorf("Encode() = %s, want empty tags", got)
			}
		})
		t.Run("bool default true", func(t *testing.T) {
			rec, _, err := Chapters.Decode([]byte(`{"name":"N","university":"U"}`))
			if err != nil {
				t.Fatal(err)
			}
			if c := rec.(*Chapter); !c.Active || c.Logo != Placeholder {
				t.Errorf("Decode() = %+v", c)
			}
		})
		t.Run("empty asset becomes placeholder", func(t *testing.T) {
			rec, _, err := Team.Decode([]byte(`{"name":"N","role":"R","image":""}`))
			if err != nil {
				t.Fatal(err)
			}
			if m := rec.(*TeamMember); m.Image != Placeholder {
				t.Errorf("Image = %q", m.Image)
			}
		})
		t.Run("inline upload", func(t *testing.T) {
			rec, uploads, err := Gallery.Decode([]byte(`{"title":"T","image":{"name":"Photo 1.JPG","data":"aGVsbG8="}}`))
			if err != nil {
				t.Fatal(err)
			}
			want := []Upload{{Field: "image", Category: "gallery", Name: "Photo 1.JPG", Data: []byte("hello")}}
			if len(uploads) != 1 || uploads[0].Field != want[0].Field || uploads[0].Category != want[0].Category ||
				uploads[0].Name != want[0].Name || string(uploads[0].Data) != "hello" {
				t.Errorf("uploads = %+v, want %+v", uploads, want)
			}
			g := rec.(*GalleryItem)
			if g.Image != "" {
				t.Errorf("Image = %q, want empty until stored", g.Image)
			}
			if err := Gallery.SetAsset(g, "image", "/gallery/photo-1.jpg"); err != nil {
				t.Fatal(err)
			}
			if g.Image != "/gallery/photo-1.jpg" {
				t.Errorf("SetAsset did not set Image: %q", g.Image)
			}
			if err := g.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name   string
			kind   *Kind
			raw    string
			fields []string
		}{
			{"not an object", Events, `[1]`, []string{"body"}},
			{"invalid json", Events, `{`, []string{"body"}},
			{"missing required", Events, `{}`, []string{"date", "title"}},
			{"blank required", Events, `{"title":"  ","date":"2024-01-01"}`, []string{"title"}},
			{"wrong type", Events, `{"title":1,"date":"2024-01-01","featured":"yes"}`, []string{"featured", "title"}},
			{"bad date", Events, `{"title":"X","date":"01/02/2024"}`, []string{"date"}},
			{"enum", Events, `{"title":"X","date":"2024-01-01","category":"party"}`, []string{"category"}},
			{"unknown field", Events, `{"title":"X","date":"2024-01-01","venue":"here"}`, []string{"venue"}},
			{"bad asset path", Events, `{"title":"X","date":"2024-01-01","image":"../etc/passwd"}`, []string{"image"}},
			{"bad upload", Events, `{"title":"X","date":"2024-01-01","image":{"name":"","data":"aGk="}}`, []string{"image"}},
			{"array items", Blogs, `{"title":"T","author":"A","date":"2023-05-06","content":"c","tags":[1]}`, []string{"tags"}},
			{"url", Resources, `{"title":"T","url":"not a url"}`, []string{"url"}},
			{"email", Faculty, `{"name":"N","title":"Dr","email":"nope"}`, []string{"email"}},
			{"required asset", Gallery, `{"title":"T"}`, []string{"image"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec, uploads, err := tt.kind.Decode([]byte(tt.raw))
				if rec != nil || uploads != nil {
					t.Errorf("Decode() returned partial result %+v %+v", rec, uploads)
				}
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("Decode() error = %v, want *ValidationError", err)
				}
				var got []string
				for k := range verr.Fields {
					got = append(got, k)
				}
				slices.Sort(got)
				if !slices.Equal(got, tt.fields) {
					t.Errorf("Fields = %v, want %v", verr.Fields, tt.fields)
				}
			})
		}
	})
}

func TestValidate(t *testing.T) {
	valid := &Event{ID: "1", Title: "T", Date: "2024-01-01", Category: "general", Image: Placeholder}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	invalid := &Event{ID: "1", Date: "tomorrow"}
	err := invalid.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() = %v", err)
	}
	if _, ok := verr.Fields["title"]; !ok {
		t.Errorf("Fields = %v, want title", verr.Fields)
	}
	if _, ok := verr.Fields["date"]; !ok {
		t.Errorf("Fields = %v, want date", verr.Fields)
	}
	if !strings.HasPrefix(err.Error(), "invalid events: date: ") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestEncode(t *testing.T) {
	m := &TeamMember{ID: "3", Name: "Ada", Role: "Lead", Image: "/team/ada.jpg"}
	var got map[string]any
	if err := json.Unmarshal(Encode(m), &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "3" || got["image"] != "/team/ada.jpg" {
		t.Errorf("Encode() = %v", got)
	}
}

func TestAssetRef(t *testing.T) {
	tests := []struct {
		ref         AssetRef
		valid       bool
		placeholder bool
		category    string
	}{
		{"/events/a.jpg", true, false, "events"},
		{Placeholder, true, true, "images"},
		{"", false, true, ""},
		{"events/a.jpg", false, false, "events"},
		{"/events/../a.jpg", false, false, "events"},
		{"/a.jpg", false, false, "a.jpg"},
		{"/events/a\\b.jpg", false, false, "events"},
	}
	for _, tt := range tests {
		t.Run(string(tt.ref), func(t *testing.T) {
			if got := tt.ref.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.ref.IsPlaceholder(); got != tt.placeholder {
				t.Errorf("IsPlaceholder() = %v, want %v", got, tt.placeholder)
			}
			if got := tt.ref.Category(); got != tt.category {
				t.Errorf("Category() = %q, want %q", got, tt.category)
			}
		})
	}
}
