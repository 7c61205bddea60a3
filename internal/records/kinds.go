// Entity kinds stored by the site.

package records

import "slices"

// BlogPost is an article in the blog.
type BlogPost struct {
	ID       ID       `json:"id" jsonschema:"description=Unique post identifier"`
	Title    string   `json:"title" jsonschema:"required,description=Post title"`
	Author   string   `json:"author" jsonschema:"required"`
	Date     string   `json:"date" jsonschema:"required,format=date,description=Publication date (YYYY-MM-DD)"`
	Excerpt  string   `json:"excerpt,omitempty"`
	Content  string   `json:"content" jsonschema:"required,description=Markdown body"`
	Image    AssetRef `json:"image" asset:"blogs" jsonschema:"description=Cover image"`
	Tags     []string `json:"tags"`
	Featured bool     `json:"featured" jsonschema:"default=false"`
}

func (b *BlogPost) Clone() *BlogPost {
	c := *b
	c.Tags = slices.Clone(b.Tags)
	return &c
}

func (b *BlogPost) GetID() string { return string(b.ID) }
func (b *BlogPost) SetID(id string) { b.ID = ID(id) }
func (b *BlogPost) Validate() error { return validate(b) }
func (b *BlogPost) AssetRefs() []AssetRef { return []AssetRef{b.Image} }

// Event is a meeting, talk or workshop shown on the events page.
type Event struct {
	ID              ID       `json:"id" jsonschema:"description=Unique event identifier"`
	Title           string   `json:"title" jsonschema:"required"`
	Date            string   `json:"date" jsonschema:"required,format=date"`
	Time            string   `json:"time,omitempty" jsonschema:"description=Free-form start time"`
	Location        string   `json:"location" jsonschema:"default=TBA"`
	Description     string   `json:"description,omitempty"`
	Category        string   `json:"category" jsonschema:"default=general,enum=general,enum=workshop,enum=talk,enum=social,enum=competition"`
	Image           AssetRef `json:"image" asset:"events"`
	Featured        bool     `json:"featured" jsonschema:"default=false"`
	RegistrationURL string   `json:"registration_url,omitempty"`
}

func (e *Event) Clone() *Event {
	c := *e
	return &c
}

func (e *Event) GetID() string { return string(e.ID) }
func (e *Event) SetID(id string) { e.ID = ID(id) }
func (e *Event) Validate() error { return validate(e) }
func (e *Event) AssetRefs() []AssetRef { return []AssetRef{e.Image} }

// GalleryItem is one photo of an album.
type GalleryItem struct {
	ID          ID       `json:"id"`
	Title       string   `json:"title" jsonschema:"required"`
	Image       AssetRef `json:"image" asset:"gallery" jsonschema:"required"`
	Album       string   `json:"album" jsonschema:"default=general"`
	Description string   `json:"description,omitempty"`
	Date        string   `json:"date,omitempty" jsonschema:"format=date"`
}

func (g *GalleryItem) Clone() *GalleryItem {
	c := *g
	return &c
}

func (g *GalleryItem) GetID() string { return string(g.ID) }
func (g *GalleryItem) SetID(id string) { g.ID = ID(id) }
func (g *GalleryItem) Validate() error { return validate(g) }
func (g *GalleryItem) AssetRefs() []AssetRef { return []AssetRef{g.Image} }

// TeamMember is a student on the roster. Roster order is display order.
type TeamMember struct {
	ID       ID       `json:"id"`
	Name     string   `json:"name" jsonschema:"required"`
	Role     string   `json:"role" jsonschema:"required"`
	Bio      string   `json:"bio"`
	Image    AssetRef `json:"image" asset:"team"`
	LinkedIn string   `json:"linkedin"`
}

func (m *TeamMember) Clone() *TeamMember {
	c := *m
	return &c
}

func (m *TeamMember) GetID() string { return string(m.ID) }
func (m *TeamMember) SetID(id string) { m.ID = ID(id) }
func (m *TeamMember) Validate() error { return validate(m) }
func (m *TeamMember) AssetRefs() []AssetRef { return []AssetRef{m.Image} }

// FacultyAdvisor is a faculty member listed with the roster.
type FacultyAdvisor struct {
	ID         ID       `json:"id"`
	Name       string   `json:"name" jsonschema:"required"`
	Title      string   `json:"title" jsonschema:"required,description=Academic title"`
	Department string   `json:"department"`
	Email      string   `json:"email,omitempty" jsonschema:"format=email"`
	Image      AssetRef `json:"image" asset:"team"`
}

func (f *FacultyAdvisor) Clone() *FacultyAdvisor {
	c := *f
	return &c
}

func (f *FacultyAdvisor) GetID() string { return string(f.ID) }
func (f *FacultyAdvisor) SetID(id string) { f.ID = ID(id) }
func (f *FacultyAdvisor) Validate() error { return validate(f) }
func (f *FacultyAdvisor) AssetRefs() []AssetRef { return []AssetRef{f.Image} }

// Chapter is a university chapter of the organization.
type Chapter struct {
	ID         ID       `json:"id"`
	Name       string   `json:"name" jsonschema:"required"`
	University string   `json:"university" jsonschema:"required"`
	City       string   `json:"city"`
	Logo       AssetRef `json:"logo" asset:"chapters"`
	Active     bool     `json:"active" jsonschema:"default=true"`
	Website    string   `json:"website,omitempty"`
}

func (c *Chapter) Clone() *Chapter {
	d := *c
	return &d
}

func (c *Chapter) GetID() string { return string(c.ID) }
func (c *Chapter) SetID(id string) { c.ID = ID(id) }
func (c *Chapter) Validate() error { return validate(c) }
func (c *Chapter) AssetRefs() []AssetRef { return []AssetRef{c.Logo} }

// Resource is a link to learning material.
type Resource struct {
	ID          ID       `json:"id"`
	Title       string   `json:"title" jsonschema:"required"`
	URL         string   `json:"url" jsonschema:"required,format=uri"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category" jsonschema:"default=general"`
	Thumbnail   AssetRef `json:"thumbnail" asset:"resources"`
	Featured    bool     `json:"featured" jsonschema:"default=false"`
}

func (r *Resource) Clone() *Resource {
	c := *r
	return &c
}

func (r *Resource) GetID() string { return string(r.ID) }
func (r *Resource) SetID(id string) { r.ID = ID(id) }
func (r *Resource) Validate() error { return validate(r) }
func (r *Resource) AssetRefs() []AssetRef { return []AssetRef{r.Thumbnail} }

// Kinds registered by this package, in display order.
var (
	Blogs     = register[*BlogPost]("blogs", TimeIDs)
	Events    = register[*Event]("events", TimeIDs)
	Gallery   = register[*GalleryItem]("gallery", TimeIDs)
	Team      = register[*TeamMember]("team", SequenceIDs)
	Faculty   = register[*FacultyAdvisor]("faculty", SequenceIDs)
	Chapters  = register[*Chapter]("chapters", SequenceIDs)
	Resources = register[*Resource]("resources", TimeIDs)
)
