// Package records defines the entity kinds of the site and converts them to
// and from their JSON wire form.
//
// Each kind is a Go struct whose field schema is declared with struct tags:
// `json` names the field, `jsonschema` marks it required and carries its
// default, format and allowed values, and `asset:"<category>"` marks a field
// holding an AssetRef. The schema is reflected once at init with
// github.com/invopop/jsonschema and drives Decode.
package records

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/mail"
	"net/url"
	"path"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// AssetRef is the path of an asset relative to the public asset root, in the
// form "/<category>/<name>".
type AssetRef string

// Placeholder is the reference used when a record has no real asset. It
// always resolves and is never released.
const Placeholder AssetRef = "/images/placeholder.svg"

// IsPlaceholder reports whether r is empty or the placeholder.
func (r AssetRef) IsPlaceholder() bool {
	return r == "" || r == Placeholder
}

// Valid reports whether r is a clean "/<category>/<name>" path.
func (r AssetRef) Valid() bool {
	s := string(r)
	if !strings.HasPrefix(s, "/") || strings.ContainsAny(s, "\\\x00") {
		return false
	}
	if path.Clean(s) != s {
		return false
	}
	return strings.Count(s, "/") >= 2
}

// Category returns the first path segment.
func (r AssetRef) Category() string {
	c, _, _ := strings.Cut(strings.TrimPrefix(string(r), "/"), "/")
	return c
}

// Record is implemented by every entity kind.
type Record interface {
	GetID() string
	SetID(id string)
	Validate() error
	// AssetRefs returns the value of every asset field, in field order.
	AssetRefs() []AssetRef
}

// Upload is inline binary content supplied for an asset field. The field is
// left empty by Decode; the caller stores the data and sets the field with
// Kind.SetAsset.
type Upload struct {
	Field    string
	Category string
	Name     string
	Data     []byte
}

// ValidationError reports every invalid field of a payload.
type ValidationError struct {
	Kind string
	// Fields maps a JSON field name to the problem found with it.
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid ")
	b.WriteString(e.Kind)
	for i, k := range slices.Sorted(maps.Keys(e.Fields)) {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Kind describes one entity kind and its collection.
type Kind struct {
	name   string
	scheme IDScheme
	typ    reflect.Type
	schema *jsonschema.Schema
	fields []field
	byName map[string]*field
}

type field struct {
	name     string
	index    []int
	typ      string
	items    string
	required bool
	def      json.RawMessage
	format   string
	enum     []string
	category string
}

var (
	kinds       []*Kind
	kindsByType = map[reflect.Type]*Kind{}

	placeholderJSON = json.RawMessage(`"` + Placeholder + `"`)
	emptyArrayJSON  = json.RawMessage(`[]`)
)

func register[T Record](name string, scheme IDScheme) *Kind {
	typ := reflect.TypeFor[T]().Elem()
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true, RequiredFromJSONSchemaTags: true}
	schema := r.ReflectFromType(typ)
	schema.Title = name
	k := &Kind{name: name, scheme: scheme, typ: typ, schema: schema, byName: map[string]*field{}}

	required := make(map[string]bool, len(schema.Required))
	for _, n := range schema.Required {
		required[n] = true
	}
	for i := range typ.NumField() {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		prop, ok := schema.Properties.Get(name)
		if !ok {
			panic(fmt.Sprintf("records: %s.%s has no schema", typ.Name(), sf.Name))
		}
		f := field{
			name:     name,
			index:    sf.Index,
			typ:      prop.Type,
			required: required[name],
			format:   prop.Format,
			category: sf.Tag.Get("asset"),
		}
		if prop.Items != nil {
			f.items = prop.Items.Type
		}
		if prop.Default != nil {
			f.def = defaultJSON(f.typ, prop.Default)
		}
		for _, v := range prop.Enum {
			f.enum = append(f.enum, fmt.Sprint(v))
		}
		k.fields = append(k.fields, f)
	}
	for i := range k.fields {
		k.byName[k.fields[i].name] = &k.fields[i]
	}
	kinds = append(kinds, k)
	kindsByType[typ] = k
	return k
}

// defaultJSON encodes a default taken from a struct tag.
func defaultJSON(typ string, v any) json.RawMessage {
	if s, ok := v.(string); ok && typ != "string" && json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Kinds returns every kind in display order.
func Kinds() []*Kind {
	return slices.Clone(kinds)
}

// Lookup returns the kind stored in the collection called name.
func Lookup(name string) (*Kind, bool) {
	for _, k := range kinds {
		if k.name == name {
			return k, true
		}
	}
	return nil, false
}

// Name returns the collection name.
func (k *Kind) Name() string { return k.name }

// IDScheme returns how ids are allocated.
func (k *Kind) IDScheme() IDScheme { return k.scheme }

// Schema returns the JSON schema of the kind.
func (k *Kind) Schema() *jsonschema.Schema { return k.schema }

// Categories returns the asset categories used by the kind's asset fields.
func (k *Kind) Categories() []string {
	var out []string
	for i := range k.fields {
		if c := k.fields[i].category; c != "" && !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// AssetFields returns the JSON names of the asset fields, in the order used
// by Record.AssetRefs.
func (k *Kind) AssetFields() []string {
	var out []string
	for i := range k.fields {
		if k.fields[i].category != "" {
			out = append(out, k.fields[i].name)
		}
	}
	return out
}

// New returns a zero record of the kind.
func (k *Kind) New() Record {
	return reflect.New(k.typ).Interface().(Record)
}

// Decode converts a JSON object into a record.
//
// All problems are reported in a single *ValidationError and no record is
// returned in that case. Absent optional fields get their default; absent
// asset fields get the Placeholder. An "id" member is ignored since ids are
// assigned by the store.
func (k *Kind) Decode(raw []byte) (Record, []Upload, error) {
	verr := &ValidationError{Kind: k.name}
	var in map[string]json.RawMessage
	if err := json.Unmarshal(raw, &in); err != nil || in == nil {
		verr.add("body", "must be a JSON object")
		return nil, nil, verr
	}
	for name := range in {
		if _, ok := k.byName[name]; !ok {
			verr.add(name, "unknown field")
		}
	}

	out := make(map[string]json.RawMessage, len(k.fields))
	var uploads []Upload
	for i := range k.fields {
		f := &k.fields[i]
		if f.name == "id" {
			continue
		}
		v, ok := in[f.name]
		if ok && jsonType(v) == "null" {
			ok = false
		}
		if !ok {
			switch {
			case f.required:
				verr.add(f.name, "required")
			case f.category != "":
				out[f.name] = placeholderJSON
			case f.def != nil:
				out[f.name] = f.def
			case f.typ == "array":
				out[f.name] = emptyArrayJSON
			}
			continue
		}
		if f.category != "" && jsonType(v) == "object" {
			up, err := decodeUpload(v)
			if err != nil {
				verr.add(f.name, err.Error())
				continue
			}
			up.Field, up.Category = f.name, f.category
			uploads = append(uploads, up)
			continue
		}
		if msg := f.check(v); msg != "" {
			verr.add(f.name, msg)
			continue
		}
		if f.category != "" && string(v) == `""` {
			v = placeholderJSON
		}
		out[f.name] = v
	}
	if err := verr.orNil(); err != nil {
		return nil, nil, err
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-encode %s: %w", k.name, err)
	}
	rec := k.New()
	if err := json.Unmarshal(b, rec); err != nil {
		verr.add("body", err.Error())
		return nil, nil, verr
	}
	return rec, uploads, nil
}

// SetAsset sets the asset field called name.
func (k *Kind) SetAsset(r Record, name string, ref AssetRef) error {
	f, ok := k.byName[name]
	if !ok || f.category == "" {
		return fmt.Errorf("%s has no asset field %q", k.name, name)
	}
	v := reflect.ValueOf(r)
	if v.Type() != reflect.PointerTo(k.typ) {
		return fmt.Errorf("%T is not a %s record", r, k.name)
	}
	v.Elem().FieldByIndex(f.index).SetString(string(ref))
	return nil
}

// Encode returns the JSON form of r.
func Encode(r Record) json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		// Records only hold strings, booleans and string slices.
		panic(fmt.Sprintf("records: failed to encode %T: %v", r, err))
	}
	return b
}

// validate re-checks a record loaded from storage.
func validate(r Record) error {
	k, ok := kindsByType[reflect.TypeOf(r).Elem()]
	if !ok {
		return fmt.Errorf("unregistered record type %T", r)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(Encode(r), &m); err != nil {
		return err
	}
	verr := &ValidationError{Kind: k.name}
	for i := range k.fields {
		f := &k.fields[i]
		if f.name == "id" {
			continue
		}
		v, ok := m[f.name]
		if !ok || jsonType(v) == "null" {
			if f.required {
				verr.add(f.name, "required")
			}
			continue
		}
		if msg := f.check(v); msg != "" {
			verr.add(f.name, msg)
		}
	}
	return verr.orNil()
}

// check returns a description of what is wrong with v, or "".
func (f *field) check(v json.RawMessage) string {
	got := jsonType(v)
	switch f.typ {
	case "string":
		if got != "string" {
			return "must be a string"
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "must be a string"
		}
		return f.checkString(s)
	case "boolean":
		if got != "boolean" {
			return "must be a boolean"
		}
	case "integer":
		if got != "number" || strings.ContainsAny(string(v), ".eE") {
			return "must be an integer"
		}
	case "number":
		if got != "number" {
			return "must be a number"
		}
	case "array":
		if got != "array" {
			return "must be an array"
		}
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil {
			return "must be an array"
		}
		for _, item := range items {
			if f.items == "string" && jsonType(item) != "string" {
				return "must be an array of strings"
			}
		}
	}
	return ""
}

func (f *field) checkString(s string) string {
	if s == "" || strings.TrimSpace(s) == "" {
		if f.required {
			return "required"
		}
		return ""
	}
	if f.category != "" {
		if !AssetRef(s).Valid() {
			return "must be an asset path like /" + f.category + "/name.jpg"
		}
		return ""
	}
	switch f.format {
	case "date":
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return "must be a date formatted as YYYY-MM-DD"
		}
	case "uri":
		if u, err := url.ParseRequestURI(s); err != nil || u.Scheme == "" {
			return "must be an absolute URL"
		}
	case "email":
		if _, err := mail.ParseAddress(s); err != nil {
			return "must be an email address"
		}
	}
	if len(f.enum) != 0 && !slices.Contains(f.enum, s) {
		return "must be one of " + strings.Join(f.enum, ", ")
	}
	return ""
}

func decodeUpload(v json.RawMessage) (Upload, error) {
	var in struct {
		Name string `json:"name"`
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(v, &in); err != nil {
		return Upload{}, errors.New("upload must be {\"name\": string, \"data\": base64}")
	}
	if strings.TrimSpace(in.Name) == "" {
		return Upload{}, errors.New("upload name is required")
	}
	if len(in.Data) == 0 {
		return Upload{}, errors.New("upload data is empty")
	}
	return Upload{Name: in.Name, Data: in.Data}, nil
}

// jsonType returns the JSON type of an encoded value.
func jsonType(v json.RawMessage) string {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return ""
	}
	switch s[0] {
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case '[':
		return "array"
	case '{':
		return "object"
	default:
		return "number"
	}
}
