package vgspec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Kind classifies a transform by the operation it performs.
type Kind string

const (
	KindFilter    Kind = "filter"
	KindBin       Kind = "bin"
	KindExtent    Kind = "extent"
	KindAggregate Kind = "aggregate"

	// KindCustom covers every other transform type, including executor steps
	// inserted by a rewrite. Custom steps are opaque.
	KindCustom Kind = "custom"
)

// Transform is one step of a data source's pipeline.
type Transform struct {
	Type   string
	Params map[string]any // every member except "type"
}

// Kind returns the operation kind of the step.
func (t Transform) Kind() Kind {
	switch Kind(t.Type) {
	case KindFilter, KindBin, KindExtent, KindAggregate:
		return Kind(t.Type)
	default:
		return KindCustom
	}
}

// Param returns the raw value of a parameter.
func (t Transform) Param(key string) (any, bool) {
	v, ok := t.Params[key]
	return v, ok
}

// Clone returns a deep copy of the step.
func (t Transform) Clone() Transform {
	return Transform{Type: t.Type, Params: cloneObject(t.Params)}
}

// ToValue returns the step as a plain JSON object.
func (t Transform) ToValue() map[string]any {
	obj := cloneObject(t.Params)
	if obj == nil {
		obj = make(map[string]any, 1)
	}
	obj["type"] = t.Type
	return obj
}

// DataSource is a named dataset and its transform pipeline.
type DataSource struct {
	Name       string
	Transforms []Transform
	Props      map[string]any // every member except "name" and "transform"
}

// Clone returns a deep copy of the data source.
func (d DataSource) Clone() DataSource {
	out := DataSource{
		Name:  d.Name,
		Props: cloneObject(d.Props),
	}
	if d.Transforms != nil {
		out.Transforms = make([]Transform, len(d.Transforms))
		for i, t := range d.Transforms {
			out.Transforms[i] = t.Clone()
		}
	}
	return out
}

// ToValue returns the data source as a plain JSON object.
// An empty pipeline is written without a "transform" member.
func (d DataSource) ToValue() map[string]any {
	obj := cloneObject(d.Props)
	if obj == nil {
		obj = make(map[string]any, 2)
	}
	obj["name"] = d.Name
	if len(d.Transforms) > 0 {
		list := make([]any, len(d.Transforms))
		for i, t := range d.Transforms {
			list[i] = t.ToValue()
		}
		obj["transform"] = list
	}
	return obj
}

// Document is a parsed visualization specification.
type Document struct {
	Data  []DataSource
	Props map[string]any // every top-level member except "data"
}

// ParseError reports a structurally invalid document.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Parse decodes a JSON document.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if raw == nil {
		return nil, &ParseError{Message: "document must be a JSON object"}
	}
	return FromValue(raw)
}

// FromValue builds a document from an already decoded JSON object.
// The input is deep-copied.
func FromValue(raw map[string]any) (*Document, error) {
	doc := &Document{Props: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "data" {
			continue
		}
		doc.Props[k] = cloneValue(v)
	}

	rawData, ok := raw["data"]
	if !ok || rawData == nil {
		return doc, nil
	}
	list, ok := rawData.([]any)
	if !ok {
		return nil, &ParseError{Path: "data", Message: "must be an array"}
	}

	seen := make(map[string]bool, len(list))
	for i, item := range list {
		ds, err := parseDataSource(fmt.Sprintf("data[%d]", i), item)
		if err != nil {
			return nil, err
		}
		if seen[ds.Name] {
			return nil, &ParseError{
				Path:    fmt.Sprintf("data[%d].name", i),
				Message: fmt.Sprintf("duplicate data source name %q", ds.Name),
			}
		}
		seen[ds.Name] = true
		doc.Data = append(doc.Data, ds)
	}
	return doc, nil
}

func parseDataSource(path string, v any) (DataSource, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return DataSource{}, &ParseError{Path: path, Message: "must be an object"}
	}
	name, ok := obj["name"].(string)
	if !ok || name == "" {
		return DataSource{}, &ParseError{Path: path + ".name", Message: "name is required and must be a string"}
	}

	ds := DataSource{Name: name, Props: make(map[string]any, len(obj))}
	for k, val := range obj {
		if k == "name" || k == "transform" {
			continue
		}
		ds.Props[k] = cloneValue(val)
	}

	rawTransforms, ok := obj["transform"]
	if !ok || rawTransforms == nil {
		return ds, nil
	}
	list, ok := rawTransforms.([]any)
	if !ok {
		return DataSource{}, &ParseError{Path: path + ".transform", Message: "must be an array"}
	}
	for i, item := range list {
		tpath := fmt.Sprintf("%s.transform[%d]", path, i)
		tobj, ok := item.(map[string]any)
		if !ok {
			return DataSource{}, &ParseError{Path: tpath, Message: "must be an object"}
		}
		typ, ok := tobj["type"].(string)
		if !ok || typ == "" {
			return DataSource{}, &ParseError{Path: tpath + ".type", Message: "type is required and must be a string"}
		}
		params := make(map[string]any, len(tobj))
		for k, val := range tobj {
			if k == "type" {
				continue
			}
			params[k] = cloneValue(val)
		}
		ds.Transforms = append(ds.Transforms, Transform{Type: typ, Params: params})
	}
	return ds, nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := &Document{Props: cloneObject(d.Props)}
	if d.Data != nil {
		out.Data = make([]DataSource, len(d.Data))
		for i, ds := range d.Data {
			out.Data[i] = ds.Clone()
		}
	}
	return out
}

// Lookup returns the index of the named data source, or -1.
func (d *Document) Lookup(name string) int {
	for i := range d.Data {
		if d.Data[i].Name == name {
			return i
		}
	}
	return -1
}

// ToValue returns the whole document as a plain JSON object.
func (d *Document) ToValue() map[string]any {
	obj := cloneObject(d.Props)
	if obj == nil {
		obj = make(map[string]any, 1)
	}
	if d.Data != nil {
		list := make([]any, len(d.Data))
		for i, ds := range d.Data {
			list[i] = ds.ToValue()
		}
		obj["data"] = list
	}
	return obj
}

// DataValue returns only the "data" section as a plain JSON array.
func (d *Document) DataValue() []any {
	list := make([]any, len(d.Data))
	for i, ds := range d.Data {
		list[i] = ds.ToValue()
	}
	return list
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToValue())
}

// Write encodes v as JSON without HTML escaping, so expressions such as
// "a < b" stay readable. indent may be empty for compact output.
func Write(w io.Writer, v any, indent string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(v)
}

// WriteJSON encodes the document with Write.
func (d *Document) WriteJSON(w io.Writer, indent string) error {
	return Write(w, d.ToValue(), indent)
}

// Members returns a top-level member as an array, or nil.
func (d *Document) Members(key string) []any {
	list, _ := d.Props[key].([]any)
	return list
}

func cloneObject(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneObject(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = e
		}
		return out
	default:
		return v
	}
}
