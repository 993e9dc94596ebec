// Package jsonc edits the JSON-with-comments files an editor workspace keeps
// under .theia/ (tasks.json, launch.json, settings.json).
package jsonc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ErrMalformed is returned when a file is not a JSON(-with-comments) object.
var ErrMalformed = errors.New("jsonc: malformed document")

// Entry is one element of an array member, decoded as plain JSON.
type Entry = map[string]any

// Document is a JSONC object loaded for editing.
type Document struct {
	path             string
	root             hujson.Value
	preserveComments bool
}

// Parse reads a JSONC object. With preserveComments false every comment is
// dropped immediately and the document is written back as plain JSON.
func Parse(data []byte, preserveComments bool) (*Document, error) {
	root, err := hujson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, ok := root.Value.(*hujson.Object); !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformed)
	}
	if !preserveComments {
		root.Standardize()
	}
	return &Document{root: root, preserveComments: preserveComments}, nil
}

// Load reads the document at path.
func Load(path string, preserveComments bool) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data, preserveComments)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.path = path
	return doc, nil
}

// LoadOrInit loads path, or starts from skeleton when the file does not exist.
// The returned bool reports whether the skeleton was used.
func LoadOrInit(path string, skeleton any, preserveComments bool) (*Document, bool, error) {
	doc, err := Load(path, preserveComments)
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	data, err := json.MarshalIndent(skeleton, "", "    ")
	if err != nil {
		return nil, false, fmt.Errorf("jsonc: encode skeleton: %w", err)
	}
	doc, err = Parse(data, preserveComments)
	if err != nil {
		return nil, false, err
	}
	doc.path = path
	return doc, true, nil
}

// Path returns the file the document was loaded from.
func (d *Document) Path() string {
	return d.path
}

func (d *Document) object() *hujson.Object {
	return d.root.Value.(*hujson.Object)
}

func (d *Document) member(key string) *hujson.ObjectMember {
	obj := d.object()
	for i := range obj.Members {
		name, ok := obj.Members[i].Name.Value.(hujson.Literal)
		if ok && name.String() == key {
			return &obj.Members[i]
		}
	}
	return nil
}

// Has reports whether the top-level object has key.
func (d *Document) Has(key string) bool {
	return d.member(key) != nil
}

// SetIfAbsent adds key with value unless the key already exists.
func (d *Document) SetIfAbsent(key string, value any) (bool, error) {
	if d.Has(key) {
		return false, nil
	}
	v, err := encode(value)
	if err != nil {
		return false, err
	}
	obj := d.object()
	obj.Members = append(obj.Members, hujson.ObjectMember{
		Name:  hujson.Value{Value: hujson.String(key)},
		Value: v,
	})
	return true, nil
}

func (d *Document) array(key string, create bool) (*hujson.Array, error) {
	m := d.member(key)
	if m == nil {
		if !create {
			return nil, nil
		}
		if _, err := d.SetIfAbsent(key, []any{}); err != nil {
			return nil, err
		}
		m = d.member(key)
	}
	arr, ok := m.Value.Value.(*hujson.Array)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an array", ErrMalformed, key)
	}
	return arr, nil
}

// Entries decodes every element of the array member key.
// A missing member yields no entries.
func (d *Document) Entries(key string) ([]Entry, error) {
	arr, err := d.array(key, false)
	if err != nil || arr == nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(arr.Elements))
	for i := range arr.Elements {
		entry, err := decodeEntry(&arr.Elements[i])
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append adds entries to the array member key, creating the member if needed.
func (d *Document) Append(key string, entries ...any) error {
	arr, err := d.array(key, true)
	if err != nil {
		return err
	}
	for _, e := range entries {
		v, err := encode(e)
		if err != nil {
			return err
		}
		arr.Elements = append(arr.Elements, v)
	}
	return nil
}

// RemoveWhere drops every element of the array member key for which match
// returns true. Comments attached in front of a removed element go with it.
func (d *Document) RemoveWhere(key string, match func(Entry) bool) (int, error) {
	arr, err := d.array(key, false)
	if err != nil || arr == nil {
		return 0, err
	}
	kept := arr.Elements[:0]
	removed := 0
	for i := range arr.Elements {
		entry, err := decodeEntry(&arr.Elements[i])
		if err != nil {
			return 0, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		if match(entry) {
			removed++
			continue
		}
		kept = append(kept, arr.Elements[i])
	}
	arr.Elements = kept
	return removed, nil
}

// Bytes renders the document.
func (d *Document) Bytes() ([]byte, error) {
	if d.preserveComments {
		d.root.Format()
		return d.root.Pack(), nil
	}
	d.root.Standardize()
	var out bytes.Buffer
	if err := json.Indent(&out, d.root.Pack(), "", "    "); err != nil {
		return nil, fmt.Errorf("jsonc: indent: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Save writes the document back to the path it was loaded from.
func (d *Document) Save() error {
	if d.path == "" {
		return errors.New("jsonc: document has no path")
	}
	return d.SaveAs(d.path)
}

// SaveAs writes the document to path, creating parent directories.
func (d *Document) SaveAs(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("jsonc: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("jsonc: write %s: %w", path, err)
	}
	d.path = path
	return nil
}

func encode(value any) (hujson.Value, error) {
	data, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return hujson.Value{}, fmt.Errorf("jsonc: encode: %w", err)
	}
	return hujson.Parse(data)
}

func decodeEntry(v *hujson.Value) (Entry, error) {
	data, err := hujson.Standardize(v.Pack())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: element is not an object: %v", ErrMalformed, err)
	}
	return entry, nil
}
