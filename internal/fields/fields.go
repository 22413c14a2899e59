// Package fields is the catalog of incident-report fields the extractor can
// request from a model. A catalog is an ordered, immutable list of field names
// with a one-line description of the content and format expected for each.
package fields

import (
	"errors"
	"fmt"
	"strings"
)

// Schema selects the shape of each extracted value.
type Schema string

const (
	// SchemaSimple maps every field to a plain string ("" when not found).
	SchemaSimple Schema = "simple"
	// SchemaConfidence maps every field to {value, confidence}.
	SchemaConfidence Schema = "confidence"
)

// ParseSchema accepts "simple" or "confidence" (case-insensitive); empty
// input selects the confidence schema.
func ParseSchema(raw string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(SchemaConfidence):
		return SchemaConfidence, nil
	case string(SchemaSimple):
		return SchemaSimple, nil
	default:
		return "", fmt.Errorf("unknown extraction schema %q", raw)
	}
}

// Descriptor names one field and describes what the model should put in it.
type Descriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Group       string `json:"group,omitempty" yaml:"group,omitempty"`
}

var (
	ErrUnknownVariant = errors.New("unknown field catalog variant")
	ErrEmptyCatalog   = errors.New("field catalog has no fields")
)

// Catalog is an ordered set of field descriptors. It is safe for concurrent
// reads and never mutated after construction.
type Catalog struct {
	variant     string
	descriptors []Descriptor
	index       map[string]int
}

// New builds a catalog from descriptors, rejecting blank and duplicate names.
func New(variant string, descriptors []Descriptor) (*Catalog, error) {
	if len(descriptors) == 0 {
		return nil, ErrEmptyCatalog
	}
	c := &Catalog{
		variant:     variant,
		descriptors: make([]Descriptor, 0, len(descriptors)),
		index:       make(map[string]int, len(descriptors)),
	}
	for i, d := range descriptors {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("field %d has an empty name", i)
		}
		if _, dup := c.index[name]; dup {
			return nil, fmt.Errorf("duplicate field %q", name)
		}
		d.Name = name
		d.Description = collapseWhitespace(d.Description)
		c.index[name] = len(c.descriptors)
		c.descriptors = append(c.descriptors, d)
	}
	return c, nil
}

// Default returns one of the built-in catalogs (see Variants).
func Default(variant string) (*Catalog, error) {
	v := strings.ToLower(strings.TrimSpace(variant))
	if v == "" {
		v = VariantNERISFire
	}
	groups, ok := variantGroups[v]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}
	var picked []Descriptor
	for _, d := range nerisDescriptors {
		for _, g := range groups {
			if d.Group == g {
				picked = append(picked, d)
				break
			}
		}
	}
	return New(v, picked)
}

// Variant is the catalog's name ("neris", "neris_fire", a file's variant...).
func (c *Catalog) Variant() string { return c.variant }

func (c *Catalog) Len() int { return len(c.descriptors) }

// Names returns the field names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.descriptors))
	for i, d := range c.descriptors {
		out[i] = d.Name
	}
	return out
}

// Descriptors returns a copy of the catalog entries.
func (c *Catalog) Descriptors() []Descriptor {
	return append([]Descriptor(nil), c.descriptors...)
}

// Descriptions returns name -> description for every field with a
// non-empty description.
func (c *Catalog) Descriptions() map[string]string {
	out := make(map[string]string, len(c.descriptors))
	for _, d := range c.descriptors {
		if d.Description != "" {
			out[d.Name] = d.Description
		}
	}
	return out
}

func (c *Catalog) Describe(name string) (string, bool) {
	i, ok := c.index[name]
	if !ok {
		return "", false
	}
	return c.descriptors[i].Description, true
}

func (c *Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
