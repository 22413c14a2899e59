package normalize

import (
	"bytes"
	"strconv"

	"incident_extractor/internal/fields"
)

// Entry is one extracted field. Confidence is always 0 under the simple
// schema.
type Entry struct {
	Field      string  `json:"field"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Result is an extraction result whose keys are exactly the requested
// fields, in request order.
type Result struct {
	schema  fields.Schema
	entries []Entry
}

// Empty returns the fully defaulted result for names.
func Empty(names []string, schema fields.Schema) Result {
	return Coerce(nil, names, schema)
}

func (r Result) Schema() fields.Schema { return r.schema }

func (r Result) Len() int { return len(r.entries) }

// Fields returns the keys in request order.
func (r Result) Fields() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Field
	}
	return out
}

// Entries returns a copy of the entries in request order.
func (r Result) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

func (r Result) Get(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Field == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Value returns the extracted text for name, or "".
func (r Result) Value(name string) string {
	e, _ := r.Get(name)
	return e.Value
}

// Strings flattens the result to field -> value.
func (r Result) Strings() map[string]string {
	out := make(map[string]string, len(r.entries))
	for _, e := range r.entries {
		out[e.Field] = e.Value
	}
	return out
}

// Found counts fields with a non-empty value.
func (r Result) Found() int {
	n := 0
	for _, e := range r.entries {
		if e.Value != "" {
			n++
		}
	}
	return n
}

// MarshalJSON writes an object in request order. Simple results map fields
// to strings; confidence results map fields to {"value","confidence"}.
func (r Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range r.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		quoteJSON(&buf, e.Field)
		buf.WriteByte(':')
		if r.schema == fields.SchemaSimple {
			quoteJSON(&buf, e.Value)
			continue
		}
		buf.WriteString(`{"value":`)
		quoteJSON(&buf, e.Value)
		buf.WriteString(`,"confidence":`)
		buf.WriteString(strconv.FormatFloat(e.Confidence, 'f', -1, 64))
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
