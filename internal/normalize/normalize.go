// Package normalize turns arbitrary model output into a result that has
// exactly the requested fields. Normalization is total: malformed, fenced,
// truncated or non-JSON text degrades to empty values, never to an error.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"incident_extractor/internal/fields"
)

// Normalize recovers a JSON object from raw and coerces it to schema for the
// requested names. Keys the model added are dropped; keys it left out are
// filled with defaults.
func Normalize(raw string, names []string, schema fields.Schema) Result {
	obj, _ := ParseObject(raw)
	return Coerce(obj, names, schema)
}

// Coerce maps an already-decoded object onto the requested names.
func Coerce(obj map[string]any, names []string, schema fields.Schema) Result {
	names = uniqueNames(names)
	r := Result{schema: schema, entries: make([]Entry, 0, len(names))}
	for _, name := range names {
		src, present := obj[name]
		e := Entry{Field: name}
		if schema == fields.SchemaConfidence {
			if m, ok := src.(map[string]any); ok {
				e.Value = stringify(m["value"])
				e.Confidence = confidence(m["confidence"])
			} else if present {
				e.Value = stringify(src)
			}
		} else {
			e.Value = stringify(src)
		}
		r.entries = append(r.entries, e)
	}
	return r
}

// ParseObject runs the recovery chain: the text as-is, the text with a
// surrounding ``` fence (and optional "json" tag) removed, then the span
// from the first '{' to the last '}'. ok is false when every step failed, in
// which case obj is empty.
func ParseObject(raw string) (obj map[string]any, ok bool) {
	t := strings.TrimSpace(raw)
	if obj, ok := decodeObject(t); ok {
		return obj, true
	}
	if strings.HasPrefix(t, "```") {
		if obj, ok := decodeObject(stripFence(t)); ok {
			return obj, true
		}
	}
	start, end := strings.Index(t, "{"), strings.LastIndex(t, "}")
	if start != -1 && end > start {
		if obj, ok := decodeObject(t[start : end+1]); ok {
			return obj, true
		}
	}
	return map[string]any{}, false
}

func stripFence(t string) string {
	inner := strings.TrimSpace(strings.Trim(t, "`"))
	if strings.HasPrefix(strings.ToLower(inner), "json") {
		inner = strings.TrimSpace(inner[len("json"):])
	}
	return inner
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	// Trailing content means the text was not a single JSON value.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return obj, true
}

// stringify renders a decoded JSON value the way the prompt asks values to be
// written: numbers verbatim, booleans as "true"/"false", lists joined by "; ".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

// confidence casts v to a score in [0, 1]; anything non-numeric is 0.
func confidence(v any) float64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = n
	case bool:
		if t {
			f = 1
		}
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return clamp(f, 0, 1)
}

func clamp(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// quoteJSON is json.Marshal for strings without the error return.
func quoteJSON(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
