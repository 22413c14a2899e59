// Package prompt builds the extraction prompt sent to the model. Output is a
// pure function of its arguments so that the same prompt, model and zero
// temperature reproduce the same request.
package prompt

import (
	"encoding/json"
	"strconv"
	"strings"

	"incident_extractor/internal/fields"
)

// Suffix is appended to the user turn by providers that send the
// instruction block separately.
const Suffix = "Return ONLY compact JSON."

const baseInstruction = "You are an incident-extraction assistant. Read the provided transcript and extract the requested fields. " +
	"Return ONLY a single valid JSON object (no code fences, no explanation, no extra text). " +
	"The JSON must use double quotes for keys and values, contain EXACTLY the requested keys, and "

const exampleTranscript = "There was a brush fire in Los Angeles that displaced three people."

type exampleField struct {
	name       string
	value      string
	confidence float64
}

var exampleFields = []exampleField{
	{"incident_final_type", "fire", 0.95},
	{"incident_location", "Los Angeles", 0.9},
	{"incident_displaced_number", "3", 0.92},
}

// SystemInstruction is the leading instruction block for schema.
func SystemInstruction(schema fields.Schema) string {
	if schema == fields.SchemaSimple {
		return baseInstruction + "each value must be a string."
	}
	return baseInstruction + `each value must be an object with "value" and "confidence". ` +
		`For example: {"incident_type":{"value":"Fire","confidence":0.92}}.`
}

// Build renders the full prompt: instruction block, requested keys, optional
// field descriptions, rules, a worked example and the transcript verbatim.
// Only fields present in descriptions get a description line.
func Build(transcript string, names []string, descriptions map[string]string, schema fields.Schema) string {
	var b strings.Builder
	b.WriteString(SystemInstruction(schema))
	b.WriteString("\n\nRequested fields (exact keys):\n")
	b.WriteString(keyArray(names))
	b.WriteString("\n\n")

	if block := descriptionBlock(names, descriptions); block != "" {
		b.WriteString(block)
		b.WriteString("\n")
	}

	b.WriteString("RULES (follow exactly):\n")
	for i, rule := range rules(schema) {
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(rule)
		b.WriteString("\n")
	}

	b.WriteString("\nEXAMPLE:\n")
	b.WriteString("Transcript: \"" + exampleTranscript + "\"\n")
	b.WriteString("Expected JSON:\n")
	b.WriteString(exampleJSON(schema))
	b.WriteString("\n\nTRANSCRIPT:\n")
	b.WriteString(transcript)
	b.WriteString("\n")
	return b.String()
}

func keyArray(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func descriptionBlock(names []string, descriptions map[string]string) string {
	if len(descriptions) == 0 {
		return ""
	}
	var lines []string
	for _, n := range names {
		d, ok := descriptions[n]
		if !ok {
			continue
		}
		d = strings.Join(strings.Fields(d), " ")
		lines = append(lines, quote(n)+": "+d)
	}
	if len(lines) == 0 {
		return ""
	}
	return "FIELD DESCRIPTIONS (use these formats):\n" + strings.Join(lines, "\n") + "\n"
}

func rules(schema fields.Schema) []string {
	out := []string{
		"Output: A SINGLE compact JSON object and NOTHING else.",
		"The JSON MUST contain EXACTLY the keys listed above (same spelling).",
	}
	if schema == fields.SchemaSimple {
		out = append(out,
			`Each key's value MUST be a JSON string. If the field is not present, set its value to an empty string: "".`,
			"Do NOT add any additional keys, metadata, confidence scores, comments, or surrounding text.",
		)
	} else {
		out = append(out,
			`Each key's value MUST be an object containing "value" (the extracted text as a string, or "" if not found) and "confidence" (a number between 0.0 and 1.0 representing certainty).`,
			`Do NOT add any keys other than "value" and "confidence" for each field.`,
		)
	}
	return append(out,
		"Keep values short and factual (one line). Collapse newlines and excessive whitespace into single spaces.",
		`Booleans -> "true"/"false". Numbers -> string (e.g., "3"). Lists -> items joined by "; ".`,
		"If multiple candidates exist, choose the first clear explicit mention in the transcript.",
		"Do NOT invent information; use only what the transcript states.",
		"Output must be compact (single line).",
	)
}

func exampleJSON(schema fields.Schema) string {
	parts := make([]string, len(exampleFields))
	for i, f := range exampleFields {
		if schema == fields.SchemaSimple {
			parts[i] = quote(f.name) + ":" + quote(f.value)
			continue
		}
		parts[i] = quote(f.name) + `:{"value":` + quote(f.value) + `,"confidence":` +
			strconv.FormatFloat(f.confidence, 'f', -1, 64) + "}"
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
