// Package categorize is the public entry point: it validates the requested
// field list and runs one extraction against a provider.
package categorize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"incident_extractor/internal/normalize"
	"incident_extractor/internal/provider"
	"incident_extractor/internal/transcribe"
)

// ErrNoFields is returned when no usable field names were requested.
var ErrNoFields = errors.New("at least one field name is required")

// Outcome is the result of categorizing an audio clip.
type Outcome struct {
	Transcript string
	Result     normalize.Result
}

// CleanFields trims names, drops blanks and keeps the first occurrence of
// duplicates.
func CleanFields(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Transcript extracts fields from a transcript. An empty field list fails
// with ErrNoFields before the provider is called. A provider failure yields
// the defaulted result together with the provider's error.
func Transcript(ctx context.Context, p provider.Provider, transcript string, fields []string) (normalize.Result, error) {
	names := CleanFields(fields)
	if len(names) == 0 {
		return normalize.Result{}, ErrNoFields
	}
	return p.ExtractFields(ctx, transcript, names)
}

// Audio transcribes a clip and categorizes the transcript.
func Audio(ctx context.Context, t transcribe.Transcriber, p provider.Provider, audio transcribe.Audio, fields []string) (Outcome, error) {
	names := CleanFields(fields)
	if len(names) == 0 {
		return Outcome{}, ErrNoFields
	}
	text, err := t.Transcribe(ctx, audio)
	if err != nil {
		return Outcome{}, fmt.Errorf("transcribe %s: %w", audio.Name, err)
	}
	res, err := p.ExtractFields(ctx, text, names)
	return Outcome{Transcript: text, Result: res}, err
}

// ParseFieldList reads a form value that is either a JSON array of strings
// or a comma separated list.
func ParseFieldList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return CleanFields(list)
		}
	}
	return CleanFields(strings.Split(raw, ","))
}
