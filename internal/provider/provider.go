// Package provider defines the capability every LLM backend offers to the
// extractor and the built-in Gemini and OpenAI-compatible backends.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"incident_extractor/internal/fields"
	"incident_extractor/internal/normalize"
	"incident_extractor/internal/prompt"
)

// Provider extracts the named fields from a transcript. Implementations
// always return a result keyed by exactly fields; a non-nil error alongside
// it reports that the model call failed and the result is fully defaulted.
type Provider interface {
	ExtractFields(ctx context.Context, transcript string, fields []string) (normalize.Result, error)
	Name() string
	Model() string
}

var (
	ErrMissingCredential = errors.New("missing LLM API credential")
	ErrUnknownProvider   = errors.New("unknown LLM provider")
	// ErrModelCall matches every *CallError via errors.Is.
	ErrModelCall = errors.New("model call failed")

	errEmptyResponse = errors.New("empty model response")
)

// CallError reports a transport, quota, auth or safety failure of one model
// call.
type CallError struct {
	Provider string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool { return target == ErrModelCall }

// SafetySetting is a content-filter rule passed through to the backend.
type SafetySetting struct {
	Category  string `json:"category" yaml:"category"`
	Threshold string `json:"threshold" yaml:"threshold"`
}

// Settings configures a backend.
type Settings struct {
	Kind            string
	APIKey          string
	Model           string
	BaseURL         string
	Temperature     float64
	MaxOutputTokens int
	Timeout         time.Duration
	Schema          fields.Schema
	Safety          []SafetySetting
	// Descriptions, when set, supplies per-field format hints for the prompt.
	Descriptions func() map[string]string
}

// Constructor builds a backend from settings.
type Constructor func(s Settings, client *http.Client, log *zap.Logger) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		KindGemini: NewGemini,
		KindOpenAI: NewOpenAI,
	}
)

const (
	KindGemini = "gemini"
	KindOpenAI = "openai"
)

// Register adds or replaces a backend kind.
func Register(kind string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(kind)] = c
}

// Kinds lists the registered backend kinds.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the backend named by s.Kind (default gemini). Configuration
// problems are reported here, before any network call.
func New(s Settings, client *http.Client, log *zap.Logger) (Provider, error) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" {
		kind = KindGemini
	}
	registryMu.RLock()
	build, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownProvider, s.Kind, strings.Join(Kinds(), ", "))
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if s.Schema == "" {
		s.Schema = fields.SchemaConfidence
	}
	return build(s, client, log)
}

// generateFunc performs one model call and returns the textual payload.
type generateFunc func(ctx context.Context, system, user string) (string, error)

// extract is the flow shared by backends: prompt, one call, normalize. Any
// call failure degrades to the defaulted result plus a *CallError.
func extract(ctx context.Context, name string, s Settings, log *zap.Logger, transcript string, names []string, generate generateFunc) (normalize.Result, error) {
	var descriptions map[string]string
	if s.Descriptions != nil {
		descriptions = s.Descriptions()
	}
	user := prompt.Build(transcript, names, descriptions, s.Schema) + "\n" + prompt.Suffix

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	text, err := generate(ctx, prompt.SystemInstruction(s.Schema), user)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyResponse
	}
	if err != nil {
		log.Warn("model call failed; returning empty fields",
			zap.String("provider", name), zap.String("model", s.Model), zap.Int("fields", len(names)), zap.Error(err))
		return normalize.Empty(names, s.Schema), &CallError{Provider: name, Err: err}
	}

	obj, parsed := normalize.ParseObject(text)
	res := normalize.Coerce(obj, names, s.Schema)
	if !parsed {
		log.Warn("model output was not JSON; fields defaulted",
			zap.String("provider", name), zap.String("model", s.Model), zap.String("output", truncate(text, 200)))
	}
	log.Debug("extraction complete",
		zap.String("provider", name), zap.String("model", s.Model), zap.Int("requested", res.Len()), zap.Int("found", res.Found()))
	return res, nil
}

// truncate cuts text to at most limit bytes without splitting a rune.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
