package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"incident_extractor/internal/normalize"
)

const (
	DefaultGeminiModel   = "gemini-2.5-flash-lite"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultMaxTokens     = 1024
)

// Gemini calls the Generative Language generateContent endpoint with a JSON
// response MIME type. It holds no mutable state and is safe for concurrent
// use.
type Gemini struct {
	settings Settings
	client   *http.Client
	log      *zap.Logger
	endpoint string
}

// NewGemini builds the Gemini backend. A missing API key is a configuration
// error.
func NewGemini(s Settings, client *http.Client, log *zap.Logger) (Provider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("%w: set GOOGLE_API_KEY for the gemini provider", ErrMissingCredential)
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = DefaultGeminiModel
	}
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = defaultMaxTokens
	}
	base := strings.TrimRight(firstNonEmpty(s.BaseURL, defaultGeminiBaseURL), "/")
	return &Gemini{
		settings: s,
		client:   client,
		log:      log,
		endpoint: base + "/v1beta/models/" + url.PathEscape(s.Model) + ":generateContent",
	}, nil
}

func (g *Gemini) Name() string  { return KindGemini }
func (g *Gemini) Model() string { return g.settings.Model }

func (g *Gemini) ExtractFields(ctx context.Context, transcript string, names []string) (normalize.Result, error) {
	return extract(ctx, KindGemini, g.settings, g.log, transcript, names, g.generate)
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SafetySettings    []SafetySetting        `json:"safetySettings,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *Gemini) generate(ctx context.Context, system, user string) (string, error) {
	payload := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      g.settings.Temperature,
			MaxOutputTokens:  g.settings.MaxOutputTokens,
			ResponseMimeType: "application/json",
		},
		SafetySettings: g.settings.Safety,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.settings.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	text := parsed.text()
	if text == "" && parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked prompt: %s", parsed.PromptFeedback.BlockReason)
	}
	return text, nil
}

// text mirrors the SDK accessor: the first candidate's text when it finished
// normally. If that is empty (for example the candidate stopped for SAFETY),
// every text fragment across all candidates is stitched together.
func (r geminiResponse) text() string {
	if len(r.Candidates) > 0 {
		first := r.Candidates[0]
		switch first.FinishReason {
		case "", "STOP", "MAX_TOKENS":
			var b strings.Builder
			for _, p := range first.Content.Parts {
				b.WriteString(p.Text)
			}
			if t := strings.TrimSpace(b.String()); t != "" {
				return t
			}
		}
	}
	var pieces []string
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if p.Text != "" {
				pieces = append(pieces, p.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(pieces, "\n"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
