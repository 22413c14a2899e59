package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"incident_extractor/internal/normalize"
)

const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint with
// response_format json_object. Safe for concurrent use.
type OpenAI struct {
	settings Settings
	client   *http.Client
	log      *zap.Logger
	endpoint string
}

func NewOpenAI(s Settings, client *http.Client, log *zap.Logger) (Provider, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY for the openai provider", ErrMissingCredential)
	}
	if strings.TrimSpace(s.Model) == "" {
		s.Model = DefaultOpenAIModel
	}
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = defaultMaxTokens
	}
	base := strings.TrimRight(firstNonEmpty(s.BaseURL, defaultOpenAIBaseURL), "/")
	return &OpenAI{
		settings: s,
		client:   client,
		log:      log,
		endpoint: base + "/v1/chat/completions",
	}, nil
}

func (o *OpenAI) Name() string  { return KindOpenAI }
func (o *OpenAI) Model() string { return o.settings.Model }

func (o *OpenAI) ExtractFields(ctx context.Context, transcript string, names []string) (normalize.Result, error) {
	return extract(ctx, KindOpenAI, o.settings, o.log, transcript, names, o.generate)
}

func (o *OpenAI) generate(ctx context.Context, system, user string) (string, error) {
	payload := map[string]interface{}{
		"model":       o.settings.Model,
		"temperature": o.settings.Temperature,
		"max_tokens":  o.settings.MaxOutputTokens,
		"response_format": map[string]string{
			"type": "json_object",
		},
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
	}
	buf, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.settings.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var wrapper struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Choices) == 0 {
		return "", errors.New("empty llm response")
	}
	// Only one completion is requested; extra choices would be alternatives,
	// not fragments, so the first non-empty one wins.
	for _, c := range wrapper.Choices {
		if t := strings.TrimSpace(c.Message.Content); t != "" {
			return t, nil
		}
	}
	return "", nil
}
