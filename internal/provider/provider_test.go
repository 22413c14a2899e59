package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"incident_extractor/internal/fields"
	"incident_extractor/internal/normalize"
)

var oakFields = []string{"incident_final_type", "incident_location", "medical"}

const oakTranscript = "Eng 2 responded to a kitchen fire at 12 Oak St; one resident had minor smoke inhalation and refused transport."

const oakOutput = `{"incident_final_type":{"value":"fire","confidence":0.9},"incident_location":{"value":"12 Oak St","confidence":0.85},"medical":{"value":"minor smoke inhalation, refused transport","confidence":0.8}}`

func geminiReply(parts ...string) string {
	var ps []map[string]string
	for _, p := range parts {
		ps = append(ps, map[string]string{"text": p})
	}
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": ps},
			"finishReason": "STOP",
		}},
	})
	return string(b)
}

func newGemini(t *testing.T, srv *httptest.Server, s Settings) Provider {
	t.Helper()
	s.Kind = KindGemini
	s.APIKey = "test-key"
	s.BaseURL = srv.URL
	p, err := New(s, srv.Client(), nil)
	require.NoError(t, err)
	return p
}

func TestGeminiExtractsScenario(t *testing.T) {
	var got geminiRequest
	var path, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(geminiReply(oakOutput)))
	}))
	defer srv.Close()

	p := newGemini(t, srv, Settings{
		Safety:       []SafetySetting{{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"}},
		Descriptions: func() map[string]string { return map[string]string{"medical": "short text"} },
	})
	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/"+DefaultGeminiModel+":generateContent", path)
	assert.Equal(t, "test-key", key)
	assert.Equal(t, "application/json", got.GenerationConfig.ResponseMimeType)
	assert.Equal(t, 0.0, got.GenerationConfig.Temperature)
	assert.Equal(t, defaultMaxTokens, got.GenerationConfig.MaxOutputTokens)
	assert.Len(t, got.SafetySettings, 1)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "user", got.Contents[0].Role)
	user := got.Contents[0].Parts[0].Text
	assert.Contains(t, user, oakTranscript)
	assert.Contains(t, user, `"medical": short text`)
	assert.True(t, strings.HasSuffix(user, "Return ONLY compact JSON."))
	require.NotNil(t, got.SystemInstruction)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Equal(t, oakOutput, string(out))
}

func TestGeminiStitchesCandidateFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[
			{"content":{"parts":[{"text":"{\"incident_location\":"}]},"finishReason":"SAFETY"},
			{"content":{"parts":[{"text":"{\"value\":\"12 Oak St\",\"confidence\":0.5}}"}]},"finishReason":"SAFETY"}
		]}`))
	}))
	defer srv.Close()

	p := newGemini(t, srv, Settings{})
	res, err := p.ExtractFields(context.Background(), oakTranscript, []string{"incident_location"})
	require.NoError(t, err)
	e, _ := res.Get("incident_location")
	assert.Equal(t, "12 Oak St", e.Value)
	assert.Equal(t, 0.5, e.Confidence)
}

func TestGeminiBlockedPromptDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	p := newGemini(t, srv, Settings{})
	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelCall)
	assert.Equal(t, oakFields, res.Fields())
	assert.Equal(t, 0, res.Found())
}

func TestGeminiHTTPErrorDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newGemini(t, srv, Settings{Schema: fields.SchemaSimple})
	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, KindGemini, callErr.Provider)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, map[string]string{"incident_final_type": "", "incident_location": "", "medical": ""}, res.Strings())
}

func TestGeminiNonJSONOutputIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(geminiReply("I cannot help with that.")))
	}))
	defer srv.Close()

	p := newGemini(t, srv, Settings{})
	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.NoError(t, err)
	for _, e := range res.Entries() {
		assert.Equal(t, normalize.Entry{Field: e.Field}, e)
	}
}

func TestTimeoutIsACallError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newGemini(t, srv, Settings{Timeout: 50 * time.Millisecond})
	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.ErrorIs(t, err, ErrModelCall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, oakFields, res.Fields())
}

func TestOpenAIExtracts(t *testing.T) {
	var body map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		reply, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "```json\n" + oakOutput + "\n```"}}},
		})
		_, _ = w.Write(reply)
	}))
	defer srv.Close()

	p, err := New(Settings{Kind: "OpenAI", APIKey: "sk-test", BaseURL: srv.URL + "/"}, srv.Client(), nil)
	require.NoError(t, err)
	assert.Equal(t, KindOpenAI, p.Name())
	assert.Equal(t, DefaultOpenAIModel, p.Model())

	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	assert.Equal(t, "12 Oak St", res.Value("incident_location"))
}

func TestOpenAIEmptyChoicesDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p, err := New(Settings{Kind: KindOpenAI, APIKey: "sk-test", BaseURL: srv.URL}, srv.Client(), nil)
	require.NoError(t, err)
	_, err = p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.ErrorIs(t, err, ErrModelCall)
}

func TestOpenAIUsesFirstNonEmptyChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply, _ := json.Marshal(map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": "  "}},
				map[string]any{"message": map[string]any{"content": oakOutput}},
				map[string]any{"message": map[string]any{"content": `{"incident_location":{"value":"9 Elm St","confidence":0.9}}`}},
			},
		})
		_, _ = w.Write(reply)
	}))
	defer srv.Close()

	p, err := New(Settings{Kind: KindOpenAI, APIKey: "sk-test", BaseURL: srv.URL}, srv.Client(), nil)
	require.NoError(t, err)
	res, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.NoError(t, err)
	assert.Equal(t, "12 Oak St", res.Value("incident_location"))
}

func TestGeminiEscapesModelInPath(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		_, _ = w.Write([]byte(geminiReply(oakOutput)))
	}))
	defer srv.Close()

	p := newGemini(t, srv, Settings{Model: "tuned/incident v2"})
	_, err := p.ExtractFields(context.Background(), oakTranscript, oakFields)
	require.NoError(t, err)
	assert.Equal(t, "/v1beta/models/tuned%2Fincident%20v2:generateContent", path)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "é...", truncate("ééé", 3))
	assert.Equal(t, "ab...", truncate("ab中文", 4))
	for limit := 0; limit < 8; limit++ {
		assert.True(t, utf8.ValidString(truncate("火灾现场", limit)), "limit %d", limit)
	}
}

func TestNewConfigurationErrors(t *testing.T) {
	_, err := New(Settings{Kind: "claude", APIKey: "x"}, nil, nil)
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New(Settings{}, nil, nil)
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = New(Settings{Kind: KindOpenAI, APIKey: "  "}, nil, nil)
	require.ErrorIs(t, err, ErrMissingCredential)
}

type stubBackend struct{ calls int32 }

func (s *stubBackend) ExtractFields(_ context.Context, _ string, names []string) (normalize.Result, error) {
	atomic.AddInt32(&s.calls, 1)
	return normalize.Empty(names, fields.SchemaSimple), errors.New("boom")
}
func (s *stubBackend) Name() string  { return "stub" }
func (s *stubBackend) Model() string { return "stub-1" }

type recorded struct {
	provider string
	found    int
	err      error
}

type fakeRecorder struct{ got []recorded }

func (f *fakeRecorder) ObserveExtraction(provider, _ string, _ time.Duration, found int, err error) {
	f.got = append(f.got, recorded{provider: provider, found: found, err: err})
}

func TestRegisterAndRecorder(t *testing.T) {
	backend := &stubBackend{}
	Register("stub", func(Settings, *http.Client, *zap.Logger) (Provider, error) { return backend, nil })
	assert.Contains(t, Kinds(), "stub")

	p, err := New(Settings{Kind: "stub"}, nil, nil)
	require.NoError(t, err)
	rec := &fakeRecorder{}
	p = WithRecorder(p, rec)
	_, err = p.ExtractFields(context.Background(), "t", []string{"a"})
	require.Error(t, err)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "stub", rec.got[0].provider)
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.calls))
}
