package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident_extractor/internal/config"
	"incident_extractor/internal/fields"
	"incident_extractor/internal/provider"
)

func testConfig(t *testing.T, geminiURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTPPort:     ":0",
		CallsDir:     filepath.Join(dir, "calls"),
		WorkDir:      filepath.Join(dir, "work"),
		DBPath:       filepath.Join(dir, "test.db"),
		WorkerCount:  1,
		JobQueueSize: 4,
		LLM: config.LLMConfig{
			Provider:     provider.KindGemini,
			GoogleAPIKey: "test-key",
			BaseURL:      geminiURL,
			TimeoutSec:   5,
		},
		Catalog: config.CatalogConfig{Variant: fields.VariantFire},
	}
}

func TestAppServesCategorize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		_, _ = io.WriteString(w, `{"candidates":[{"finishReason":"STOP","content":{"parts":[{"text":"{\"incident_location\":{\"value\":\"12 Oak St\",\"confidence\":0.8}}"}]}}]}`)
	}))
	defer gemini.Close()

	a, err := New(testConfig(t, gemini.URL), nil)
	require.NoError(t, err)
	defer a.Store().Close()
	assert.False(t, a.Runner().Handles("TRANSCRIBE"))

	req := httptest.NewRequest(http.MethodPost, "/categorize-transcript", strings.NewReader(`{"transcript":"fire at 12 Oak St","fields":["incident_location"]}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"incident_location":{"value":"12 Oak St","confidence":0.8}`)

	rr = httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `incident_extractions_total{outcome="ok",provider="gemini"} 1`)
}

func TestAppRejectsMissingCredential(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.LLM.GoogleAPIKey = ""
	_, err := New(cfg, nil)
	require.ErrorIs(t, err, provider.ErrMissingCredential)
}

func TestAppRejectsUnknownCatalog(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Catalog.Variant = "hazmat"
	_, err := New(cfg, nil)
	require.ErrorIs(t, err, fields.ErrUnknownVariant)
}
