package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"incident_extractor/internal/jobs"
	"incident_extractor/internal/store"
)

func TestFilterPendingSkipsInflightAndDone(t *testing.T) {
	now := time.Now()
	text := "engine 2 responding"
	calls := map[string]*store.Call{
		"done.mp3":    {Transcript: &text, Status: jobs.StatusSucceeded, UpdatedAt: now},
		"running.mp3": {Status: jobs.StatusRunning, UpdatedAt: now},
		"error.mp3":   {Status: jobs.StatusFailed, UpdatedAt: now},
	}

	files := []string{"done.mp3", "running.mp3", "error.mp3", "new.mp3"}
	pending, sum := filterPending(files, calls, now, staleAfter)

	expected := []string{"error.mp3", "new.mp3"}
	if !reflect.DeepEqual(pending, expected) {
		t.Fatalf("unexpected pending list: %#v", pending)
	}
	if sum.Done != 1 || sum.InFlight != 1 || sum.Errors != 1 || sum.New != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestFilterPendingRequeuesStaleInflight(t *testing.T) {
	now := time.Now()
	calls := map[string]*store.Call{
		"stale.mp3": {Status: jobs.StatusRunning, UpdatedAt: now.Add(-4 * time.Hour)},
	}
	pending, sum := filterPending([]string{"stale.mp3"}, calls, now, staleAfter)
	if len(pending) != 1 || pending[0] != "stale.mp3" {
		t.Fatalf("expected stale file to be pending, got %#v", pending)
	}
	if sum.Stale != 1 {
		t.Fatalf("expected stale count to increment, got %+v", sum)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	if got := normalizeBaseURL("localhost:9000/", ":8000"); got != "http://localhost:9000" {
		t.Fatalf("expected normalized URL, got %s", got)
	}
	if got := normalizeBaseURL("", ":8000"); got != "http://localhost:8000" {
		t.Fatalf("expected fallback URL, got %s", got)
	}
}

func TestListAudioFilesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"z.mp3", "a.wav", "ignore.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("data"), 0o644); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
	}
	got, err := listAudioFiles(dir)
	if err != nil {
		t.Fatalf("list audio files: %v", err)
	}
	if expected := []string{"a.wav", "z.mp3"}; !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestEnqueuePostsTranscribeJobs(t *testing.T) {
	var mu sync.Mutex
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ops/jobs/enqueue" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			CallID string `json:"call_id"`
			Stage  string `json:"stage"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.CallID == "bad.mp3" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, body.Stage+":"+body.CallID)
		mu.Unlock()
	}))
	defer srv.Close()

	n := enqueue(context.Background(), srv.Client(), srv.URL, []string{"a.mp3", "bad.mp3", "b.wav"}, zap.NewNop())
	if n != 2 {
		t.Fatalf("expected 2 queued, got %d", n)
	}
	sort.Strings(got)
	if expected := []string{"TRANSCRIBE:a.mp3", "TRANSCRIBE:b.wav"}; !reflect.DeepEqual(got, expected) {
		t.Fatalf("unexpected posts %v", got)
	}
}
