// Command backfill_helper asks a running extractor to transcribe calls on
// disk that have no transcript yet.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"incident_extractor/internal/config"
	"incident_extractor/internal/jobs"
	"incident_extractor/internal/logger"
	"incident_extractor/internal/store"
	"incident_extractor/internal/transcribe"
)

// staleAfter is how long a running call may go without progress before it is
// requested again.
const staleAfter = 3 * time.Hour

type summary struct {
	Done     int
	InFlight int
	Errors   int
	Stale    int
	New      int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync(log)

	files, err := listAudioFiles(cfg.CallsDir)
	if err != nil {
		log.Fatal("scan calls dir", zap.Error(err))
	}
	if len(files) == 0 {
		log.Info("no audio files found", zap.String("dir", cfg.CallsDir))
		return
	}

	ctx := context.Background()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	calls, err := loadCalls(ctx, st, files)
	_ = st.Close()
	if err != nil {
		log.Fatal("load calls", zap.Error(err))
	}

	pending, sum := filterPending(files, calls, time.Now(), staleAfter)
	log.Info("scan complete",
		zap.Int("files", len(files)),
		zap.Int("pending", len(pending)),
		zap.Int("done", sum.Done),
		zap.Int("in_flight", sum.InFlight),
		zap.Int("errors", sum.Errors),
		zap.Int("stale", sum.Stale),
		zap.Int("new", sum.New),
	)
	if len(pending) == 0 {
		return
	}

	baseURL := normalizeBaseURL(os.Getenv("SERVICE_BASE_URL"), cfg.HTTPPort)
	log.Info("requesting transcripts", zap.String("base_url", baseURL))
	ok := enqueue(ctx, &http.Client{Timeout: 30 * time.Second}, baseURL, pending, log)
	log.Info("backfill requested", zap.Int("queued", ok), zap.Int("failed", len(pending)-ok))
}

func listAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !transcribe.Allowed(entry.Name()) {
			continue
		}
		out = append(out, entry.Name())
	}
	sort.Strings(out)
	return out, nil
}

func loadCalls(ctx context.Context, st *store.Store, files []string) (map[string]*store.Call, error) {
	out := make(map[string]*store.Call, len(files))
	for _, f := range files {
		c, err := st.GetCall(ctx, f)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[f] = c
	}
	return out, nil
}

// filterPending returns the files that still need a transcript. Calls with
// a transcript are done; running calls are skipped until they go stale.
func filterPending(files []string, calls map[string]*store.Call, now time.Time, stale time.Duration) ([]string, summary) {
	var pending []string
	var sum summary
	for _, f := range files {
		c, ok := calls[f]
		switch {
		case !ok:
			sum.New++
			pending = append(pending, f)
		case c.Transcript != nil && *c.Transcript != "":
			sum.Done++
		case c.Status == jobs.StatusFailed:
			sum.Errors++
			pending = append(pending, f)
		case stale > 0 && now.Sub(c.UpdatedAt) > stale:
			sum.Stale++
			pending = append(pending, f)
		default:
			sum.InFlight++
		}
	}
	return pending, sum
}

func normalizeBaseURL(raw, port string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		return "http://localhost" + port
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	return raw
}

// enqueue posts a TRANSCRIBE job per file with bounded concurrency and
// returns how many were accepted.
func enqueue(ctx context.Context, client *http.Client, baseURL string, files []string, log *zap.Logger) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		queued int
	)
	slots := make(chan struct{}, 8)
	for _, f := range files {
		wg.Add(1)
		slots <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-slots }()
			if err := enqueueOne(ctx, client, baseURL, name); err != nil {
				log.Warn("enqueue failed", zap.String("call_id", name), zap.Error(err))
				return
			}
			mu.Lock()
			queued++
			mu.Unlock()
		}(f)
	}
	wg.Wait()
	return queued
}

func enqueueOne(ctx context.Context, client *http.Client, baseURL, name string) error {
	body, _ := json.Marshal(map[string]any{"call_id": name, "stage": jobs.StageTranscribe})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/ops/jobs/enqueue", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}
