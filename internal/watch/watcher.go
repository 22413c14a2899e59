package watch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"incident_extractor/internal/jobs"
	"incident_extractor/internal/store"
	"incident_extractor/internal/transcribe"
)

// Submitter schedules pipeline jobs and reports whether the call put a job
// on the queue.
type Submitter interface {
	Submit(ctx context.Context, callID string, stage jobs.Stage, params map[string]any) (*store.Job, bool, error)
}

// Watcher monitors the calls directory for new audio files and enqueues
// TRANSCRIBE jobs.
type Watcher struct {
	dir    string
	runner Submitter
	log    *zap.Logger
}

func New(dir string, runner Submitter, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{dir: dir, runner: runner, log: log}
}

// Start watches until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && transcribe.Allowed(evt.Name) {
					w.enqueue(ctx, evt.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	w.log.Info("watching calls directory", zap.String("dir", w.dir))
	return nil
}

// Backfill enqueues TRANSCRIBE for audio files already present and returns
// how many jobs were dispatched. Files whose job already succeeded or is
// still active are not counted.
func (w *Watcher) Backfill(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !transcribe.Allowed(e.Name()) {
			continue
		}
		if w.enqueue(ctx, e.Name()) {
			n++
		}
	}
	w.log.Info("backfill complete", zap.Int("enqueued", n))
	return n, nil
}

func (w *Watcher) enqueue(ctx context.Context, path string) bool {
	callID := filepath.Base(path)
	_, dispatched, err := w.runner.Submit(ctx, callID, jobs.StageTranscribe, nil)
	if err != nil {
		w.log.Warn("enqueue failed", zap.String("call_id", callID), zap.Error(err))
		return false
	}
	return dispatched
}
