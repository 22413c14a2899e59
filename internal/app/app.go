// Package app wires configuration, storage, the extraction backend, the job
// pipeline and the HTTP surface into one service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"incident_extractor/internal/config"
	"incident_extractor/internal/events"
	"incident_extractor/internal/fields"
	"incident_extractor/internal/httpapi"
	"incident_extractor/internal/jobs"
	"incident_extractor/internal/logger"
	"incident_extractor/internal/metrics"
	"incident_extractor/internal/notify"
	"incident_extractor/internal/pipeline"
	"incident_extractor/internal/provider"
	"incident_extractor/internal/store"
	"incident_extractor/internal/transcribe"
	"incident_extractor/internal/watch"
)

// App holds the long-lived components.
type App struct {
	cfg     config.Config
	log     *zap.Logger
	store   *store.Store
	runner  *jobs.Runner
	watcher *watch.Watcher
	engine  *gin.Engine
}

// New builds every component. Configuration problems are returned before
// anything starts.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	for _, w := range cfg.Warnings {
		log.Warn("config warning", zap.String("detail", w))
	}

	schema, err := fields.ParseSchema(cfg.Catalog.Schema)
	if err != nil {
		return nil, err
	}
	catalog, err := fields.NewManager(cfg.Catalog.Path, cfg.Catalog.Variant, log.Named("fields"))
	if err != nil {
		return nil, err
	}

	client := &http.Client{}
	m := metrics.New()
	p, err := NewProvider(cfg, schema, catalog, client, log)
	if err != nil {
		return nil, err
	}
	p = provider.WithRecorder(p, m)

	var tr transcribe.Transcriber
	if cfg.LLM.OpenAIAPIKey != "" {
		tr, err = transcribe.NewOpenAI(transcribe.Options{
			APIKey:   cfg.LLM.OpenAIAPIKey,
			Model:    cfg.Transcription.Model,
			BaseURL:  cfg.Transcription.BaseURL,
			Language: cfg.Transcription.Language,
		}, client, log.Named("transcribe"))
		if err != nil {
			return nil, err
		}
	} else {
		log.Warn("OPENAI_API_KEY not set; audio transcription disabled")
	}

	for _, dir := range []string{cfg.CallsDir, cfg.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	registry := pipeline.BuildRegistry(pipeline.Deps{
		CallsDir:    cfg.CallsDir,
		Store:       st,
		Transcriber: tr,
		Provider:    p,
		Catalog:     catalog,
		Schema:      schema,
		Notifier:    notify.NewGroupMe(cfg.GroupMeBotID, cfg.GroupMeURL, client),
	})
	if tr == nil {
		delete(registry, jobs.StageTranscribe)
	}
	bus := events.NewBus()
	runner := jobs.NewRunner(jobs.Options{
		Workers:    cfg.WorkerCount,
		QueueSize:  cfg.JobQueueSize,
		JobTimeout: time.Duration(cfg.JobTimeoutSec) * time.Second,
		Events:     bus,
	}, st, registry, m, log.Named("jobs"))
	watcher := watch.New(cfg.CallsDir, runner, log.Named("watch"))

	deps := httpapi.Dependencies{
		Store:          st,
		Runner:         runner,
		Provider:       p,
		Transcriber:    tr,
		Catalog:        catalog,
		Schema:         schema,
		Events:         bus,
		Metrics:        m,
		MetricsHandler: m.Handler(),
		CORSOrigins:    cfg.CORSOrigins,
		WorkerCount:    cfg.WorkerCount,
		Logger:         log.Named("http"),
	}
	if tr != nil {
		deps.Backfill = watcher
	}

	log.Info("extractor configured",
		zap.String("provider", p.Name()),
		zap.String("model", p.Model()),
		zap.String("api_key", logger.MaskSecret(cfg.LLM.APIKey())),
		zap.String("catalog", catalog.Current().Variant()),
		zap.Int("fields", catalog.Current().Len()),
		zap.String("schema", string(schema)),
	)
	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		runner:  runner,
		watcher: watcher,
		engine:  httpapi.NewRouter(deps),
	}, nil
}

// NewProvider builds the configured extraction backend. Field descriptions
// come from the live catalog so prompt hints follow catalog reloads.
func NewProvider(cfg config.Config, schema fields.Schema, catalog pipeline.CatalogSource, client *http.Client, log *zap.Logger) (provider.Provider, error) {
	safety := make([]provider.SafetySetting, 0, len(cfg.LLM.Safety))
	for _, s := range cfg.LLM.Safety {
		safety = append(safety, provider.SafetySetting{Category: s.Category, Threshold: s.Threshold})
	}
	return provider.New(provider.Settings{
		Kind:            cfg.LLM.Provider,
		APIKey:          cfg.LLM.APIKey(),
		Model:           cfg.LLM.Model,
		BaseURL:         cfg.LLM.BaseURL,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         cfg.LLM.Timeout(),
		Schema:          schema,
		Safety:          safety,
		Descriptions:    func() map[string]string { return catalog.Current().Descriptions() },
	}, client, log.Named("provider"))
}

// Run starts the workers, the directory watcher and the HTTP server, and
// blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	a.runner.Start(ctx)
	defer a.runner.Stop()
	if _, err := a.runner.Recover(ctx); err != nil {
		a.log.Warn("job recovery failed", zap.Error(err))
	}

	if a.cfg.EnableWatcher && a.runner.Handles(jobs.StageTranscribe) {
		if err := a.watcher.Start(ctx); err != nil {
			return err
		}
		if a.cfg.BackfillOnStart {
			if _, err := a.watcher.Backfill(ctx); err != nil {
				a.log.Warn("backfill failed", zap.Error(err))
			}
		}
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPPort,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", zap.String("addr", a.cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// Handler exposes the HTTP engine for tests.
func (a *App) Handler() http.Handler { return a.engine }

func (a *App) Store() *store.Store { return a.store }

func (a *App) Runner() *jobs.Runner { return a.runner }
