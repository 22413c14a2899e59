// Package httpapi exposes extraction and pipeline operations over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"incident_extractor/internal/categorize"
	"incident_extractor/internal/events"
	"incident_extractor/internal/fields"
	"incident_extractor/internal/jobs"
	"incident_extractor/internal/normalize"
	"incident_extractor/internal/provider"
	"incident_extractor/internal/store"
	"incident_extractor/internal/transcribe"
)

// CatalogSource yields the active field catalog.
type CatalogSource interface {
	Current() *fields.Catalog
}

// Runner is the subset of the job runner the ops endpoints drive.
type Runner interface {
	Enqueue(ctx context.Context, callID string, stage jobs.Stage, params map[string]any) (*store.Job, error)
	Depth() int
	Logs(jobID int64) []string
}

// Backfiller enqueues work for audio already on disk.
type Backfiller interface {
	Backfill(ctx context.Context) (int, error)
}

// Snapshotter reports headline counters for /ops/status.
type Snapshotter interface {
	Snapshot() map[string]int64
}

// Dependencies holds everything the router serves from. Transcriber and
// Backfill may be nil when the feature is not configured.
type Dependencies struct {
	Store          *store.Store
	Runner         Runner
	Provider       provider.Provider
	Transcriber    transcribe.Transcriber
	Catalog        CatalogSource
	Schema         fields.Schema
	Backfill       Backfiller
	Events         *events.Bus
	Metrics        Snapshotter
	MetricsHandler http.Handler
	CORSOrigins    []string
	WorkerCount    int
	Logger         *zap.Logger
}

var errNoTranscriber = errors.New("audio transcription is not configured")

type handler struct {
	deps Dependencies
	log  *zap.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Dependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{deps: deps, log: log}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), corsMiddleware(deps.CORSOrigins))
	r.MaxMultipartMemory = transcribe.MaxAudioBytes

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "incident extractor is running"})
	})
	r.POST("/categorize-transcript", h.categorizeTranscript)
	r.POST("/categorize-audio", h.categorizeAudio)
	r.GET("/fields", h.listFields)

	api := r.Group("/api")
	{
		api.GET("/extractions", h.listExtractions)
		api.GET("/extractions/:id", h.getExtraction)
		api.GET("/calls", h.listCalls)
	}

	ops := r.Group("/ops")
	{
		ops.GET("/status", h.status)
		ops.GET("/jobs", h.listJobs)
		ops.POST("/jobs/enqueue", h.enqueue)
		ops.GET("/jobs/:id", h.jobDetail)
		ops.GET("/jobs/:id/logs", h.jobLogs)
		ops.POST("/backfill", h.backfill)
		ops.GET("/health", h.health)
		ops.GET("/events", h.events)
	}

	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

type transcriptRequest struct {
	Transcript *string  `json:"transcript"`
	Fields     []string `json:"fields"`
}

func (h *handler) categorizeTranscript(c *gin.Context) {
	var body transcriptRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.Transcript == nil {
		badRequest(c, errors.New("transcript is required"))
		return
	}
	names := body.Fields
	if names == nil {
		names = h.deps.Catalog.Current().Names()
	}

	res, err := categorize.Transcript(c.Request.Context(), h.deps.Provider, *body.Transcript, names)
	if err != nil && !errors.Is(err, provider.ErrModelCall) {
		h.fail(c, err)
		return
	}
	rec, saveErr := h.save(c.Request.Context(), store.SourceTranscript, *body.Transcript, res, err)
	if saveErr != nil {
		h.fail(c, saveErr)
		return
	}
	c.JSON(http.StatusOK, response(rec.ID, "", res, err))
}

func (h *handler) categorizeAudio(c *gin.Context) {
	if h.deps.Transcriber == nil {
		badRequest(c, errNoTranscriber)
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, fmt.Errorf("file is required: %w", err))
		return
	}
	if file.Size > transcribe.MaxAudioBytes {
		badRequest(c, transcribe.ErrTooLarge)
		return
	}
	names := h.deps.Catalog.Current().Names()
	if raw, ok := c.GetPostForm("fields"); ok {
		names = categorize.ParseFieldList(raw)
		if len(names) == 0 {
			badRequest(c, categorize.ErrNoFields)
			return
		}
	}

	f, err := file.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, transcribe.MaxAudioBytes+1))
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(data) > transcribe.MaxAudioBytes {
		badRequest(c, transcribe.ErrTooLarge)
		return
	}
	audio := transcribe.Audio{Name: file.Filename, Data: data}
	info, err := transcribe.Inspect(audio)
	if err != nil {
		badRequest(c, err)
		return
	}
	audio = transcribe.Named(audio, info)

	out, err := categorize.Audio(c.Request.Context(), h.deps.Transcriber, h.deps.Provider, audio, names)
	if err != nil && !errors.Is(err, provider.ErrModelCall) {
		h.fail(c, err)
		return
	}
	rec, saveErr := h.save(c.Request.Context(), store.SourceAudio, out.Transcript, out.Result, err)
	if saveErr != nil {
		h.fail(c, saveErr)
		return
	}
	c.JSON(http.StatusOK, response(rec.ID, out.Transcript, out.Result, err))
}

func (h *handler) save(ctx context.Context, source, transcript string, res normalize.Result, callErr error) (*store.Extraction, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	rec := &store.Extraction{
		Source:     source,
		Transcript: transcript,
		Schema:     string(res.Schema()),
		Provider:   h.deps.Provider.Name(),
		Model:      h.deps.Provider.Model(),
		Degraded:   callErr != nil,
		Result:     raw,
	}
	if callErr != nil {
		msg := callErr.Error()
		rec.Error = &msg
		h.log.Warn("extraction degraded", zap.String("provider", rec.Provider), zap.Error(callErr))
	}
	if err := h.deps.Store.SaveExtraction(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func response(id, transcript string, res normalize.Result, callErr error) gin.H {
	out := gin.H{"id": id, "fields": res}
	if transcript != "" {
		out["transcript"] = transcript
	}
	if callErr != nil {
		out["degraded"] = true
		out["warning"] = callErr.Error()
	}
	return out
}

func (h *handler) listFields(c *gin.Context) {
	cat := h.deps.Catalog.Current()
	c.JSON(http.StatusOK, gin.H{
		"variant": cat.Variant(),
		"schema":  h.deps.Schema,
		"fields":  cat.Descriptors(),
	})
}

func (h *handler) listExtractions(c *gin.Context) {
	list, err := h.deps.Store.ListExtractions(c.Request.Context(), limit(c, 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) getExtraction(c *gin.Context) {
	rec, err := h.deps.Store.GetExtraction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *handler) listCalls(c *gin.Context) {
	list, err := h.deps.Store.ListCalls(c.Request.Context(), limit(c, 100))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *handler) status(c *gin.Context) {
	ctx := c.Request.Context()
	calls, _ := h.deps.Store.ListCalls(ctx, 5)
	recent, _ := h.deps.Store.ListJobs(ctx, 10)
	counts, _ := h.deps.Store.JobCounts(ctx)
	out := gin.H{
		"calls":       calls,
		"jobs":        recent,
		"job_counts":  counts,
		"workers":     h.deps.WorkerCount,
		"queue_depth": h.deps.Runner.Depth(),
		"provider":    h.deps.Provider.Name(),
		"model":       h.deps.Provider.Model(),
		"catalog":     h.deps.Catalog.Current().Variant(),
	}
	if h.deps.Metrics != nil {
		out["metrics"] = h.deps.Metrics.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) listJobs(c *gin.Context) {
	list, err := h.deps.Store.ListJobs(c.Request.Context(), limit(c, 50))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type enqueueRequest struct {
	CallID string         `json:"call_id"`
	Stage  jobs.Stage     `json:"stage"`
	Params map[string]any `json:"params"`
}

func (h *handler) enqueue(c *gin.Context) {
	var body enqueueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.CallID == "" {
		badRequest(c, errors.New("call_id is required"))
		return
	}
	switch body.Stage {
	case jobs.StageTranscribe, jobs.StageExtract, jobs.StageNotify:
	default:
		badRequest(c, fmt.Errorf("unknown stage %q", body.Stage))
		return
	}
	job, err := h.deps.Runner.Enqueue(c.Request.Context(), body.CallID, body.Stage, body.Params)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) jobDetail(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.deps.Store.GetJob(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handler) jobLogs(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	lines, err := h.deps.Store.JobLogs(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(lines) == 0 {
		lines = h.deps.Runner.Logs(id)
	}
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, lines)
}

func (h *handler) backfill(c *gin.Context) {
	if h.deps.Backfill == nil {
		badRequest(c, errors.New("backfill is not configured"))
		return
	}
	n, err := h.deps.Backfill.Backfill(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "enqueued": n})
}

// events streams job status changes as server-sent events until the client
// disconnects.
func (h *handler) events(c *gin.Context) {
	if h.deps.Events == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream is not configured"})
		return
	}
	sub, unsubscribe := h.deps.Events.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.SSEvent(ev.Type, ev)
			c.Writer.Flush()
		case <-ping.C:
			c.SSEvent("ping", gin.H{"time": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}

func (h *handler) health(c *gin.Context) {
	if err := h.deps.Store.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// fail maps configuration errors to 400, missing rows to 404 and
// everything else to 500.
func (h *handler) fail(c *gin.Context, err error) {
	switch {
	case isClientError(err):
		badRequest(c, err)
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func isClientError(err error) bool {
	for _, target := range []error{
		categorize.ErrNoFields,
		fields.ErrUnknownVariant,
		provider.ErrMissingCredential,
		transcribe.ErrMissingCredential,
		transcribe.ErrUnsupported,
		transcribe.ErrTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid job id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func limit(c *gin.Context, fallback int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}
