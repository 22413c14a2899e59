package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"incident_extractor/internal/callmeta"
	"incident_extractor/internal/categorize"
	"incident_extractor/internal/fields"
	"incident_extractor/internal/jobs"
	"incident_extractor/internal/normalize"
	"incident_extractor/internal/notify"
	"incident_extractor/internal/provider"
	"incident_extractor/internal/store"
	"incident_extractor/internal/transcribe"
)

// CatalogSource yields the active field catalog.
type CatalogSource interface {
	Current() *fields.Catalog
}

type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, msg notify.Message) error
}

// Deps are the collaborators the stages need. Every one is built once by
// the app and shared.
type Deps struct {
	CallsDir    string
	Store       *store.Store
	Transcriber transcribe.Transcriber
	Provider    provider.Provider
	Catalog     CatalogSource
	Schema      fields.Schema
	Notifier    Notifier
	Location    *time.Location
}

// BuildRegistry wires the TRANSCRIBE -> EXTRACT -> NOTIFY stages.
func BuildRegistry(d Deps) jobs.Registry {
	return jobs.Registry{
		jobs.StageTranscribe: transcribeStage(d),
		jobs.StageExtract:    extractStage(d),
		jobs.StageNotify:     notifyStage(d),
	}
}

func transcribeStage(d Deps) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, callID string, params map[string]any) error {
		return stage(ctx, d.Store, callID, jobs.StageTranscribe, func() error {
			meta, err := callmeta.Parse(callID, d.Location)
			if err != nil {
				exec.Logf("filename metadata: %v", err)
			}
			call := store.Call{
				CallID:    callID,
				Filename:  meta.FileName,
				Agency:    meta.Agency,
				CallType:  meta.CallType,
				Category:  meta.Category,
				Status:    jobs.StatusRunning,
				LastStage: string(jobs.StageTranscribe),
				UpdatedAt: now(),
			}
			if !meta.Time.IsZero() {
				call.CallTime = &meta.Time
			}
			if err := d.Store.UpsertCall(ctx, call); err != nil {
				return err
			}

			audio, err := transcribe.Load(filepath.Join(d.CallsDir, callID))
			if err != nil {
				return err
			}
			info, err := transcribe.Inspect(audio)
			if err != nil {
				return err
			}
			audio = transcribe.Named(audio, info)
			exec.Logf("transcribing %s (%s, %d bytes)", audio.Name, info.MIME, len(audio.Data))

			text, err := d.Transcriber.Transcribe(ctx, audio)
			if err != nil {
				return err
			}
			if err := d.Store.SetCallTranscript(ctx, callID, text, now()); err != nil {
				return err
			}
			exec.Logf("transcript %d chars", len(text))
			return exec.Enqueue(ctx, callID, jobs.StageExtract, nil)
		})
	}
}

func extractStage(d Deps) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, callID string, params map[string]any) error {
		return stage(ctx, d.Store, callID, jobs.StageExtract, func() error {
			call, err := d.Store.GetCall(ctx, callID)
			if err != nil {
				return err
			}
			if call.Transcript == nil || *call.Transcript == "" {
				return errors.New("call has no transcript")
			}
			cat := d.Catalog.Current()
			res, callErr := categorize.Transcript(ctx, d.Provider, *call.Transcript, cat.Names())
			if errors.Is(callErr, categorize.ErrNoFields) {
				return callErr
			}

			raw, err := json.Marshal(res)
			if err != nil {
				return err
			}
			rec := &store.Extraction{
				CallID:     &callID,
				Source:     store.SourcePipeline,
				Transcript: *call.Transcript,
				Schema:     string(d.Schema),
				Provider:   d.Provider.Name(),
				Model:      d.Provider.Model(),
				Degraded:   callErr != nil,
				Result:     raw,
			}
			if callErr != nil {
				msg := callErr.Error()
				rec.Error = &msg
			}
			if err := d.Store.SaveExtraction(ctx, rec); err != nil {
				return err
			}
			exec.Logf("extraction %s: %d/%d fields (catalog %s)", rec.ID, res.Found(), res.Len(), cat.Variant())
			if callErr != nil {
				return fmt.Errorf("extraction degraded: %w", callErr)
			}
			return exec.Enqueue(ctx, callID, jobs.StageNotify, map[string]any{"extraction_id": rec.ID})
		})
	}
}

func notifyStage(d Deps) jobs.StageFunc {
	return func(ctx context.Context, exec jobs.ExecutionContext, callID string, params map[string]any) error {
		return stage(ctx, d.Store, callID, jobs.StageNotify, func() error {
			if d.Notifier == nil || !d.Notifier.Enabled() {
				exec.Logf("notifier disabled; skipping")
				return nil
			}
			call, err := d.Store.GetCall(ctx, callID)
			if err != nil {
				return err
			}
			var rec *store.Extraction
			if id, _ := params["extraction_id"].(string); id != "" {
				rec, err = d.Store.GetExtraction(ctx, id)
			} else {
				rec, err = d.Store.LatestExtractionForCall(ctx, callID)
			}
			if err != nil {
				return err
			}

			schema, err := fields.ParseSchema(rec.Schema)
			if err != nil {
				return err
			}
			res := normalize.Normalize(string(rec.Result), notify.SummaryFields(), schema)
			meta := callmeta.Meta{Agency: call.Agency, CallType: call.CallType, FileName: call.Filename}
			if call.CallTime != nil {
				meta.Time = call.CallTime.In(location(d.Location))
			}
			msg := notify.Summary(meta, res)
			if err := d.Notifier.Send(ctx, msg); err != nil {
				return err
			}
			exec.Log.Info("alert sent", zap.String("extraction_id", rec.ID))
			exec.Logf("alert sent")
			return nil
		})
	}
}

// stage runs fn and records the outcome on the call row.
func stage(ctx context.Context, st *store.Store, callID string, s jobs.Stage, fn func() error) error {
	if err := fn(); err != nil {
		msg := err.Error()
		_ = st.UpdateCallStage(context.Background(), callID, string(s), jobs.StatusFailed, &msg, now())
		return err
	}
	return st.UpdateCallStage(ctx, callID, string(s), jobs.StatusSucceeded, nil, now())
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
