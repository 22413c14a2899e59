package provider

import (
	"context"
	"time"

	"incident_extractor/internal/normalize"
)

// Recorder receives one observation per extraction call.
type Recorder interface {
	ObserveExtraction(provider, model string, elapsed time.Duration, found int, err error)
}

type instrumented struct {
	Provider
	rec Recorder
}

// WithRecorder wraps p so every ExtractFields call is reported to rec.
func WithRecorder(p Provider, rec Recorder) Provider {
	if rec == nil {
		return p
	}
	return &instrumented{Provider: p, rec: rec}
}

func (i *instrumented) ExtractFields(ctx context.Context, transcript string, fields []string) (normalize.Result, error) {
	start := time.Now()
	res, err := i.Provider.ExtractFields(ctx, transcript, fields)
	i.rec.ObserveExtraction(i.Name(), i.Model(), time.Since(start), res.Found(), err)
	return res, err
}
