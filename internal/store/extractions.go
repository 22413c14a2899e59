package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Extraction sources.
const (
	SourceTranscript = "transcript"
	SourceAudio      = "audio"
	SourcePipeline   = "pipeline"
)

// Extraction is one stored categorize result.
type Extraction struct {
	ID         string          `json:"id"`
	CallID     *string         `json:"call_id,omitempty"`
	Source     string          `json:"source"`
	Transcript string          `json:"transcript"`
	Schema     string          `json:"schema"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Degraded   bool            `json:"degraded"`
	Error      *string         `json:"error,omitempty"`
	Result     json.RawMessage `json:"fields"`
	CreatedAt  time.Time       `json:"created_at"`
}

const extractionColumns = `id, call_id, source, transcript, schema, provider, model, degraded, error, result_json, created_at`

// SaveExtraction inserts e, assigning an id and timestamp when missing.
func (s *Store) SaveExtraction(ctx context.Context, e *Extraction) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Result) == 0 {
		e.Result = json.RawMessage("{}")
	}
	degraded := 0
	if e.Degraded {
		degraded = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO extractions(`+extractionColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, nullString(e.CallID), e.Source, e.Transcript, e.Schema, e.Provider, e.Model, degraded,
		nullString(e.Error), string(e.Result), e.CreatedAt)
	return err
}

func (s *Store) GetExtraction(ctx context.Context, id string) (*Extraction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE id=?`, id)
	e, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// LatestExtractionForCall returns the newest extraction recorded for a call.
func (s *Store) LatestExtractionForCall(ctx context.Context, callID string) (*Extraction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE call_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, callID)
	e, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (s *Store) ListExtractions(ctx context.Context, limit int) ([]Extraction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+extractionColumns+` FROM extractions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Extraction
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanExtraction(row scanner) (*Extraction, error) {
	var e Extraction
	var callID, errMsg sql.NullString
	var degraded int
	var result string
	if err := row.Scan(&e.ID, &callID, &e.Source, &e.Transcript, &e.Schema, &e.Provider, &e.Model,
		&degraded, &errMsg, &result, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.CallID = stringPtr(callID)
	e.Error = stringPtr(errMsg)
	e.Degraded = degraded != 0
	e.Result = json.RawMessage(result)
	return &e, nil
}
