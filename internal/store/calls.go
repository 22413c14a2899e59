package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Call is a recorded dispatch clip and its pipeline progress.
type Call struct {
	CallID     string     `json:"call_id"`
	Filename   string     `json:"filename"`
	Agency     string     `json:"agency"`
	CallType   string     `json:"call_type"`
	Category   string     `json:"category"`
	CallTime   *time.Time `json:"call_time"`
	Transcript *string    `json:"transcript"`
	Status     string     `json:"status"`
	LastStage  string     `json:"last_stage"`
	LastError  *string    `json:"last_error"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

const callColumns = `call_id, filename, agency, call_type, category, call_time, transcript, status, last_stage, last_error, created_at, updated_at`

// UpsertCall records a call's metadata. An existing transcript is kept.
func (s *Store) UpsertCall(ctx context.Context, c Call) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	}
	var callTime sql.NullTime
	if c.CallTime != nil {
		callTime = sql.NullTime{Time: *c.CallTime, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls(`+callColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET filename=excluded.filename, agency=excluded.agency, call_type=excluded.call_type,
			category=excluded.category, call_time=excluded.call_time, status=excluded.status, last_stage=excluded.last_stage,
			last_error=excluded.last_error, updated_at=excluded.updated_at`,
		c.CallID, c.Filename, c.Agency, c.CallType, c.Category, callTime, nullString(c.Transcript),
		c.Status, c.LastStage, nullString(c.LastError), c.UpdatedAt, c.UpdatedAt)
	return err
}

func (s *Store) GetCall(ctx context.Context, callID string) (*Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE call_id=?`, callID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// SetCallTranscript stores the transcript produced for a call.
func (s *Store) SetCallTranscript(ctx context.Context, callID, transcript string, ts time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calls SET transcript=?, updated_at=? WHERE call_id=?`, transcript, ts, callID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateCallStage updates the call record when a stage completes, creating
// a bare record for calls not seen before.
func (s *Store) UpdateCallStage(ctx context.Context, callID, stage, status string, errMsg *string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls(call_id, filename, status, last_stage, last_error, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET status=excluded.status, last_stage=excluded.last_stage, last_error=excluded.last_error, updated_at=excluded.updated_at`,
		callID, callID, status, stage, nullString(errMsg), ts, ts)
	return err
}

func (s *Store) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+callColumns+` FROM calls ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (*Call, error) {
	var c Call
	var filename, agency, callType, category, status, stage sql.NullString
	var transcript, lastErr sql.NullString
	var callTime sql.NullTime
	if err := row.Scan(&c.CallID, &filename, &agency, &callType, &category, &callTime, &transcript,
		&status, &stage, &lastErr, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Filename = filename.String
	c.Agency = agency.String
	c.CallType = callType.String
	c.Category = category.String
	c.Status = status.String
	c.LastStage = stage.String
	c.CallTime = timePtr(callTime)
	c.Transcript = stringPtr(transcript)
	c.LastError = stringPtr(lastErr)
	return &c, nil
}
