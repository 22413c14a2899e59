package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestCalls(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	require.NoError(t, st.Health(ctx))

	when := time.Date(2025, 11, 27, 19, 58, 13, 0, time.UTC)
	call := Call{
		CallID:   "Sparta_FD_2025_11_27_19_58_13.mp3",
		Filename: "Sparta_FD_2025_11_27_19_58_13.mp3",
		Agency:   "Sparta",
		CallType: "FD",
		Category: "fire",
		CallTime: &when,
		Status:   "queued",
	}
	require.NoError(t, st.UpsertCall(ctx, call))
	require.NoError(t, st.SetCallTranscript(ctx, call.CallID, "Engine 2 respond", time.Now().UTC()))

	// A second upsert keeps the transcript.
	call.Status = "processing"
	require.NoError(t, st.UpsertCall(ctx, call))

	got, err := st.GetCall(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, "Sparta", got.Agency)
	assert.Equal(t, "processing", got.Status)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "Engine 2 respond", *got.Transcript)
	require.NotNil(t, got.CallTime)
	assert.True(t, got.CallTime.Equal(when))

	msg := "boom"
	require.NoError(t, st.UpdateCallStage(ctx, call.CallID, "EXTRACT", "failed", &msg, time.Now().UTC()))
	got, err = st.GetCall(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, "EXTRACT", got.LastStage)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "boom", *got.LastError)

	require.NoError(t, st.UpdateCallStage(ctx, "new-call", "TRANSCRIBE", "running", nil, time.Now().UTC()))
	calls, err := st.ListCalls(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, calls, 2)

	_, err = st.GetCall(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.SetCallTranscript(ctx, "missing", "x", time.Now()), ErrNotFound)
}

func TestExtractions(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	callID := "call-1"
	first := &Extraction{
		CallID:     &callID,
		Source:     SourcePipeline,
		Transcript: "kitchen fire",
		Schema:     "confidence",
		Provider:   "gemini",
		Model:      "gemini-2.5-flash-lite",
		Result:     json.RawMessage(`{"incident_final_type":{"value":"fire","confidence":0.9}}`),
		CreatedAt:  time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, st.SaveExtraction(ctx, first))
	assert.NotEmpty(t, first.ID)

	errMsg := "gemini: quota"
	second := &Extraction{CallID: &callID, Source: SourcePipeline, Schema: "confidence", Degraded: true, Error: &errMsg}
	require.NoError(t, st.SaveExtraction(ctx, second))

	adhoc := &Extraction{Source: SourceTranscript, Schema: "simple", Result: json.RawMessage(`{"a":""}`)}
	require.NoError(t, st.SaveExtraction(ctx, adhoc))

	got, err := st.GetExtraction(ctx, first.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(first.Result), string(got.Result))
	assert.False(t, got.Degraded)
	assert.Nil(t, got.Error)

	latest, err := st.LatestExtractionForCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.True(t, latest.Degraded)
	assert.JSONEq(t, `{}`, string(latest.Result))

	list, err := st.ListExtractions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Nil(t, list[0].CallID)

	_, err = st.GetExtraction(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.LatestExtractionForCall(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobsIdempotentInsert(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	now := time.Now().UTC()

	j := &Job{CallID: "c", Stage: "EXTRACT", Status: "queued", IdempotencyKey: "k1", CreatedAt: now, UpdatedAt: now}
	first, err := st.InsertJobIdempotent(ctx, j)
	require.NoError(t, err)
	assert.Equal(t, "{}", first.ParamsJSON)

	dup, err := st.InsertJobIdempotent(ctx, &Job{CallID: "c", Stage: "EXTRACT", Status: "queued", IdempotencyKey: "k1", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, first.ID, dup.ID)

	require.NoError(t, st.MarkJobStarted(ctx, first.ID, now))
	require.NoError(t, st.AppendJobLog(ctx, first.ID, "one", now))
	require.NoError(t, st.AppendJobLog(ctx, first.ID, "two", now))
	require.NoError(t, st.MarkJobFinished(ctx, first.ID, "succeeded", now))

	got, err := st.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)

	lines, err := st.JobLogs(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)

	counts, err := st.JobCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"succeeded": 1}, counts)

	_, err = st.GetJob(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobsWithStatus(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)
	now := time.Now().UTC()
	for i, status := range []string{"queued", "running", "succeeded", "failed"} {
		_, err := st.RecordJob(ctx, &Job{CallID: status, Stage: "TRANSCRIBE", Status: status, IdempotencyKey: string(rune('a' + i)), CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
	}

	jobs, err := st.JobsWithStatus(ctx, "queued", "running")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "queued", jobs[0].CallID)
	assert.Equal(t, "running", jobs[1].CallID)

	jobs, err = st.JobsWithStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
