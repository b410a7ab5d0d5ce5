package transcript_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/store"
	"github.com/book-expert/transcription-service/internal/storetest"
	"github.com/book-expert/transcription-service/internal/transcript"
)

func TestBuildOrdersBySequenceAndSkipsEmptyTranscripts(t *testing.T) {
	completedAt := time.Now().UTC()
	job := core.Job{ID: "job-1", UserID: "user-1", Status: core.JobCompleted, CompletedAt: &completedAt}

	chunks := []core.AudioChunk{
		{Sequence: 1, AudioPath: "b.wav", Status: core.ChunkCompleted, TranscriptText: "second"},
		{Sequence: 0, AudioPath: "a.wav", Status: core.ChunkCompleted, TranscriptText: "first"},
		{Sequence: 2, AudioPath: "c.wav", Status: core.ChunkPermanentFailure, TranscriptText: ""},
	}

	result := transcript.Build(job, chunks)

	if result.TranscriptText != "first\nsecond" {
		t.Fatalf("unexpected transcript: %q", result.TranscriptText)
	}

	if result.UserID != "user-1" {
		t.Fatalf("expected userId to carry through, got %q", result.UserID)
	}

	if result.JobStatus != core.JobCompleted {
		t.Fatalf("expected jobStatus completed, got %s", result.JobStatus)
	}

	if result.CompletedTime == nil || !result.CompletedTime.Equal(completedAt) {
		t.Fatalf("expected completedTime to carry through, got %v", result.CompletedTime)
	}

	if len(result.ChunkStatuses) != 3 {
		t.Fatalf("expected 3 chunk statuses, got %d", len(result.ChunkStatuses))
	}

	if result.ChunkStatuses[0].AudioPath != "a.wav" || result.ChunkStatuses[2].AudioPath != "c.wav" {
		t.Fatalf("chunk statuses not ordered by sequence: %+v", result.ChunkStatuses)
	}

	if result.ChunkStatuses[2].Status != core.ChunkPermanentFailure {
		t.Fatalf("expected permanent_failure vocabulary, got %s", result.ChunkStatuses[2].Status)
	}
}

func TestSearchFiltersAndBuildsResults(t *testing.T) {
	repo := storetest.New()
	ctx := context.Background()

	now := time.Now().UTC()

	job := core.Job{ID: "job-1", UserID: "user-1", Status: core.JobCompleted, CreatedAt: now, UpdatedAt: now}
	chunks := []core.AudioChunk{{ID: "c0", JobID: "job-1", Sequence: 0, AudioPath: "a.wav", Status: core.ChunkCompleted, TranscriptText: "hi"}}

	if err := repo.CreateJob(ctx, job, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	userID := "user-1"

	results, err := transcript.Search(ctx, repo, store.SearchFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 1 || results[0].JobID != "job-1" {
		t.Fatalf("unexpected search results: %+v", results)
	}

	if results[0].TranscriptText != "hi" {
		t.Fatalf("expected transcript 'hi', got %q", results[0].TranscriptText)
	}
}
