package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/store"
)

func newTestRepo(t *testing.T) *store.BadgerRepository {
	t.Helper()

	repo, err := store.NewBadgerRepository(store.DefaultBadgerConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewBadgerRepository: %v", err)
	}

	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	return repo
}

func makeJob(id, userID string) (core.Job, []core.AudioChunk) {
	now := time.Now().UTC()

	job := core.Job{
		ID:        id,
		UserID:    userID,
		Status:    core.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	chunks := []core.AudioChunk{
		{ID: id + "-c0", JobID: id, Sequence: 0, AudioPath: "a.wav", Status: core.ChunkPending, CreatedAt: now, UpdatedAt: now},
		{ID: id + "-c1", JobID: id, Sequence: 1, AudioPath: "b.wav", Status: core.ChunkPending, CreatedAt: now, UpdatedAt: now},
		{ID: id + "-c2", JobID: id, Sequence: 2, AudioPath: "c.wav", Status: core.ChunkPending, CreatedAt: now, UpdatedAt: now},
	}

	return job, chunks
}

func TestCreateAndGetJobWithChunks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job, chunks := makeJob("job-1", "user-1")

	if err := repo.CreateJob(ctx, job, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := repo.GetJobWithChunks(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJobWithChunks: %v", err)
	}

	if got.Job.ID != "job-1" || got.Job.UserID != "user-1" {
		t.Fatalf("unexpected job: %+v", got.Job)
	}

	if len(got.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got.Chunks))
	}

	for i, c := range got.Chunks {
		if c.Sequence != i {
			t.Fatalf("chunks not in sequence order: index %d has sequence %d", i, c.Sequence)
		}
	}
}

func TestCreateJobDuplicateRejected(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job, chunks := makeJob("job-dup", "user-1")

	if err := repo.CreateJob(ctx, job, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	err := repo.CreateJob(ctx, job, chunks)
	if err != store.ErrJobExists {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
}

func TestGetJobWithChunksNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetJobWithChunks(context.Background(), "missing")
	if err != store.ErrJobNotFound {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimChunkTransitionsAndShortCircuits(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job, chunks := makeJob("job-claim", "user-1")

	if err := repo.CreateJob(ctx, job, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	result, err := repo.ClaimChunk(ctx, "job-claim-c0")
	if err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}

	if result.State != store.ClaimAcquired {
		t.Fatalf("expected ClaimAcquired, got %v", result.State)
	}

	if result.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", result.Attempts)
	}

	chunk, err := repo.GetChunk(ctx, "job-claim-c0")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}

	if chunk.Status != core.ChunkInProgress {
		t.Fatalf("expected chunk IN_PROGRESS, got %s", chunk.Status)
	}

	err = repo.UpdateChunk(ctx, "job-claim-c0", store.ChunkFields{
		Status:            core.ChunkCompleted,
		SetStatus:         true,
		TranscriptText:    "hello",
		SetTranscriptText: true,
	})
	if err != nil {
		t.Fatalf("UpdateChunk: %v", err)
	}

	result, err = repo.ClaimChunk(ctx, "job-claim-c0")
	if err != nil {
		t.Fatalf("ClaimChunk (second): %v", err)
	}

	if result.State != store.ClaimAlreadyCompleted {
		t.Fatalf("expected ClaimAlreadyCompleted, got %v", result.State)
	}

	chunk, err = repo.GetChunk(ctx, "job-claim-c0")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}

	if chunk.Attempts != 1 {
		t.Fatalf("short-circuited claim must not bump attempts, got %d", chunk.Attempts)
	}
}

func TestResetInProgressChunksPreservesAttempts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job, chunks := makeJob("job-reset", "user-1")

	if err := repo.CreateJob(ctx, job, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if _, err := repo.ClaimChunk(ctx, "job-reset-c0"); err != nil {
		t.Fatalf("ClaimChunk: %v", err)
	}

	reset, err := repo.ResetInProgressChunks(ctx)
	if err != nil {
		t.Fatalf("ResetInProgressChunks: %v", err)
	}

	if reset != 1 {
		t.Fatalf("expected 1 chunk reset, got %d", reset)
	}

	chunk, err := repo.GetChunk(ctx, "job-reset-c0")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}

	if chunk.Status != core.ChunkPending {
		t.Fatalf("expected chunk reset to PENDING, got %s", chunk.Status)
	}

	if chunk.Attempts != 1 {
		t.Fatalf("expected attempts preserved at 1, got %d", chunk.Attempts)
	}
}

func TestListNonTerminalJobIDs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	queued, chunks := makeJob("job-queued", "user-1")
	if err := repo.CreateJob(ctx, queued, chunks); err != nil {
		t.Fatalf("CreateJob queued: %v", err)
	}

	done, chunks2 := makeJob("job-done", "user-1")
	done.Status = core.JobCompleted
	if err := repo.CreateJob(ctx, done, chunks2); err != nil {
		t.Fatalf("CreateJob done: %v", err)
	}

	ids, err := repo.ListNonTerminalJobIDs(ctx)
	if err != nil {
		t.Fatalf("ListNonTerminalJobIDs: %v", err)
	}

	if len(ids) != 1 || ids[0] != "job-queued" {
		t.Fatalf("expected only job-queued, got %v", ids)
	}
}

func TestSearchJobsOrdersByCreatedAtDescending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC()

	for i, id := range []string{"job-a", "job-b", "job-c"} {
		job, chunks := makeJob(id, "same-user")
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		job.UpdatedAt = job.CreatedAt

		if err := repo.CreateJob(ctx, job, chunks); err != nil {
			t.Fatalf("CreateJob %s: %v", id, err)
		}
	}

	userID := "same-user"

	results, err := repo.SearchJobs(ctx, store.SearchFilter{UserID: &userID})
	if err != nil {
		t.Fatalf("SearchJobs: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(results))
	}

	want := []string{"job-c", "job-b", "job-a"}
	for i, r := range results {
		if r.Job.ID != want[i] {
			t.Fatalf("result %d: expected %s, got %s", i, want[i], r.Job.ID)
		}
	}
}
