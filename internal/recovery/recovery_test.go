package recovery_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/recovery"
	"github.com/book-expert/transcription-service/internal/storetest"
)

// fakeDispatcher records Enqueue calls instead of running real work.
type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []string
	failFor  map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failFor: make(map[string]bool)}
}

func (d *fakeDispatcher) Enqueue(_ context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failFor[jobID] {
		return errEnqueue
	}

	d.enqueued = append(d.enqueued, jobID)

	return nil
}

var errEnqueue = &recoveryTestError{"enqueue failed"}

type recoveryTestError struct{ msg string }

func (e *recoveryTestError) Error() string { return e.msg }

// S5: a chunk left IN_PROGRESS by a simulated crash is reset to PENDING with
// its attempts preserved, and only its non-terminal job is re-enqueued.
func TestRunResetsInProgressChunksAndReenqueuesNonTerminalJobs(t *testing.T) {
	repo := storetest.New()
	ctx := context.Background()

	now := time.Now().UTC()

	job := core.Job{ID: "job-crashed", UserID: "u1", Status: core.JobInProgress, CreatedAt: now, UpdatedAt: now}
	chunks := []core.AudioChunk{
		{ID: "job-crashed-c0", JobID: "job-crashed", Sequence: 0, AudioPath: "a.wav", Status: core.ChunkInProgress, Attempts: 1, CreatedAt: now, UpdatedAt: now},
		{ID: "job-crashed-c1", JobID: "job-crashed", Sequence: 1, AudioPath: "b.wav", Status: core.ChunkCompleted, Attempts: 1, CreatedAt: now, UpdatedAt: now},
	}

	if err := repo.CreateJob(ctx, job, chunks); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	doneJob := core.Job{ID: "job-done", UserID: "u1", Status: core.JobCompleted, CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateJob(ctx, doneJob, nil); err != nil {
		t.Fatalf("CreateJob done: %v", err)
	}

	disp := newFakeDispatcher()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := recovery.Run(ctx, repo, disp, log); err != nil {
		t.Fatalf("Run: %v", err)
	}

	chunk, err := repo.GetChunk(ctx, "job-crashed-c0")
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}

	if chunk.Status != core.ChunkPending {
		t.Fatalf("expected chunk reset to PENDING, got %s", chunk.Status)
	}

	if chunk.Attempts != 1 {
		t.Fatalf("expected attempts preserved at 1, got %d", chunk.Attempts)
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()

	if len(disp.enqueued) != 1 || disp.enqueued[0] != "job-crashed" {
		t.Fatalf("expected only job-crashed re-enqueued, got %v", disp.enqueued)
	}
}

func TestRunLogsAndContinuesOnEnqueueFailure(t *testing.T) {
	repo := storetest.New()
	ctx := context.Background()

	now := time.Now().UTC()

	for _, id := range []string{"job-a", "job-b"} {
		job := core.Job{ID: id, UserID: "u1", Status: core.JobQueued, CreatedAt: now, UpdatedAt: now}
		if err := repo.CreateJob(ctx, job, nil); err != nil {
			t.Fatalf("CreateJob %s: %v", id, err)
		}
	}

	disp := newFakeDispatcher()
	disp.failFor["job-a"] = true

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := recovery.Run(ctx, repo, disp, log); err != nil {
		t.Fatalf("Run must not abort on enqueue failure: %v", err)
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()

	if len(disp.enqueued) != 1 || disp.enqueued[0] != "job-b" {
		t.Fatalf("expected job-b still enqueued despite job-a failure, got %v", disp.enqueued)
	}
}
