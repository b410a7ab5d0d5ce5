// Package store defines the durable repository of jobs and their chunks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/book-expert/transcription-service/internal/core"
)

// Static errors.
var (
	// ErrJobExists is returned by CreateJob when jobId collides with an
	// existing job.
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound is returned when a job lookup finds nothing.
	ErrJobNotFound = errors.New("job not found")
	// ErrChunkNotFound is returned when a chunk lookup finds nothing.
	ErrChunkNotFound = errors.New("chunk not found")
)

// ClaimState is the outcome of a ClaimChunk call.
type ClaimState int

const (
	// ClaimAcquired means the chunk transitioned to IN_PROGRESS and the
	// caller now owns this attempt.
	ClaimAcquired ClaimState = iota
	// ClaimAlreadyCompleted means the chunk was already COMPLETED; no
	// mutation occurred.
	ClaimAlreadyCompleted
	// ClaimAlreadyFailed means the chunk was already PERMANENT_FAILURE;
	// no mutation occurred.
	ClaimAlreadyFailed
)

// ClaimResult is returned by ClaimChunk.
type ClaimResult struct {
	State     ClaimState
	AudioPath string
	Attempts  int
}

// ChunkFields describes a partial update to an AudioChunk. Only the fields
// whose companion "Set*" flag is true are applied; UpdatedAt is always
// bumped to the current time.
type ChunkFields struct {
	Status            core.ChunkStatus
	SetStatus         bool
	TranscriptText    string
	SetTranscriptText bool
	LastError         *string
	SetLastError      bool
}

// SearchFilter narrows SearchJobs by UserID and/or Status. A nil field means
// "don't filter on this".
type SearchFilter struct {
	UserID *string
	Status *core.JobStatus
}

// Repository is the durable store of jobs and their chunks. Every operation
// is atomic on its own row(s); CreateJob is exactly-once by jobId, every
// other operation is idempotent under identical inputs.
type Repository interface {
	// CreateJob inserts job in QUEUED and chunks in PENDING. Returns
	// ErrJobExists if job.ID collides with an existing job.
	CreateJob(ctx context.Context, job core.Job, chunks []core.AudioChunk) error

	// GetJobWithChunks returns the job and its chunks ordered by Sequence.
	// Returns ErrJobNotFound if no such job exists.
	GetJobWithChunks(ctx context.Context, jobID string) (*core.JobWithChunks, error)

	// UpdateJobStatus performs a single-row update of a job's status and,
	// when non-nil, its completedAt/transcriptText.
	UpdateJobStatus(
		ctx context.Context,
		jobID string,
		status core.JobStatus,
		completedAt *time.Time,
		transcriptText *string,
	) error

	// ListChunkIDsForJob returns chunk ids ordered by Sequence.
	ListChunkIDsForJob(ctx context.Context, jobID string) ([]string, error)

	// GetChunk returns a single chunk by id. Returns ErrChunkNotFound if
	// no such chunk exists.
	GetChunk(ctx context.Context, chunkID string) (*core.AudioChunk, error)

	// UpdateChunk applies a partial update to a chunk.
	UpdateChunk(ctx context.Context, chunkID string, fields ChunkFields) error

	// ClaimChunk is the conditional transition that serializes execution
	// of a single chunk: COMPLETED/PERMANENT_FAILURE short-circuit
	// without mutation, anything else transitions to IN_PROGRESS,
	// increments Attempts, clears LastError, and bumps UpdatedAt.
	ClaimChunk(ctx context.Context, chunkID string) (ClaimResult, error)

	// ResetInProgressChunks demotes every IN_PROGRESS chunk to PENDING,
	// preserving Attempts. Returns the number of chunks reset.
	ResetInProgressChunks(ctx context.Context) (int, error)

	// ListNonTerminalJobIDs returns ids of jobs whose status is QUEUED or
	// IN_PROGRESS.
	ListNonTerminalJobIDs(ctx context.Context) ([]string, error)

	// SearchJobs returns jobs (with chunks) matching filter, ordered by
	// CreatedAt descending.
	SearchJobs(ctx context.Context, filter SearchFilter) ([]core.JobWithChunks, error)

	// Close releases any resources held by the repository.
	Close() error
}
