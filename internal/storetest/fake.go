// Package storetest provides an in-memory store.Repository fake for tests
// in packages that consume the store without exercising BadgerDB itself.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/store"
)

// Repository is a mutex-guarded in-memory implementation of
// store.Repository, suitable for processor/recovery/transcript tests.
type Repository struct {
	mu     sync.Mutex
	jobs   map[string]core.Job
	chunks map[string]core.AudioChunk // keyed by chunk id
}

// New returns an empty fake repository.
func New() *Repository {
	return &Repository{
		jobs:   make(map[string]core.Job),
		chunks: make(map[string]core.AudioChunk),
	}
}

// CreateJob implements store.Repository.
func (r *Repository) CreateJob(_ context.Context, job core.Job, chunks []core.AudioChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return store.ErrJobExists
	}

	r.jobs[job.ID] = job

	for _, c := range chunks {
		r.chunks[c.ID] = c
	}

	return nil
}

func (r *Repository) chunksForJobLocked(jobID string) []core.AudioChunk {
	var chunks []core.AudioChunk

	for _, c := range r.chunks {
		if c.JobID == jobID {
			chunks = append(chunks, c)
		}
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Sequence < chunks[j].Sequence })

	return chunks
}

// GetJobWithChunks implements store.Repository.
func (r *Repository) GetJobWithChunks(_ context.Context, jobID string) (*core.JobWithChunks, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}

	result := core.JobWithChunks{Job: job, Chunks: r.chunksForJobLocked(jobID)}

	return &result, nil
}

// UpdateJobStatus implements store.Repository.
func (r *Repository) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status core.JobStatus,
	completedAt *time.Time,
	transcriptText *string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()

	if completedAt != nil {
		job.CompletedAt = completedAt
	}

	if transcriptText != nil {
		job.TranscriptText = *transcriptText
	}

	r.jobs[jobID] = job

	return nil
}

// ListChunkIDsForJob implements store.Repository.
func (r *Repository) ListChunkIDsForJob(_ context.Context, jobID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string

	for _, c := range r.chunksForJobLocked(jobID) {
		ids = append(ids, c.ID)
	}

	return ids, nil
}

// GetChunk implements store.Repository.
func (r *Repository) GetChunk(_ context.Context, chunkID string) (*core.AudioChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[chunkID]
	if !ok {
		return nil, store.ErrChunkNotFound
	}

	return &chunk, nil
}

// UpdateChunk implements store.Repository.
func (r *Repository) UpdateChunk(_ context.Context, chunkID string, fields store.ChunkFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[chunkID]
	if !ok {
		return store.ErrChunkNotFound
	}

	if fields.SetStatus {
		chunk.Status = fields.Status
	}

	if fields.SetTranscriptText {
		chunk.TranscriptText = fields.TranscriptText
	}

	if fields.SetLastError {
		chunk.LastError = fields.LastError
	}

	chunk.UpdatedAt = time.Now().UTC()
	r.chunks[chunkID] = chunk

	return nil
}

// ClaimChunk implements store.Repository.
func (r *Repository) ClaimChunk(_ context.Context, chunkID string) (store.ClaimResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chunk, ok := r.chunks[chunkID]
	if !ok {
		return store.ClaimResult{}, store.ErrChunkNotFound
	}

	switch chunk.Status {
	case core.ChunkCompleted:
		return store.ClaimResult{State: store.ClaimAlreadyCompleted, AudioPath: chunk.AudioPath, Attempts: chunk.Attempts}, nil
	case core.ChunkPermanentFailure:
		return store.ClaimResult{State: store.ClaimAlreadyFailed, AudioPath: chunk.AudioPath, Attempts: chunk.Attempts}, nil
	}

	chunk.Status = core.ChunkInProgress
	chunk.Attempts++
	chunk.LastError = nil
	chunk.UpdatedAt = time.Now().UTC()
	r.chunks[chunkID] = chunk

	return store.ClaimResult{State: store.ClaimAcquired, AudioPath: chunk.AudioPath, Attempts: chunk.Attempts}, nil
}

// ResetInProgressChunks implements store.Repository.
func (r *Repository) ResetInProgressChunks(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset := 0

	for id, chunk := range r.chunks {
		if chunk.Status == core.ChunkInProgress {
			chunk.Status = core.ChunkPending
			chunk.UpdatedAt = time.Now().UTC()
			r.chunks[id] = chunk
			reset++
		}
	}

	return reset, nil
}

// ListNonTerminalJobIDs implements store.Repository.
func (r *Repository) ListNonTerminalJobIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string

	for id, job := range r.jobs {
		if job.Status == core.JobQueued || job.Status == core.JobInProgress {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

// SearchJobs implements store.Repository.
func (r *Repository) SearchJobs(_ context.Context, filter store.SearchFilter) ([]core.JobWithChunks, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var results []core.JobWithChunks

	for id, job := range r.jobs {
		if filter.UserID != nil && job.UserID != *filter.UserID {
			continue
		}

		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}

		results = append(results, core.JobWithChunks{Job: job, Chunks: r.chunksForJobLocked(id)})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Job.CreatedAt.After(results[j].Job.CreatedAt)
	})

	return results, nil
}

// Close implements store.Repository.
func (r *Repository) Close() error {
	return nil
}

var _ store.Repository = (*Repository)(nil)
