// Package transcript builds the externally-visible transcript
// representation of a job and supports searching across jobs.
package transcript

import (
	"context"
	"sort"
	"time"

	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/store"
)

// ChunkStatus is one entry of an ordered chunkStatuses sequence: the
// audioPath of a chunk paired with its status, in sequence order. An
// explicit ordered array of pairs is used instead of a map because Go's
// encoding/json does not preserve map key order on the wire.
type ChunkStatus struct {
	AudioPath string          `json:"audioPath"`
	Status    core.ChunkStatus `json:"status"`
}

// Result is the aggregated, externally-visible view of a job.
type Result struct {
	JobID          string         `json:"jobId"`
	UserID         string         `json:"userId"`
	JobStatus      core.JobStatus `json:"jobStatus"`
	TranscriptText string         `json:"transcriptText"`
	ChunkStatuses  []ChunkStatus  `json:"chunkStatuses"`
	CompletedTime  *time.Time     `json:"completedTime"`
}

// Build aggregates job and its chunks (already loaded, any order) into a
// Result: the transcript is the newline-join of non-empty chunk transcripts
// in sequence order, and chunkStatuses is ordered the same way.
func Build(job core.Job, chunks []core.AudioChunk) Result {
	ordered := make([]core.AudioChunk, len(chunks))
	copy(ordered, chunks)

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	statuses := make([]ChunkStatus, 0, len(ordered))
	for _, c := range ordered {
		statuses = append(statuses, ChunkStatus{AudioPath: c.AudioPath, Status: c.Status})
	}

	return Result{
		JobID:          job.ID,
		UserID:         job.UserID,
		JobStatus:      job.Status,
		TranscriptText: core.BuildTranscript(ordered),
		ChunkStatuses:  statuses,
		CompletedTime:  job.CompletedAt,
	}
}

// Search finds jobs matching filter and builds a Result for each, in the
// order the repository returns them (createdAt descending).
func Search(ctx context.Context, repo store.Repository, filter store.SearchFilter) ([]Result, error) {
	matches, err := repo.SearchJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, Build(m.Job, m.Chunks))
	}

	return results, nil
}
