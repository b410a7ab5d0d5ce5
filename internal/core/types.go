// Package core defines the domain types shared by every layer of the
// transcription service: jobs, audio chunks, and their status vocabularies.
package core

import "time"

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ChunkStatus is the lifecycle state of an AudioChunk.
type ChunkStatus string

const (
	ChunkPending          ChunkStatus = "pending"
	ChunkInProgress       ChunkStatus = "in_progress"
	ChunkCompleted        ChunkStatus = "completed"
	ChunkTransientError   ChunkStatus = "transient_error"
	ChunkPermanentFailure ChunkStatus = "permanent_failure"
)

// Terminal reports whether the status admits no further transitions.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkCompleted || s == ChunkPermanentFailure
}

// Job is a user-submitted ordered collection of audio chunks with a single
// terminal transcript.
type Job struct {
	ID             string
	UserID         string
	Status         JobStatus
	TranscriptText string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// AudioChunk is one audio segment referenced by path, the atomic unit of ASR
// work.
type AudioChunk struct {
	ID             string
	JobID          string
	Sequence       int
	AudioPath      string
	Status         ChunkStatus
	TranscriptText string
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobWithChunks bundles a job with its chunks ordered by Sequence.
type JobWithChunks struct {
	Job    Job
	Chunks []AudioChunk
}

// BuildTranscript newline-joins the non-empty transcript of each chunk in
// Sequence order. Chunks must already be sorted by Sequence.
func BuildTranscript(chunks []AudioChunk) string {
	var parts []string

	for _, chunk := range chunks {
		if chunk.TranscriptText != "" {
			parts = append(parts, chunk.TranscriptText)
		}
	}

	text := ""
	for i, part := range parts {
		if i > 0 {
			text += "\n"
		}

		text += part
	}

	return text
}

// TerminalStatus computes the terminal job status implied by a chunk set per
// invariants 2-4: FAILED if any chunk is permanently failed, COMPLETED if
// every chunk is completed, otherwise the job is not yet terminal.
func TerminalStatus(chunks []AudioChunk) (status JobStatus, ok bool) {
	hasPermanentFailure := false
	allCompleted := true

	for _, chunk := range chunks {
		if chunk.Status == ChunkPermanentFailure {
			hasPermanentFailure = true
		}

		if chunk.Status != ChunkCompleted {
			allCompleted = false
		}
	}

	switch {
	case hasPermanentFailure:
		return JobFailed, true
	case allCompleted:
		return JobCompleted, true
	default:
		return JobInProgress, false
	}
}
