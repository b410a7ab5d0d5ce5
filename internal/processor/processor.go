// Package processor implements the job execution state machine: prepare a
// job, run its chunks through the ASR gateway in sequence order with linear
// retry backoff, and finalize the job's terminal status and transcript.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/book-expert/transcription-service/internal/asr"
	"github.com/book-expert/transcription-service/internal/core"
	"github.com/book-expert/transcription-service/internal/store"
)

// Processor runs the job execution algorithm against a store.Repository and
// an asr.Gateway. It never returns an error to its caller: any uncaught
// store error is logged and the delivery is left to be redelivered by the
// dispatcher, since observable job/chunk state only advances on successful
// store writes.
type Processor struct {
	repo        store.Repository
	gateway     asr.Gateway
	maxRetries  int
	backoffUnit time.Duration
	log         *slog.Logger
}

// New constructs a Processor. maxRetries and backoffUnit have no implicit
// defaults here; callers (internal/config) are responsible for supplying
// the spec's defaults (3 retries, 500ms) when the environment doesn't
// override them.
func New(repo store.Repository, gateway asr.Gateway, maxRetries int, backoffUnit time.Duration, log *slog.Logger) *Processor {
	return &Processor{
		repo:        repo,
		gateway:     gateway,
		maxRetries:  maxRetries,
		backoffUnit: backoffUnit,
		log:         log,
	}
}

// ProcessJob runs the full prepare -> per-chunk loop -> finalize algorithm
// for jobID. It is idempotent and safe to invoke redundantly or
// concurrently for the same jobID: a job already terminal, or already
// IN_PROGRESS, is handled without double work beyond what ClaimChunk
// already serializes per chunk.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) {
	chunkIDs, ok := p.prepareJob(ctx, jobID)
	if !ok {
		return
	}

	for _, chunkID := range chunkIDs {
		p.processChunk(ctx, chunkID)
	}

	p.finalizeJob(ctx, jobID)
}

// prepareJob loads the job, no-ops if it is already terminal, else marks it
// IN_PROGRESS and returns its chunk ids in sequence order.
func (p *Processor) prepareJob(ctx context.Context, jobID string) ([]string, bool) {
	withChunks, err := p.repo.GetJobWithChunks(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			p.log.Error("processor: load job failed", "jobId", jobID, "error", err)
		}

		return nil, false
	}

	if withChunks.Job.Status.Terminal() {
		return nil, false
	}

	err = p.repo.UpdateJobStatus(ctx, jobID, core.JobInProgress, nil, nil)
	if err != nil {
		p.log.Error("processor: mark job in-progress failed", "jobId", jobID, "error", err)
		return nil, false
	}

	ids := make([]string, 0, len(withChunks.Chunks))
	for _, c := range withChunks.Chunks {
		ids = append(ids, c.ID)
	}

	return ids, true
}

// processChunk drives a single chunk to a terminal outcome, retrying
// transient ASR failures with linear backoff up to maxRetries. It returns
// true if the chunk ends COMPLETED, false otherwise (already failed, or
// this pass exhausted its retries).
func (p *Processor) processChunk(ctx context.Context, chunkID string) bool {
	for {
		claim, err := p.repo.ClaimChunk(ctx, chunkID)
		if err != nil {
			p.log.Error("processor: claim chunk failed", "chunkId", chunkID, "error", err)
			return false
		}

		switch claim.State {
		case store.ClaimAlreadyCompleted:
			return true
		case store.ClaimAlreadyFailed:
			return false
		}

		transcript, err := p.gateway.Transcribe(ctx, claim.AudioPath)
		switch {
		case err == nil:
			p.markCompleted(ctx, chunkID, transcript)
			return true
		case errors.Is(err, asr.ErrPermanent):
			p.markPermanentFailure(ctx, chunkID, err.Error())
			return false
		default:
			shouldRetry := p.handleTransientFailure(ctx, chunkID, err.Error(), claim.Attempts)
			if !shouldRetry {
				return false
			}

			if !p.sleepBackoff(ctx, claim.Attempts) {
				return false
			}
		}
	}
}

func (p *Processor) sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(attempt) * p.backoffUnit

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Processor) markCompleted(ctx context.Context, chunkID, transcript string) {
	err := p.repo.UpdateChunk(ctx, chunkID, store.ChunkFields{
		Status:            core.ChunkCompleted,
		SetStatus:         true,
		TranscriptText:    transcript,
		SetTranscriptText: true,
	})
	if err != nil {
		p.log.Error("processor: mark chunk completed failed", "chunkId", chunkID, "error", err)
	}
}

func (p *Processor) markPermanentFailure(ctx context.Context, chunkID, reason string) {
	errMsg := reason

	err := p.repo.UpdateChunk(ctx, chunkID, store.ChunkFields{
		Status:       core.ChunkPermanentFailure,
		SetStatus:    true,
		LastError:    &errMsg,
		SetLastError: true,
	})
	if err != nil {
		p.log.Error("processor: mark chunk permanently failed", "chunkId", chunkID, "error", err)
	}
}

// handleTransientFailure records the failure and decides whether another
// attempt is warranted: once attempt reaches maxRetries, the chunk is
// demoted to PERMANENT_FAILURE instead of TRANSIENT_ERROR and no further
// retry happens.
func (p *Processor) handleTransientFailure(ctx context.Context, chunkID, reason string, attempt int) bool {
	errMsg := reason

	if attempt >= p.maxRetries {
		err := p.repo.UpdateChunk(ctx, chunkID, store.ChunkFields{
			Status:       core.ChunkPermanentFailure,
			SetStatus:    true,
			LastError:    &errMsg,
			SetLastError: true,
		})
		if err != nil {
			p.log.Error("processor: mark chunk permanently failed after retries", "chunkId", chunkID, "error", err)
		}

		return false
	}

	err := p.repo.UpdateChunk(ctx, chunkID, store.ChunkFields{
		Status:       core.ChunkTransientError,
		SetStatus:    true,
		LastError:    &errMsg,
		SetLastError: true,
	})
	if err != nil {
		p.log.Error("processor: mark chunk transient error failed", "chunkId", chunkID, "error", err)
	}

	return true
}

// finalizeJob re-reads the job's chunks, computes the terminal status,
// rebuilds the transcript, and commits completedAt when terminal. A chunk
// left non-terminal by a transient store error during processChunk simply
// keeps the job non-terminal, so a later redelivery can still heal it.
func (p *Processor) finalizeJob(ctx context.Context, jobID string) {
	withChunks, err := p.repo.GetJobWithChunks(ctx, jobID)
	if err != nil {
		p.log.Error("processor: finalize: reload job failed", "jobId", jobID, "error", err)
		return
	}

	status, terminal := core.TerminalStatus(withChunks.Chunks)

	transcriptText := core.BuildTranscript(withChunks.Chunks)

	var completedAt *time.Time

	if terminal {
		now := time.Now().UTC()
		completedAt = &now
	}

	err = p.repo.UpdateJobStatus(ctx, jobID, status, completedAt, &transcriptText)
	if err != nil {
		p.log.Error("processor: finalize: update job status failed", "jobId", jobID, "error", err)
	}
}
