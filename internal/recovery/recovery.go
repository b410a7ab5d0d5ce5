// Package recovery reconciles durable state with in-flight work after a
// crash or restart, before the service starts accepting new submissions.
package recovery

import (
	"context"
	"log/slog"

	"github.com/book-expert/transcription-service/internal/dispatcher"
	"github.com/book-expert/transcription-service/internal/store"
)

// Run resets every IN_PROGRESS chunk to PENDING (preserving Attempts), then
// re-enqueues every non-terminal job so the dispatcher resumes work a crash
// interrupted. Enqueue failures are logged, not fatal: a job left
// un-enqueued here is still non-terminal and will be picked up by the next
// Run, or by a fresh submission's redelivery.
func Run(ctx context.Context, repo store.Repository, disp dispatcher.Dispatcher, log *slog.Logger) error {
	reset, err := repo.ResetInProgressChunks(ctx)
	if err != nil {
		return err
	}

	log.Info("recovery: reset in-progress chunks", "count", reset)

	jobIDs, err := repo.ListNonTerminalJobIDs(ctx)
	if err != nil {
		return err
	}

	log.Info("recovery: re-enqueuing non-terminal jobs", "count", len(jobIDs))

	for _, jobID := range jobIDs {
		if err := disp.Enqueue(ctx, jobID); err != nil {
			log.Error("recovery: enqueue failed", "jobId", jobID, "error", err)
		}
	}

	return nil
}
