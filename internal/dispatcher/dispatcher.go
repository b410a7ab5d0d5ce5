// Package dispatcher enqueues jobs for processing, at-least-once and
// deduplicated by jobId, behind a swappable transport.
package dispatcher

import (
	"context"
	"errors"
)

// ErrEnqueueFailed wraps the underlying cause of a failed Enqueue call.
var ErrEnqueueFailed = errors.New("dispatcher: enqueue failed")

// WorkerFunc processes one dispatched job. InProcess invokes it directly
// from a worker goroutine; Webhook's counterpart lives on the far side of
// an HTTP POST and is invoked by the receiving handler instead.
type WorkerFunc func(ctx context.Context, jobID string)

// Dispatcher hands a jobId off for processing. Enqueue is at-least-once and
// deduplicates redundant calls for a jobId that is already pending or
// executing: a second Enqueue for the same jobId while the first is still
// outstanding is a no-op, not an error.
type Dispatcher interface {
	Enqueue(ctx context.Context, jobID string) error
}
