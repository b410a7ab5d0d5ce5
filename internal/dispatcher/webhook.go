package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// WebhookConfig configures Webhook. The field names mirror the identifying
// fields of a durable cloud task queue (project/location/queue) even though
// this realization posts to a plain HTTP handler rather than calling a
// managed task-queue API; they are carried as opaque identifiers for
// startup-time validation and for task naming.
type WebhookConfig struct {
	ProjectID           string
	LocationID          string
	QueueID             string
	HandlerURL          string
	ServiceAccountEmail string
	Audience            string
}

// Validate checks that every field required to name and deliver a task is
// present, failing fast at startup rather than at first Enqueue.
func (c WebhookConfig) Validate() error {
	if c.ProjectID == "" || c.LocationID == "" || c.QueueID == "" || c.HandlerURL == "" {
		return fmt.Errorf("webhook dispatcher: project, location, queue and handler URL are required")
	}

	return nil
}

// Webhook is the external durable-queue realization of Dispatcher: Enqueue
// posts the jobId to a configured HTTP handler URL, named after the queue
// it is conceptually enqueued on (projects/<project>/locations/<location>/
// queues/<queue>/tasks/<jobId>) so that redelivery of the same task name is
// recognized as a duplicate. Correctness across process restarts rests on
// the remote handler's own idempotent ProcessJob re-entry; this dispatcher
// only deduplicates posts made by the current process.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client

	mu          sync.Mutex
	outstanding map[string]bool
}

// NewWebhook constructs a Webhook dispatcher. cfg must already be valid per
// Validate.
func NewWebhook(cfg WebhookConfig, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}

	return &Webhook{
		cfg:         cfg,
		client:      client,
		outstanding: make(map[string]bool),
	}
}

// taskName builds the Cloud-Tasks-shaped name used for in-process dedup.
func (w *Webhook) taskName(jobID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s/tasks/%s", w.cfg.ProjectID, w.cfg.LocationID, w.cfg.QueueID, jobID)
}

type webhookTaskBody struct {
	JobID string `json:"jobId"`
}

// Enqueue implements Dispatcher.
func (w *Webhook) Enqueue(ctx context.Context, jobID string) error {
	name := w.taskName(jobID)

	w.mu.Lock()

	if w.outstanding[name] {
		w.mu.Unlock()
		return nil
	}

	w.outstanding[name] = true
	w.mu.Unlock()

	err := w.post(ctx, jobID)

	w.mu.Lock()
	delete(w.outstanding, name)
	w.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	return nil
}

func (w *Webhook) post(ctx context.Context, jobID string) error {
	body, err := json.Marshal(webhookTaskBody{JobID: jobID})
	if err != nil {
		return fmt.Errorf("encode task body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.HandlerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build task request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if w.cfg.ServiceAccountEmail != "" {
		req.Header.Set("X-Task-Service-Account", w.cfg.ServiceAccountEmail)
	}

	if w.cfg.Audience != "" {
		req.Header.Set("X-Task-Audience", w.cfg.Audience)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post task: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("handler returned status %d", resp.StatusCode)
	}

	return nil
}
