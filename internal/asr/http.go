package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// HTTPConfig configures HTTPGateway.
type HTTPConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MaxConcurrency int64
	// RequestsPerSecond, when non-zero, caps the outbound request rate in
	// addition to the concurrency semaphore.
	RequestsPerSecond float64
}

// HTTPGateway calls an external ASR HTTP endpoint, classifying failures by
// status code and an optional explicit "retryable" field in the response
// body.
type HTTPGateway struct {
	client  *http.Client
	baseURL string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewHTTPGateway constructs an HTTPGateway from cfg.
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}

		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPGateway{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: cfg.BaseURL,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrency),
		limiter: limiter,
	}
}

type transcribeRequest struct {
	AudioPath string `json:"audioPath"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
	Retryable  *bool  `json:"retryable,omitempty"`
}

// Transcribe implements Gateway.
func (g *HTTPGateway) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire ASR concurrency slot: %w", err)
	}
	defer g.sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for ASR rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(transcribeRequest{AudioPath: audioPath})
	if err != nil {
		return "", fmt.Errorf("encode ASR request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ASR request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: ASR request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read ASR response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var decoded transcribeResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return "", fmt.Errorf("%w: decode ASR response: %v", ErrTransient, err)
		}

		return decoded.Transcript, nil
	}

	return "", classifyHTTPFailure(resp.StatusCode, respBody)
}

func classifyHTTPFailure(status int, body []byte) error {
	var decoded transcribeResponse
	_ = json.Unmarshal(body, &decoded)

	if decoded.Retryable != nil && !*decoded.Retryable {
		return fmt.Errorf("%w: ASR rejected audio (status %d): %s", ErrPermanent, status, body)
	}

	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: ASR throttled or timed out (status %d): %s", ErrTransient, status, body)
	}

	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: unprocessable audio (status %d): %s", ErrPermanent, status, body)
	}

	return fmt.Errorf("%w: ASR request failed (status %d): %s", ErrTransient, status, body)
}
