package asr

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// SimulatedConfig configures SimulatedGateway.
type SimulatedConfig struct {
	MaxConcurrency       int64
	TransientFailureRate float64
	PermanentFailures    []string
	MinLatency           time.Duration
	MaxLatency           time.Duration
}

// DefaultSimulatedConfig mirrors the reference ASR simulator's defaults.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		MaxConcurrency:       100,
		TransientFailureRate: 0.05,
		MinLatency:           100 * time.Millisecond,
		MaxLatency:           200 * time.Millisecond,
	}
}

// SimulatedGateway is a deterministic-shape, pseudo-random ASR gateway used
// for tests and local/dev runs when no external ASR endpoint is configured.
// A fixed set of audio paths always fail permanently; everything else fails
// transiently at the configured rate and otherwise succeeds after an
// artificial latency within [MinLatency, MaxLatency].
type SimulatedGateway struct {
	sem                  *semaphore.Weighted
	transientFailureRate float64
	minLatency           time.Duration
	maxLatency           time.Duration

	mu                sync.Mutex
	permanentFailures map[string]bool
	rng               *rand.Rand
}

// NewSimulatedGateway constructs a SimulatedGateway from cfg.
func NewSimulatedGateway(cfg SimulatedConfig) *SimulatedGateway {
	permanent := make(map[string]bool, len(cfg.PermanentFailures))
	for _, p := range cfg.PermanentFailures {
		permanent[p] = true
	}

	return &SimulatedGateway{
		sem:                  semaphore.NewWeighted(cfg.MaxConcurrency),
		transientFailureRate: cfg.TransientFailureRate,
		minLatency:           cfg.MinLatency,
		maxLatency:           cfg.MaxLatency,
		permanentFailures:    permanent,
		rng:                  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Transcribe implements Gateway.
func (g *SimulatedGateway) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire simulated ASR slot: %w", err)
	}
	defer g.sem.Release(1)

	latency := g.randomLatency()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	g.mu.Lock()
	permanentlyBlocked := g.permanentFailures[audioPath]
	roll := g.rng.Float64()
	g.mu.Unlock()

	if permanentlyBlocked {
		return "", fmt.Errorf("%w: audio path %s cannot be transcribed", ErrPermanent, audioPath)
	}

	if roll < g.transientFailureRate {
		return "", fmt.Errorf("%w: simulated transient ASR failure", ErrTransient)
	}

	return fmt.Sprintf("Transcript for %s", audioPath), nil
}

func (g *SimulatedGateway) randomLatency() time.Duration {
	if g.maxLatency <= g.minLatency {
		return g.minLatency
	}

	g.mu.Lock()
	span := g.maxLatency - g.minLatency
	jitter := time.Duration(g.rng.Int63n(int64(span)))
	g.mu.Unlock()

	return g.minLatency + jitter
}
