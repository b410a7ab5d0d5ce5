package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures RateLimiter.
type RateLimitConfig struct {
	Enabled    bool
	Requests   int
	Burst      int
	Window     time.Duration
	ByIP       bool
	ByEndpoint bool
}

// DefaultRateLimitConfig allows 60 requests per minute per client IP, with a
// burst of 10, which is generous enough for normal polling of
// /transcript/{jobId} without admitting a hammering client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:  true,
		Requests: 60,
		Burst:    10,
		Window:   time.Minute,
		ByIP:     true,
	}
}

// RateLimiter is a token-bucket rate limiter keyed by client IP and,
// optionally, request path.
type RateLimiter struct {
	config  RateLimitConfig
	clients map[string]*clientLimiter
	mu      sync.RWMutex

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

// clientLimiter tracks rate limit state for a single client.
type clientLimiter struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewRateLimiter constructs a RateLimiter and starts its stale-client
// cleanup goroutine. Call Stop to shut it down.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:      cfg,
		clients:     make(map[string]*clientLimiter),
		stopCleanup: make(chan struct{}),
	}

	rl.cleanupTicker = time.NewTicker(5 * time.Minute)
	go rl.cleanup()

	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			now := time.Now()

			for key, client := range rl.clients {
				client.mu.Lock()
				if now.Sub(client.lastUpdate) > 2*rl.config.Window {
					delete(rl.clients, key)
				}
				client.mu.Unlock()
			}

			rl.mu.Unlock()
		case <-rl.stopCleanup:
			rl.cleanupTicker.Stop()
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Handler returns the middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		clientKey := rl.getClientKey(r)

		allowed, remaining, resetTime := rl.allow(clientKey)
		if !allowed {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
			w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds()), 10))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)

			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) getClientKey(r *http.Request) string {
	parts := make([]string, 0, 2)

	if rl.config.ByIP {
		parts = append(parts, getClientIP(r))
	}

	if rl.config.ByEndpoint {
		parts = append(parts, r.URL.Path)
	}

	if len(parts) == 0 {
		return getClientIP(r)
	}

	return strings.Join(parts, ":")
}

func (rl *RateLimiter) allow(clientKey string) (allowed bool, remaining int, resetTime time.Time) {
	rl.mu.Lock()

	client, exists := rl.clients[clientKey]
	if !exists {
		client = &clientLimiter{
			tokens:     rl.config.Requests + rl.config.Burst,
			lastUpdate: time.Now(),
		}
		rl.clients[clientKey] = client
	}

	rl.mu.Unlock()

	client.mu.Lock()
	defer client.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(client.lastUpdate)

	tokensToAdd := int(elapsed.Seconds() / rl.config.Window.Seconds() * float64(rl.config.Requests))
	if tokensToAdd > 0 {
		maxTokens := rl.config.Requests + rl.config.Burst
		client.tokens = min(client.tokens+tokensToAdd, maxTokens)
		client.lastUpdate = now
	}

	if client.tokens <= 0 {
		return false, 0, client.lastUpdate.Add(rl.config.Window)
	}

	client.tokens--
	remaining = client.tokens

	if client.tokens < rl.config.Requests {
		tokensNeeded := rl.config.Requests - client.tokens
		timeNeeded := time.Duration(float64(tokensNeeded) / float64(rl.config.Requests) * float64(rl.config.Window))
		resetTime = now.Add(timeNeeded)
	} else {
		resetTime = now.Add(rl.config.Window)
	}

	return true, remaining, resetTime
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return r.RemoteAddr
}
