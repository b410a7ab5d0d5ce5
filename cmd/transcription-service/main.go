// Command transcription-service runs the HTTP API, job store, dispatcher,
// and recovery pass that together make up the transcription job service.
package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"

	"github.com/book-expert/transcription-service/internal/api"
	"github.com/book-expert/transcription-service/internal/asr"
	"github.com/book-expert/transcription-service/internal/config"
	"github.com/book-expert/transcription-service/internal/dispatcher"
	"github.com/book-expert/transcription-service/internal/processor"
	"github.com/book-expert/transcription-service/internal/recovery"
	"github.com/book-expert/transcription-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	repo, err := store.NewBadgerRepository(store.DefaultBadgerConfig(cfg.StorePath))
	if err != nil {
		panic(err)
	}
	defer repo.Close()

	gateway := newGateway(cfg)

	proc := processor.New(repo, gateway, cfg.MaxRetries, cfg.RetryBackoffMs, logger)

	disp, err := newDispatcher(cfg, proc, logger)
	if err != nil {
		panic(err)
	}

	if stoppable, ok := disp.(interface{ Stop() }); ok {
		defer stoppable.Stop()
	}

	recoveryCtx, recoveryCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := recovery.Run(recoveryCtx, repo, disp, logger); err != nil {
		logger.Error("recovery pass failed", slog.Any("err", err))
	}
	recoveryCancel()

	srv := api.NewServer(cfg.Addr, repo, disp, proc, logger)

	// Configure high-performance HTTP server
	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Router(),

		// Aggressive timeouts for fast responses
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,

		// High connection limits
		MaxHeaderBytes: 1 << 20, // 1MB

		// Optimized connection settings
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			// Enable TCP keepalive
			if tc, ok := c.(*net.TCPConn); ok {
				tc.SetKeepAlive(true)
				tc.SetKeepAlivePeriod(30 * time.Second)
			}
			return ctx
		},
	}

	// Enable HTTP/2 with optimized settings
	http2Server := &http2.Server{
		MaxConcurrentStreams: 1000,
		MaxReadFrameSize:     1 << 20, // 1MB
		IdleTimeout:          120 * time.Second,
	}
	_ = http2.ConfigureServer(server, http2Server)

	logger.Info("starting transcription-service",
		slog.String("addr", cfg.Addr),
		slog.String("store_path", cfg.StorePath),
		slog.String("dispatcher", string(cfg.DispatcherKind)),
		slog.String("asr", string(cfg.ASRKind)),
		slog.Bool("http2", true))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("err", err))
			os.Exit(1)
		}
		logger.Info("server stopped")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func newGateway(cfg config.Config) asr.Gateway {
	switch cfg.ASRKind {
	case config.ASRHTTP:
		return asr.NewHTTPGateway(asr.HTTPConfig{
			BaseURL:        cfg.ASRBaseURL,
			Timeout:        cfg.ASRTimeout,
			MaxConcurrency: cfg.ASRMaxConcurrency,
		})
	default:
		return asr.NewSimulatedGateway(asr.SimulatedConfig{
			MaxConcurrency:       cfg.ASRMaxConcurrency,
			TransientFailureRate: cfg.ASRTransientFailRate,
			MinLatency:           cfg.ASRMinLatency,
			MaxLatency:           cfg.ASRMaxLatency,
		})
	}
}

func newDispatcher(cfg config.Config, proc *processor.Processor, logger *slog.Logger) (dispatcher.Dispatcher, error) {
	switch cfg.DispatcherKind {
	case config.DispatcherWebhook:
		webhookCfg := dispatcher.WebhookConfig{
			ProjectID:           cfg.TasksProjectID,
			LocationID:          cfg.TasksLocationID,
			QueueID:             cfg.TasksQueueID,
			HandlerURL:          cfg.TasksHandlerURL,
			ServiceAccountEmail: cfg.TasksServiceAccountEmail,
			Audience:            cfg.TasksAudience,
		}

		if err := webhookCfg.Validate(); err != nil {
			return nil, err
		}

		return dispatcher.NewWebhook(webhookCfg, nil), nil
	default:
		return dispatcher.NewInProcess(dispatcher.InProcessConfig{
			Workers:   cfg.DispatcherWorkers,
			QueueSize: cfg.DispatcherQueue,
		}, proc.ProcessJob, logger), nil
	}
}
