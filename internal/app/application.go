package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"protocolmaker/internal/audio"
	"protocolmaker/internal/config"
	"protocolmaker/internal/diarization"
	"protocolmaker/internal/llm"
	"protocolmaker/internal/logger"
	"protocolmaker/internal/metrics"
	"protocolmaker/internal/pipeline"
	"protocolmaker/internal/server"
	"protocolmaker/internal/storage"
	"protocolmaker/internal/transcriber"
	"protocolmaker/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// Application represents the protocol maker service orchestrator
type Application struct {
	config     *config.Configuration
	zapLogger  *zap.Logger
	fs         afero.Fs
	collectors *metrics.Collectors
	health     *metrics.Health
	pool       *worker.Pool
	registry   *worker.Registry
	httpServer *http.Server

	mu        sync.Mutex
	listener  net.Listener
	heartbeat sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
func NewApplication() (*Application, error) {
	// Load configuration from config file if CONFIG_PATH is set, otherwise use environment variables
	var cfg *config.Configuration
	var err error

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		cfg, err = config.NewConfigurationFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.NewConfigurationFromEnv()
		if err != nil {
			return nil, fmt.Errorf("failed to load config from environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	zapLogger, err := logger.NewLoggerWithLevel(cfg.GetLogLevel(), cfg.GetLogFormat())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return NewApplicationWithConfig(cfg, zapLogger, afero.NewOsFs())
}

// NewApplicationWithConfig wires every component from an explicit configuration and filesystem
func NewApplicationWithConfig(cfg *config.Configuration, zapLogger *zap.Logger, fsys afero.Fs) (*Application, error) {
	types, err := storage.LoadProtocolTypes(fsys, cfg.GetProtocolTypesFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load protocol types: %w", err)
	}

	store := storage.NewProtocolStore(fsys, cfg.GetProtocolsFile(), zapLogger)
	artifacts := storage.NewArtifactWriter(fsys, cfg.GetUploadsDir(), zapLogger)
	collectors := metrics.NewCollectors()
	health := metrics.NewHealth()

	resolver := audio.NewDefaultResolver(zapLogger, fsys, cfg.GetFFprobePath(), cfg.GetFFmpegPath(), cfg.GetProbeTimeout())
	assembly := transcriber.NewAssemblyAI(
		fsys,
		cfg.GetAssemblyAIKey(),
		cfg.GetAssemblyAIBaseURL(),
		cfg.GetAssemblyAIPollInterval(),
		cfg.GetAssemblyAITimeout(),
		zapLogger)
	if cfg.GetAssemblyAIKey() == "" {
		zapLogger.Warn("ASSEMBLYAI_API_KEY not set, transcription jobs will fail")
	}

	var opts []pipeline.Option
	var diarizer server.Diarizer
	if url := cfg.GetDiarizationURL(); url != "" {
		client := diarization.NewClient(url, cfg.GetDiarizationTimeout(), fsys, zapLogger)
		diarizer = client
		opts = append(opts, pipeline.WithDiarizer(client))
		zapLogger.Info("external diarization enabled", zap.String("url", url))
	}
	if cfg.GetOpenAIKey() != "" {
		assistant, err := llm.NewAssistantClient(llm.Options{
			APIKey:       cfg.GetOpenAIKey(),
			BaseURL:      cfg.GetOpenAIBaseURL(),
			ProxyURL:     cfg.GetOpenAIProxyURL(),
			PollInterval: cfg.GetOpenAIPollInterval(),
			Timeout:      cfg.GetOpenAITimeout(),
		}, zapLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		opts = append(opts, pipeline.WithGenerator(assistant))
	} else {
		zapLogger.Warn("OPENAI_API_KEY not set, protocol generation disabled")
	}

	processor := pipeline.NewProcessor(resolver, assembly, artifacts, store, collectors, zapLogger, opts...)

	registry := worker.NewRegistry()
	pool := worker.NewPool(cfg.GetWorkerCount(), cfg.GetWorkerQueueSize(), registry, zapLogger)
	pool.OnQueueDepth(func(depth int) {
		collectors.QueueDepth.Set(float64(depth))
		health.SetQueueDepth(depth)
	})

	srv := server.New(server.Deps{
		Processor:      processor,
		Protocols:      store,
		Types:          types,
		Uploads:        artifacts,
		Jobs:           pool,
		Diarizer:       diarizer,
		Statuses:       registry,
		Metrics:        collectors,
		Health:         health,
		MaxUploadBytes: cfg.GetMaxUploadBytes(),
		LLMTimeout:     cfg.GetOpenAITimeout(),
	}, zapLogger)

	return &Application{
		config:     cfg,
		zapLogger:  zapLogger,
		fs:         fsys,
		collectors: collectors,
		health:     health,
		pool:       pool,
		registry:   registry,
		httpServer: &http.Server{
			Addr:              cfg.GetServerAddr(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: cfg.GetServerReadTimeout(),
		},
	}, nil
}

// Run starts the worker pool, the HTTP server and the heartbeat, and blocks until ctx is done
func (app *Application) Run(ctx context.Context) error {
	app.zapLogger.Info("starting protocol maker application")

	// Check if context is already cancelled
	select {
	case <-ctx.Done():
		app.zapLogger.Info("context cancelled before startup, shutting down immediately")
		return nil
	default:
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.pool.Start()

	serveErr := make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	app.health.SetServerActive(true)
	if err := app.writeHealthStatusFile(); err != nil {
		app.zapLogger.Error("failed to write health status file", zap.Error(err))
	}
	app.heartbeat.Add(1)
	go func() {
		defer app.heartbeat.Done()
		app.startHeartbeat(ctx)
	}()

	app.mu.Lock()
	app.listener = ln
	app.mu.Unlock()
	app.zapLogger.Info("http server listening", zap.String("addr", ln.Addr().String()))

	select {
	case <-ctx.Done():
		app.zapLogger.Info("shutdown signal received, stopping application")
		app.heartbeat.Wait()
		return nil
	case err := <-serveErr:
		app.health.SetServerActive(false)
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}
}

// Addr returns the address the server is listening on, or "" before Run
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return ""
	}
	return app.listener.Addr().String()
}

// writeHealthStatusFile writes the current health status to a file for container health checks
func (app *Application) writeHealthStatusFile() error {
	return app.health.WriteFile(app.fs, app.config.GetHealthFile())
}

// startHeartbeat periodically refreshes the health file and logs degraded states
func (app *Application) startHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(app.config.GetHealthInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.refreshJobStates()
			if err := app.writeHealthStatusFile(); err != nil {
				app.zapLogger.Error("failed to write health status file", zap.Error(err))
			}

			status := app.health.Snapshot()
			app.zapLogger.Debug("heartbeat", zap.Any("health_status", status))

			if status.ConsecutiveFailures >= metrics.MaxConsecutiveFailures {
				app.zapLogger.Warn("transcription jobs keep failing",
					zap.Int("consecutive_failures", status.ConsecutiveFailures),
					zap.String("last_job_time", status.LastJobTime))
			}
			if status.QueueDepth >= app.config.GetWorkerQueueSize() {
				app.zapLogger.Warn("job queue is full", zap.Int("queue_depth", status.QueueDepth))
			}
		}
	}
}

// refreshJobStates evicts expired job statuses and publishes the per-state counts
func (app *Application) refreshJobStates() {
	if removed := app.registry.Sweep(app.config.GetJobTTL()); removed > 0 {
		app.zapLogger.Debug("evicted finished jobs", zap.Int("count", removed))
	}

	states := make(map[string]int)
	for state, n := range app.registry.Counts() {
		states[string(state)] = n
	}
	app.health.SetJobStates(states)
}

// Shutdown gracefully stops the HTTP server and drains the worker pool
func (app *Application) Shutdown() error {
	app.zapLogger.Info("shutting down application components")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.zapLogger.Error("error shutting down http server", zap.Error(err))
		errs = append(errs, err)
	}
	app.health.SetServerActive(false)

	if err := app.pool.Stop(ctx); err != nil {
		app.zapLogger.Error("error stopping worker pool", zap.Error(err))
		errs = append(errs, err)
	}

	if err := app.writeHealthStatusFile(); err != nil {
		app.zapLogger.Error("failed to write final health status", zap.Error(err))
	}

	app.zapLogger.Info("application shutdown completed")
	return errors.Join(errs...)
}
