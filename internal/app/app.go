// Package app wires the configured collaborators into a running turn
// service. The CLI and the public client both build on it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cadre-oss/memchat/internal/agent"
	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/embedding"
	"github.com/cadre-oss/memchat/internal/event"
	"github.com/cadre-oss/memchat/internal/memory"
	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/provider/anthropic"
	"github.com/cadre-oss/memchat/internal/state"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

const drainTimeout = 5 * time.Second

// App holds the wired process: config, stores, event bus, and the turn
// service on top of them.
type App struct {
	Config  *config.Config
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Bus     *event.Bus
	Memory  *memory.Store
	States  *state.Manager
	Service *agent.Service

	closers []func() error
}

// Options adjusts how New wires the app.
type Options struct {
	Verbose bool
	// Provider replaces the Anthropic client built from the config.
	Provider provider.Provider
	// Logger replaces the logger built from the logging section.
	Logger *telemetry.Logger
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config, verbose bool) (*telemetry.Logger, error) {
	logger := telemetry.NewLoggerWithOptions(cfg.Logging.Level, cfg.Logging.Format, verbose)
	if cfg.Logging.File != "" {
		if err := logger.WithFile(cfg.Logging.File); err != nil {
			return nil, err
		}
	}
	return logger, nil
}

// NewEmbedder builds the configured embedder.
func NewEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	return embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
	})
}

// OpenMemory opens the configured memory backend and embedder. The
// returned func releases the embedder cache.
func OpenMemory(cfg *config.Config, logger *telemetry.Logger, metrics *telemetry.Metrics) (*memory.Store, func(), error) {
	emb, err := NewEmbedder(cfg)
	if err != nil {
		return nil, nil, err
	}
	release := func() {}
	if c, ok := emb.(*embedding.Cached); ok {
		release = c.Close
	}

	backend, err := memory.Open(cfg.Memory.Driver, cfg.Memory.Path)
	if err != nil {
		release()
		return nil, nil, err
	}
	return memory.NewStore(backend, emb, logger, metrics), release, nil
}

// NewProvider builds the Anthropic client wrapped with retries. Each retry
// is logged at warn level.
func NewProvider(cfg *config.Config, logger *telemetry.Logger) provider.Provider {
	timeout, _ := time.ParseDuration(cfg.Provider.Timeout)
	client := anthropic.NewClient(anthropic.Options{
		APIKey:    cfg.Provider.APIKey,
		Model:     cfg.Provider.Model,
		BaseURL:   cfg.Provider.BaseURL,
		Timeout:   timeout,
		MaxTokens: cfg.Provider.MaxTokens,
	})
	retry := provider.DefaultRetryConfig()
	retry.MaxRetries = cfg.Provider.MaxRetries
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("Retrying model call", "attempt", attempt, "delay", delay.String(), "error", err)
	}
	return provider.NewRetryProvider(client, retry)
}

// New wires every collaborator from cfg. Callers must Close it.
func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: opts.Logger, Metrics: telemetry.NewMetrics()}
	if a.Logger == nil {
		logger, err := NewLogger(cfg, opts.Verbose)
		if err != nil {
			return nil, err
		}
		a.Logger = logger
		a.closers = append(a.closers, logger.Close)
	}
	logger := a.Logger

	if cfg.Telemetry.MetricsFile != "" {
		exporter, err := telemetry.NewJSONFileExporter(cfg.Telemetry.MetricsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Metrics.SetExporter(exporter)
		a.closers = append(a.closers, exporter.Close)
	}

	a.Bus = event.NewBus(logger)
	for _, hc := range cfg.Hooks {
		hook, err := event.BuildHook(event.HookSpec{
			Name:     hc.Name,
			Type:     hc.Type,
			Events:   hc.Events,
			Blocking: hc.Blocking,
			URL:      hc.URL,
			Level:    hc.Level,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to build hook: %w", err)
		}
		a.Bus.Register(hook)
	}

	store, release, err := OpenMemory(cfg, logger, a.Metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Memory = store
	a.closers = append(a.closers, store.Close, func() error { release(); return nil })

	idle, _ := time.ParseDuration(cfg.Server.SessionIdle)
	a.States, err = state.NewManager(cfg.State.Driver, cfg.State.Path, idle, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize state: %w", err)
	}
	a.closers = append(a.closers, a.States.Close)

	p := opts.Provider
	if p == nil {
		p = NewProvider(cfg, logger)
	}
	runtime := agent.NewRuntime(p, a.Memory, a.Bus, logger, a.Metrics, agent.OptionsFromConfig(cfg))
	a.Service = agent.NewService(cfg, runtime, a.States, a.Bus, logger, a.Metrics)

	// Closed first: let webhook and log deliveries finish before the stores go.
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.Bus.Drain(ctx); err != nil {
			a.Logger.Warn("Event delivery still pending at shutdown", "error", err)
		}
		return nil
	})
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
