// Package app wires the bot together: configuration, storage, memory, the LLM
// and the transports.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Khin-96/KhinsLLM/internal/khins/agent"
	"github.com/Khin-96/KhinsLLM/internal/khins/config"
	"github.com/Khin-96/KhinsLLM/internal/khins/llm"
	"github.com/Khin-96/KhinsLLM/internal/khins/matrix"
	"github.com/Khin-96/KhinsLLM/internal/khins/memory"
	"github.com/Khin-96/KhinsLLM/internal/khins/server"
	"github.com/Khin-96/KhinsLLM/internal/khins/store"
)

// App is the running bot.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db     *store.Store
	memory *memory.Store
	agent  *agent.Agent
	server *server.Server
	matrix *matrix.Client
}

// New builds every component described by cfg. Nothing listens or syncs
// until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	if cfg.NeedsDatabase() {
		db, err := store.New(cfg.Memory.Database)
		if err != nil {
			return nil, fmt.Errorf("app: open database: %w", err)
		}
		a.db = db
	}

	provider := newProvider(cfg.LLM, cfg.LLMEnabled())
	if !llm.IsAvailable(provider) {
		logger.Warn("no LLM provider configured; chat turns will be rejected")
	}

	var (
		summarizer memory.Summarizer
		sink       memory.Sink
	)
	if cfg.RemoteEnabled() {
		remote := memory.NewRemoteClient(memory.RemoteConfig{
			APIKey:  cfg.Remote.APIKey,
			BaseURL: cfg.Remote.BaseURL,
			Timeout: cfg.Remote.Timeout,
		})
		sink = remote
		if cfg.Memory.Summarizer == config.SummarizerRemote {
			summarizer = remote
		}
	}
	if cfg.Memory.Summarizer == config.SummarizerLLM {
		summarizer = memory.NewLLMSummarizer(provider)
	}

	a.memory = memory.NewStore(ctx, memory.StoreConfig{
		HighWaterMark: cfg.Memory.HighWaterMark,
		KeepRecent:    cfg.Memory.KeepRecent,
		SummaryLines:  cfg.Memory.SummaryLines,
		RemoteTimeout: cfg.Memory.RemoteTimeout,
		SinkQueueSize: cfg.Memory.SinkQueueSize,
	}, a.newPersister(), summarizer, sink, logger)

	a.agent = agent.New(agent.Config{
		User:        cfg.User,
		Persona:     cfg.Persona,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		RateLimit:   cfg.HTTP.RateLimit,
		RateWindow:  cfg.HTTP.RateWindow,
		Timeout:     cfg.LLM.Timeout,
		Secrets:     cfg.Secrets(),
	}, a.memory, provider, logger)

	if cfg.HTTP.Addr != "" {
		a.server = server.New(cfg.HTTP.Addr, a.agent, a.memory, logger)
	}

	if cfg.MatrixEnabled() {
		mcfg := matrix.Config{
			Homeserver:  cfg.Matrix.Homeserver,
			UserID:      cfg.Matrix.UserID,
			AccessToken: cfg.Matrix.AccessToken,
			Rooms:       cfg.Matrix.Rooms,
			Greet:       cfg.Matrix.Greet,
		}
		if a.db != nil {
			mcfg.DB = a.db.DB()
		}
		client, err := matrix.New(mcfg, a.agent, logger)
		if err != nil {
			a.Stop()
			return nil, fmt.Errorf("app: %w", err)
		}
		a.matrix = client
	}

	return a, nil
}

func (a *App) newPersister() memory.Persister {
	switch a.cfg.Memory.Backend {
	case config.BackendFile:
		return memory.NewFilePersister(a.cfg.Memory.File)
	case config.BackendSQLite:
		return memory.NewSQLitePersister(a.db.DB(), a.logger)
	default:
		return memory.NoopPersister{}
	}
}

// newProvider returns the configured LLM adapter, or llm.Unavailable when
// none is enabled.
func newProvider(cfg config.LLMConfig, enabled bool) llm.Provider {
	if !enabled {
		return llm.Unavailable{}
	}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	case config.ProviderXAI, config.ProviderOpenAI:
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})
	default:
		return llm.Unavailable{}
	}
}

// Agent returns the conversation handler.
func (a *App) Agent() *agent.Agent { return a.agent }

// Run starts the transports and blocks until ctx is done or the process
// receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if a.matrix != nil {
		a.logger.Info("starting Matrix sync")
		if err := a.matrix.Start(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	a.logger.Info("KhinsGPT is running; press Ctrl+C to stop",
		"user", a.cfg.User,
		"memory_backend", a.cfg.Memory.Backend,
		"llm", a.cfg.LLM.Provider,
		"summarizer", a.cfg.Memory.Summarizer,
	)

	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// Stop shuts the transports down, drains pending memory deliveries and
// closes the database. Safe to call once after New, whether or not Run ran.
func (a *App) Stop() {
	if a.matrix != nil {
		a.logger.Info("stopping Matrix client")
		a.matrix.Stop()
	}
	if a.server != nil {
		a.logger.Info("stopping http server")
		a.server.Stop()
	}
	if a.memory != nil {
		a.memory.Close()
	}
	if a.db != nil {
		a.logger.Info("closing database")
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "err", err)
		}
	}
}
