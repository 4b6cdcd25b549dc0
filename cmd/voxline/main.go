// Command voxline is the main entry point for the Voxline call server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/sync/errgroup"

	"github.com/voxline/voxline/internal/config"
	"github.com/voxline/voxline/internal/dialog"
	"github.com/voxline/voxline/internal/docstore"
	"github.com/voxline/voxline/internal/health"
	"github.com/voxline/voxline/internal/observe"
	"github.com/voxline/voxline/internal/order"
	"github.com/voxline/voxline/internal/resilience"
	"github.com/voxline/voxline/internal/server"
	"github.com/voxline/voxline/internal/session"
	"github.com/voxline/voxline/pkg/provider/llm"
	"github.com/voxline/voxline/pkg/provider/llm/anyllm"
	oaillm "github.com/voxline/voxline/pkg/provider/llm/openai"
	"github.com/voxline/voxline/pkg/provider/stt"
	"github.com/voxline/voxline/pkg/provider/stt/deepgram"
	"github.com/voxline/voxline/pkg/provider/tts"
	"github.com/voxline/voxline/pkg/provider/tts/azure"
	"github.com/voxline/voxline/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, err := buildLLM(reg, cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	ttsProvider, err := buildTTS(reg, cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}
	// The primary STT provider is kept unwrapped for key minting: the
	// failover wrapper forwards transcription only.
	var sttProvider, sttPrimary stt.Provider
	if cfg.Providers.STT.Name != "" {
		if sttPrimary, err = reg.CreateSTT(cfg.Providers.STT); err != nil {
			slog.Error("failed to build stt provider", "err", err)
			return 1
		}
		if sttProvider, err = wrapSTT(reg, sttPrimary, cfg.Providers.STT); err != nil {
			slog.Error("failed to build stt fallbacks", "err", err)
			return 1
		}
	}

	// ── Persistence ───────────────────────────────────────────────────────────
	store, pool, err := buildDocstore(ctx, cfg.Persistence)
	if err != nil {
		slog.Error("failed to initialise docstore", "err", err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	collection := cfg.Persistence.Collection
	if collection == "" {
		collection = "orders"
	}
	extractor, err := order.New(store, collection)
	if err != nil {
		slog.Error("failed to initialise order extractor", "err", err)
		return 1
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	sessions := session.NewStore(
		session.WithMaxSessions(cfg.Sessions.MaxSessions),
		session.WithIdleTTL(cfg.Sessions.IdleTTL.Std()),
	)
	orchestrator, err := dialog.New(llmProvider, sessions)
	if err != nil {
		slog.Error("failed to initialise orchestrator", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	opts := []server.Option{
		server.WithHealth(health.New(health.DocstoreChecker(store))),
	}
	if sttProvider != nil {
		opts = append(opts, server.WithSTT(sttProvider))
	}
	if cfg.Token.ProjectID != "" {
		minter, ok := sttPrimary.(server.KeyMinter)
		if !ok {
			slog.Error("token.project_id is set but the stt provider cannot mint keys")
			return 1
		}
		opts = append(opts, server.WithKeyMinter(minter, cfg.Token.ProjectID, cfg.Token.TTL.Std()))
	}

	srv, err := server.New(orchestrator, ttsProvider, extractor, opts...)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)
		var err error
		if cfg.Server.TLS != nil {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildDocstore creates the configured document store. Without a DSN the
// in-memory store is used and orders do not survive a restart.
func buildDocstore(ctx context.Context, cfg config.PersistenceConfig) (docstore.Store, *pgxpool.Pool, error) {
	if cfg.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured; using in-memory order store")
		return docstore.NewMemoryStore(), nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := docstore.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// fallbackConfig is the circuit breaker tuning shared by all provider
// failover groups: trip after 3 consecutive failures, probe again after 30s.
var fallbackConfig = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
	},
}

// buildLLM creates the configured LLM provider, wrapped in a failover group
// when fallback entries are present.
func buildLLM(reg *config.Registry, entry config.ProviderEntry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, entry.Name, fallbackConfig)
	for _, fbEntry := range entry.Fallbacks {
		p, err := reg.CreateLLM(fbEntry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fbEntry.Name, err)
		}
		fb.AddFallback(fbEntry.Name, p)
	}
	return fb, nil
}

// buildTTS creates the configured TTS provider, wrapped in a failover group
// when fallback entries are present.
func buildTTS(reg *config.Registry, entry config.ProviderEntry) (tts.Provider, error) {
	primary, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewTTSFallback(primary, entry.Name, fallbackConfig)
	for _, fbEntry := range entry.Fallbacks {
		p, err := reg.CreateTTS(fbEntry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fbEntry.Name, err)
		}
		fb.AddFallback(fbEntry.Name, p)
	}
	return fb, nil
}

// wrapSTT wraps an already-built primary STT provider in a failover group
// when fallback entries are present.
func wrapSTT(reg *config.Registry, primary stt.Provider, entry config.ProviderEntry) (stt.Provider, error) {
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewSTTFallback(primary, entry.Name, fallbackConfig)
	for _, fbEntry := range entry.Fallbacks {
		p, err := reg.CreateSTT(fbEntry)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fbEntry.Name, err)
		}
		fb.AddFallback(fbEntry.Name, p)
	}
	return fb, nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// The native openai provider speaks the OpenAI API directly; the rest go
	// through any-llm-go with an optional APIKey + BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, oaillm.WithMaxRetries(2))
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("azure", func(entry config.ProviderEntry) (tts.Provider, error) {
		region := entry.StringOption("region")
		var opts []azure.Option
		if voice := entry.StringOption("voice"); voice != "" {
			opts = append(opts, azure.WithVoice(voice))
		}
		if format := entry.StringOption("output_format"); format != "" {
			opts = append(opts, azure.WithOutputFormat(format))
		}
		return azure.New(entry.APIKey, region, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voice := entry.StringOption("voice"); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

// newLogger builds an slog text logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
