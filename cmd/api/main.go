// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/repochat-ai/assistant-platform/internal/config"
	"github.com/repochat-ai/assistant-platform/internal/github"
	"github.com/repochat-ai/assistant-platform/internal/handler"
	"github.com/repochat-ai/assistant-platform/internal/llm"
	"github.com/repochat-ai/assistant-platform/internal/middleware"
	natsclient "github.com/repochat-ai/assistant-platform/internal/nats"
	"github.com/repochat-ai/assistant-platform/internal/reference"
	"github.com/repochat-ai/assistant-platform/internal/service"
	"github.com/repochat-ai/assistant-platform/internal/storage"
	"github.com/repochat-ai/assistant-platform/pkg/logger"
	"github.com/repochat-ai/assistant-platform/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "assistant-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Snapshot store: NATS JetStream KV when configured, in-memory
	// otherwise. Memory mode loses conversations on restart.
	var kv storage.KV
	var natsClient *natsclient.Client
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()

		kvStore, err := natsclient.NewKVStore(ctx, natsClient, cfg.SnapshotBucket, cfg.ConversationTTL)
		if err != nil {
			log.Error("failed to open snapshot bucket", "error", err)
			os.Exit(1)
		}
		kv = kvStore
	} else {
		log.Warn("NATS not configured, conversations are held in memory only")
		kv = storage.NewMemoryKV()
	}

	var codec storage.Codec = storage.JSONCodec{}
	if cfg.SnapshotCompression {
		codec = storage.NewGzipCodec(nil)
	}

	ghClient := github.NewClient(github.Config{
		RawBaseURL: cfg.GitHubRawBaseURL,
		APIBaseURL: cfg.GitHubAPIBaseURL,
		Token:      cfg.GitHubToken,
		Timeout:    cfg.FileFetchTimeout,
	})
	pageState := reference.NewPageState()
	fileCache := reference.NewCache(cfg.FileCacheSize)
	resolver := reference.NewResolver(ghClient, pageState, fileCache, log)

	registry := llm.NewRegistry()
	configureDefaultProvider(cfg, registry, log)

	conversationSvc := service.NewConversationService(kv, codec, service.ConversationConfig{
		CodeContextLimit: cfg.CodeContextLimit,
		Retention:        cfg.ConversationTTL,
	}, log)
	if err := conversationSvc.LoadAll(ctx); err != nil {
		log.Warn("failed to restore conversations", "error", err)
	}

	compressor := service.NewCompressor(registry, service.CompressorConfig{
		MaxContextTokens: cfg.MaxContextTokens,
		TriggerPercent:   cfg.SummaryTriggerPercent,
		KeepRecent:       cfg.KeepRecentMessages,
		SummaryMaxTokens: cfg.SummaryMaxTokens,
		SummaryTimeout:   cfg.SummaryTimeout,
	}, log)

	exchangeSvc := service.NewExchangeService(conversationSvc, compressor, resolver, registry, service.ExchangeConfig{
		Timeout:            cfg.ExchangeTimeout,
		MaxInlineFileChars: cfg.MaxInlineFileChars,
		MaxSnippetsPerFile: cfg.MaxSnippetsPerFile,
	}, log)

	// periodic retention sweep
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupDone:
				return
			case <-ticker.C:
				conversationSvc.CleanupExpired(ctx)
			}
		}
	}()

	healthHandler := handler.NewHealthHandler(natsClient)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(conversationSvc, log)
	streamHandler := handler.NewStreamHandler(exchangeSvc, conversationSvc, log)
	providerHandler := handler.NewProviderHandler(registry, log)
	contextHandler := handler.NewContextHandler(pageState, conversationSvc, ghClient, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", conversationHandler.Create)
			r.Get("/", conversationHandler.List)
			r.Get("/current", conversationHandler.Current)
			r.Put("/current", conversationHandler.SwitchCurrent)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)

				r.Get("/messages", messageHandler.List)

				r.Post("/stream", streamHandler.Stream)
				r.Post("/cancel", streamHandler.Cancel)
			})
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providerHandler.List)
			r.Put("/", providerHandler.Configure)
		})

		r.Route("/context", func(r chi.Router) {
			r.Put("/page", contextHandler.UpdatePage)
			r.Post("/repository", contextHandler.RepositoryChanged)
			r.Get("/tree", contextHandler.Tree)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	close(cleanupDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

// configureDefaultProvider selects the startup provider from the
// environment. Failure is not fatal; providers can be configured at
// runtime through PUT /providers.
func configureDefaultProvider(cfg *config.Config, registry *llm.Registry, log *logger.Logger) {
	opts := llm.Options{Model: cfg.DefaultModel}

	switch llm.Provider(cfg.DefaultProvider) {
	case llm.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			log.Warn("ANTHROPIC_API_KEY not set, no provider configured at startup")
			return
		}
		opts.APIKey = cfg.AnthropicAPIKey
	case llm.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			log.Warn("OPENAI_API_KEY not set, no provider configured at startup")
			return
		}
		opts.APIKey = cfg.OpenAIAPIKey
	case llm.ProviderCompat:
		if cfg.CompatBaseURL == "" {
			log.Warn("COMPAT_BASE_URL not set, no provider configured at startup")
			return
		}
		opts.APIKey = cfg.CompatAPIKey
		opts.BaseURL = cfg.CompatBaseURL
	default:
		log.Warn("unknown default provider", "provider", cfg.DefaultProvider)
		return
	}

	if err := registry.Configure(llm.Provider(cfg.DefaultProvider), opts); err != nil {
		log.Warn("failed to configure default provider", "provider", cfg.DefaultProvider, "error", err)
		return
	}
	log.Info("default provider configured", "provider", cfg.DefaultProvider, "model", cfg.DefaultModel)
}
