// Package webhookservice wires the full webhook service: store, search index,
// embeddings, completion providers, CRM channel client, HTTP API and the
// archive sweeper.
package webhookservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/omnireply/omnireply/internal/api"
	"github.com/omnireply/omnireply/internal/api/recovery"
	"github.com/omnireply/omnireply/internal/archiver"
	"github.com/omnireply/omnireply/internal/classify"
	"github.com/omnireply/omnireply/internal/config"
	"github.com/omnireply/omnireply/internal/contextwin"
	emb "github.com/omnireply/omnireply/internal/embeddings"
	"github.com/omnireply/omnireply/internal/factory"
	"github.com/omnireply/omnireply/internal/health"
	"github.com/omnireply/omnireply/internal/logger"
	"github.com/omnireply/omnireply/internal/orchestrator"
	"github.com/omnireply/omnireply/internal/searchindex"
	"github.com/omnireply/omnireply/internal/store"
)

// Run starts the webhook service HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("omnireply")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("search_index_url", cfg.SearchIndexURL).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Msg("Webhook service starting")

	// Cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	st, idx, embProvider, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	router := buildRouter(st, idx, embProvider, cfg, log)

	svcHealth := startHealthCheckers(ctx, cfg, log, st, idx, embProvider)
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	sweeper := archiver.New(st, cfg.ArchiveIdleDays, cfg.ArchiveCronSpec, log)
	if err := sweeper.Start(); err != nil {
		log.Error().Stack().Err(err).Msg("archiver failed to start")
		return err
	}
	defer sweeper.Stop()

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// initDependencies constructs required components and enforces fail-fast on
// anything message storage cannot run without. The search index and embedder
// are optional; without them semantic search degrades to recent-only context.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, searchindex.Index, emb.Provider, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, nil, nil, err
	}

	idx, err := factory.NewSearchIndex(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Search index adapter unavailable")
		return nil, nil, nil, err
	}

	var embProvider emb.Provider
	if idx != nil {
		embProvider = factory.NewEmbeddingProvider(ctx, cfg, log)
	}
	return st, idx, embProvider, nil
}

// buildRouter wires HTTP routes to handlers.
func buildRouter(st store.Store, idx searchindex.Index, embProvider emb.Provider, cfg *config.Config, log zerolog.Logger) *mux.Router {
	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	classifier := classify.New(st, embProvider, idx, log)
	assembler := contextwin.New(st, embProvider, idx, log)
	orch := orchestrator.New(
		st,
		assembler,
		factory.NewCompletionProviders(cfg, log),
		factory.NewChannelProvider(cfg, log),
		embProvider,
		idx,
		time.Duration(cfg.AICompletionTimeoutSeconds)*time.Second,
		log,
	)

	// Webhooks
	webhooks := api.NewWebhookHandler(classifier, orch, log)
	root.HandleFunc("/api/accounts/{accountId}/webhooks/inbound", webhooks.HandleInbound).Methods("POST")
	root.HandleFunc("/api/accounts/{accountId}/webhooks/outbound", webhooks.HandleOutbound).Methods("POST")

	// Accounts
	accounts := api.NewAccountHandler(st, log)
	root.HandleFunc("/api/accounts", accounts.CreateAccount).Methods("POST")
	root.HandleFunc("/api/accounts/{accountId}", accounts.GetAccount).Methods("GET")

	// Conversations
	convs := api.NewConversationHandler(st, idx, log)
	root.HandleFunc("/api/accounts/{accountId}/conversations", convs.ListConversations).Methods("GET")
	root.HandleFunc("/api/accounts/{accountId}/conversations/{conversationId}", convs.GetConversation).Methods("GET")
	root.HandleFunc("/api/accounts/{accountId}/conversations/{conversationId}", convs.DeleteConversation).Methods("DELETE")
	root.HandleFunc("/api/accounts/{accountId}/conversations/{conversationId}/messages", convs.ListMessages).Methods("GET")
	root.HandleFunc("/api/accounts/{accountId}/conversations/{conversationId}/archive", convs.ArchiveConversation).Methods("POST")

	// Settings
	settings := api.NewSettingsHandler(st, log)
	root.HandleFunc("/api/accounts/{accountId}/settings", settings.GetSettings).Methods("GET")
	root.HandleFunc("/api/accounts/{accountId}/settings", settings.PutSettings).Methods("PUT")

	// Health
	healthHandler := api.NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	return root
}

// startHealthCheckers starts component checkers and service-level aggregator; binds health.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, idx searchindex.Index, embProvider emb.Provider) *health.ServiceHealthChecker {
	var checkers []health.HealthChecker
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewStoreHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	if idx != nil {
		idxChecker := searchindex.NewSearchIndexHealthChecker(idx, log, probeTimeout)
		go idxChecker.Start(ctx, interval)
		checkers = append(checkers, idxChecker)
	}
	if embProvider != nil {
		embChecker := emb.NewProviderHealthChecker(embProvider, log, probeTimeout)
		go embChecker.Start(ctx, interval)
		checkers = append(checkers, embChecker)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	api.BindServiceHealth(svcHealth.IsHealthy)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
