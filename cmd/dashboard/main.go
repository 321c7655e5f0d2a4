package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/fleet-dashboard/internal/config"
	"github.com/p-blackswan/fleet-dashboard/internal/dispatch"
	"github.com/p-blackswan/fleet-dashboard/internal/health"
	"github.com/p-blackswan/fleet-dashboard/internal/hub"
	"github.com/p-blackswan/fleet-dashboard/internal/metrics"
	"github.com/p-blackswan/fleet-dashboard/internal/notify"
	"github.com/p-blackswan/fleet-dashboard/internal/ops"
	"github.com/p-blackswan/fleet-dashboard/internal/project"
	"github.com/p-blackswan/fleet-dashboard/internal/server"
	"github.com/p-blackswan/fleet-dashboard/internal/store"
	"github.com/p-blackswan/fleet-dashboard/internal/subscription"
	"github.com/p-blackswan/fleet-dashboard/internal/tickets"
	"github.com/p-blackswan/fleet-dashboard/internal/watch"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("ops_addr", cfg.OpsListenAddr).
		Bool("tickets_enabled", cfg.TicketsEnabled()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting fleet dashboard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Projects registry for subscription authorization
	registry, err := project.LoadFile(cfg.ProjectsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ProjectsFile).Msg("failed to load projects file")
	}

	m := metrics.New()
	checker := health.NewChecker(logger)

	// Fan-out plumbing: hub, dispatcher, subscription router
	h := hub.New(logger)
	h.OnDeliveryFailure(m.RecordDeliveryFailure)
	dispatcher := dispatch.New(h, m, logger)
	router := subscription.NewRouter(registry)

	var wg sync.WaitGroup

	// Slack notifications (optional)
	if cfg.SlackEnabled() {
		notifier := notify.New(slack.New(cfg.SlackBotToken), cfg.SlackChannel, logger)
		dispatcher.AddHook(notifier)
		wg.Add(1)
		go func() {
			defer wg.Done()
			notifier.Run(ctx)
		}()
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack not configured — skipping notifications")
	}

	// Shoot watch → dispatcher
	source, err := watch.NewK8sShootSource(watch.K8sConfig{KubeconfigPath: cfg.KubeconfigPath}, registry, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init shoot watch")
	}
	runner := watch.NewRunner(source, dispatcher, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("shoot watch stopped")
			cancel()
		}
	}()

	// Ticket source (optional)
	if cfg.TicketsEnabled() {
		ticketStore, err := store.New(cfg.TicketDBPath, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open ticket store")
		}
		defer ticketStore.Close()

		checker.Register("ticket-store", func(ctx context.Context) health.Status {
			if err := ticketStore.DB().PingContext(ctx); err != nil {
				return health.StatusDown
			}
			return health.StatusOK
		})

		ticketSource := tickets.NewSource(tickets.Config{
			Owner:        cfg.GitHubOwner,
			Repo:         cfg.GitHubRepo,
			Token:        cfg.GitHubToken,
			PollInterval: cfg.TicketPollInterval,
		}, ticketStore, dispatcher, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ticketSource.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("ticket source stopped")
			}
		}()
		logger.Info().
			Str("repo", cfg.GitHubOwner+"/"+cfg.GitHubRepo).
			Msg("ticket source enabled")
	} else {
		logger.Info().Msg("tickets not configured — skipping")
	}

	// Websocket + probe endpoints
	wsServer := server.New(server.Config{JWTSecret: []byte(cfg.JWTSecret)}, h, router, m, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/ws", wsServer.Handler())

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Ops API
	opsServer := ops.NewServer(ops.Config{
		ListenAddr:  cfg.OpsListenAddr,
		APIKey:      cfg.OpsAPIKey,
		CORSOrigins: cfg.OpsCORSOrigins,
	}, h, dispatcher, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("ops API server error")
		}
	}()

	// Wait for shutdown signal
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := opsServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("ops API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("fleet dashboard stopped")
}
