package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lmoretti/frontdesk/internal/agent"
	"github.com/lmoretti/frontdesk/internal/appointments"
	"github.com/lmoretti/frontdesk/internal/config"
	"github.com/lmoretti/frontdesk/internal/events"
	"github.com/lmoretti/frontdesk/internal/httpapi"
	"github.com/lmoretti/frontdesk/internal/media"
	"github.com/lmoretti/frontdesk/internal/observability"
	"github.com/lmoretti/frontdesk/internal/session"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := appointments.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("appointment store init failed: %v", err)
	}
	defer store.Close()
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("appointment store: postgres")
	} else {
		log.Printf("appointment store: in-memory (DATABASE_URL not set)")
	}

	hub := events.NewHub(cfg.EventBufferSize)

	sessions := session.NewManager(cfg.CallInactivityTimeout)

	provider := media.NewMockProvider()
	log.Printf("media runtime: mock")
	if cfg.SummarizerURL != "" {
		provider.Summarizer = media.NewHTTPSummarizer(cfg.SummarizerURL, cfg.SummaryTimeout)
		log.Printf("summarizer: http (%s)", cfg.SummarizerURL)
	} else {
		log.Printf("summarizer: disabled (APP_SUMMARIZER_URL not set), using raw transcripts")
	}

	agentSvc := agent.New(agent.Config{
		GoodbyeWait:         cfg.GoodbyeWait,
		GoodbyeStartDelay:   cfg.GoodbyeStartDelay,
		SessionDrainTimeout: cfg.SessionDrainTimeout,
		SummaryTimeout:      cfg.SummaryTimeout,
		StoreOpTimeout:      cfg.StoreOpTimeout,
	}, sessions, store, hub, provider, metrics)
	sessions.SetExpireHook(agentSvc.HangupExpired)

	api := httpapi.New(cfg, sessions, agentSvc, hub, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
