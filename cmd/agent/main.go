// Command agent runs the sender-side tracker: a local persisted session
// store, the loopback message endpoint the mail client talks to, and the
// periodic sync with the aggregator.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/enrichment"
	"github.com/ignite/engagement-tracker/internal/message"
	"github.com/ignite/engagement-tracker/internal/notify"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/repository"
	"github.com/ignite/engagement-tracker/internal/service/session"
	"github.com/ignite/engagement-tracker/internal/syncer"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGENT_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("log level: %v", err)
	}
	logger.SetLevel(level)

	// the agent's own state always survives restarts
	if cfg.Store.Type == config.StoreMemory {
		cfg.Store.Type = config.StoreSQLite
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer store.Close()

	// desktop-style notification only; remote delivery is the aggregator's job
	r, err := notify.NewRenderer(cfg.Notify.Title, cfg.Notify.Template)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}
	toggle := notify.NewToggle(notify.NewLogNotifier(r), cfg.Tracking.Enabled)

	var locator enrichment.Locator
	if cfg.Enrichment.GeoLookupURL != "" {
		locator = enrichment.NewHTTPLocator(nil, cfg.Enrichment.GeoLookupURL)
	}

	svc := session.NewService(store.Store,
		session.WithEnricher(enrichment.New(locator, cfg.Enrichment.CacheTTL())),
		session.WithNotifier(toggle),
	)

	var (
		engine  *syncer.Engine
		trigger *syncer.QueueTrigger
		sync    message.Syncer
	)
	baseURL := cfg.Server.BaseURL
	if cfg.Sync.RemoteURL != "" {
		baseURL = cfg.Sync.RemoteURL
		engine = syncer.NewEngine(svc, syncer.NewHTTPClient(cfg.Sync.RemoteURL, nil), syncer.Options{
			Interval: cfg.Sync.Interval(),
			Timeout:  cfg.Sync.Timeout(),
		})
		engine.Start(ctx)
		sync = engine

		if cfg.Sync.TriggerQueueURL != "" {
			awsCfg, err := cfg.AWS.Load(ctx)
			if err != nil {
				log.Fatalf("aws config: %v", err)
			}
			trigger = syncer.NewQueueTrigger(sqs.NewFromConfig(awsCfg), cfg.Sync.TriggerQueueURL, engine)
			trigger.Start(ctx)
		}
	} else {
		log.Println("sync.remote_url not set: running without an aggregator")
	}

	handler := message.NewHandler(message.NewDispatcher(svc, baseURL, sync, toggle))
	srv := &http.Server{
		// loopback only; the mail client runs on this machine
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("agent listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if trigger != nil {
		trigger.Stop()
	}
	if engine != nil {
		engine.Stop()
	}
	cancel()
	svc.Flush()
}
