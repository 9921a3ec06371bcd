// Command tracking runs the aggregator: the public pixel, link and sync
// endpoints backed by a shared session store.
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

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/engagement-tracker/internal/archive"
	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/enrichment"
	"github.com/ignite/engagement-tracker/internal/notify"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	"github.com/ignite/engagement-tracker/internal/repository"
	"github.com/ignite/engagement-tracker/internal/service/session"
	"github.com/ignite/engagement-tracker/internal/tracking"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACKING_CONFIG"), "path to the YAML config file")
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer store.Close()
	log.Printf("session store: %s", cfg.Store.Type)

	notifier, err := notify.FromConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("notifier: %v", err)
	}

	var locator enrichment.Locator
	if cfg.Enrichment.GeoLookupURL != "" {
		locator = enrichment.NewHTTPLocator(nil, cfg.Enrichment.GeoLookupURL)
	}

	svc := session.NewService(store.Store,
		session.WithEnricher(enrichment.New(locator, cfg.Enrichment.CacheTTL())),
		session.WithNotifier(notify.NewToggle(notifier, cfg.Tracking.Enabled)),
	)

	limiter := tracking.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window())
	go limiter.Run(ctx)
	opts := []tracking.Option{tracking.WithRateLimiter(limiter)}

	if cfg.Archive.S3Bucket != "" {
		awsCfg, err := cfg.AWS.Load(ctx)
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		opts = append(opts, tracking.WithArchiver(archive.NewS3Archiver(s3.NewFromConfig(awsCfg), cfg.Archive.S3Bucket, cfg.Archive.S3Prefix)))
		log.Printf("clear archives to s3://%s/%s", cfg.Archive.S3Bucket, cfg.Archive.S3Prefix)
	}

	handler, err := tracking.NewHandler(svc, opts...)
	if err != nil {
		log.Fatalf("tracking handler: %v", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s (base url %s)", srv.Addr, cfg.Server.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	cancel()
	svc.Flush()
}
