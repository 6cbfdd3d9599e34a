package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/database"
	"topup-reconciler/internal/dedup"
	"topup-reconciler/internal/extractor"
	"topup-reconciler/internal/fetcher"
	"topup-reconciler/internal/handlers"
	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/monday"
	"topup-reconciler/internal/pipeline"
	"topup-reconciler/internal/poller"
	"topup-reconciler/internal/server"
	"topup-reconciler/internal/store"
	boardsync "topup-reconciler/internal/sync"
	"topup-reconciler/internal/wallet"
	"topup-reconciler/internal/webhook"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Topup Reconciler Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	db, err := database.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	m := metrics.NewMetrics()
	st := store.New(db)

	var emailFetcher fetcher.EmailFetcher
	if cfg.Gmail.UseIMAP {
		emailFetcher, err = fetcher.NewIMAPFetcher(&cfg.Gmail)
		if err != nil {
			logrus.Fatalf("Failed to create IMAP fetcher: %v", err)
		}
		logrus.Info("Using IMAP for email fetching")
	} else {
		emailFetcher, err = fetcher.NewGmailAPIFetcher(&cfg.Gmail)
		if err != nil {
			logrus.Fatalf("Failed to create Gmail API fetcher: %v", err)
		}
		logrus.Info("Using Gmail API for email fetching")
	}

	ext := extractor.NewGeminiExtractor(cfg.Extractor)
	engine := dedup.New(st)

	boardClient := monday.NewClient(cfg.Monday)
	syncer := boardsync.New(boardClient, st, cfg.Monday)

	ledger := wallet.NewHTTPLedger(cfg.Wallet)
	bridge := wallet.NewBridge(ledger, st)

	pipe := pipeline.New(st, ext, engine, syncer, bridge, m)
	p := poller.New(cfg.Poller, cfg.Gmail.FetchCount, st, emailFetcher, pipe, m)

	h := handlers.NewHandlers(db, st, p, bridge, syncer, m)
	wh := webhook.NewHandler(st, bridge, syncer, m)

	router := server.NewRouter(h, wh)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := p.Start(); err != nil {
		logrus.Fatalf("Failed to start poller: %v", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.Stop(); err != nil {
		logrus.Errorf("Failed to stop poller: %v", err)
	}
	p.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	if err := emailFetcher.Close(); err != nil {
		logrus.Errorf("Failed to close fetcher: %v", err)
	}

	logrus.Info("Server stopped gracefully")
}
