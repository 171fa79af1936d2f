package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/http/handlers"
	httpapi "phrasebridge/internal/http/httpapi"
	"phrasebridge/internal/infra"
	"phrasebridge/internal/journal"
	"phrasebridge/internal/orchestrator"
	"phrasebridge/internal/phrase"
	"phrasebridge/internal/reconcile"
	"phrasebridge/internal/staleness"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	events := journal.New(runner)
	if err := events.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare journal schema")
	}

	store, err := contentstore.NewHTTPStore(contentstore.HTTPStoreOptions{
		BaseURL: cfg.ContentStoreURL,
		Dataset: cfg.ContentStoreDataset,
		Token:   cfg.ContentStoreToken,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure content store client")
	}

	tokens := phrase.NewTokenSource(phrase.TokenSourceOptions{
		BaseURL:  cfg.PhraseBaseURL,
		Username: cfg.PhraseUser,
		Password: cfg.PhrasePassword,
		Cache:    journal.NewTokenStore(runner),
	})
	vendor, err := phrase.NewHTTPClient(phrase.HTTPClientOptions{
		BaseURL:    cfg.PhraseBaseURL,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure vendor client")
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Store:  store,
		Vendor: vendor,
		I18n:   &orchestrator.SuffixAdapter{Store: store, LanguageField: cfg.LanguageField},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure orchestrator")
	}

	reconciler, err := reconcile.New(reconcile.Options{
		Store:       store,
		Vendor:      vendor,
		Settler:     events,
		SettleDelay: cfg.SettleDelay,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure reconciler")
	}

	detector, err := staleness.New(staleness.Options{
		Store:             store,
		TranslatableTypes: cfg.TranslatableTypes,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure staleness detector")
	}

	app := &handlers.App{
		Store:        store,
		Orchestrator: orch,
		Reconciler:   reconciler,
		Staleness:    detector,
		Deliveries:   events,
		Logger:       logger,
		Config:       cfg,
	}
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
