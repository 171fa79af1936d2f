package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/infra"
	"phrasebridge/internal/journal"
	"phrasebridge/internal/phrase"
	"phrasebridge/internal/reconcile"
)

const maxEventAttempts = 5

type eventWorker struct {
	ctx          context.Context
	events       *journal.Journal
	reconciler   *reconcile.Reconciler
	logger       infra.Logger
	pollInterval time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	events := journal.New(runner)
	if err := events.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare journal schema")
	}

	store, err := contentstore.NewHTTPStore(contentstore.HTTPStoreOptions{
		BaseURL: cfg.ContentStoreURL,
		Dataset: cfg.ContentStoreDataset,
		Token:   cfg.ContentStoreToken,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure content store client")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure vendor client")
	}

	// No settler: events claimed from the journal are already past their
	// settle delay, so the reconciler handles them inline.
	reconciler, err := reconcile.New(reconcile.Options{
		Store:  store,
		Vendor: vendor,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure reconciler")
	}

	worker := &eventWorker{
		ctx:          ctx,
		events:       events,
		reconciler:   reconciler,
		logger:       logger,
		pollInterval: cfg.WorkerPollInterval,
	}
	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *eventWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		ev, err := w.events.ClaimDue(w.ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("worker: failed to claim event")
			time.Sleep(w.pollInterval)
			continue
		}
		if ev == nil {
			time.Sleep(w.pollInterval)
			continue
		}

		w.handleEvent(ev)
	}
}

func (w *eventWorker) handleEvent(ev *journal.Event) {
	w.logger.Info().Str("event_id", ev.ID.String()).Str("event", ev.Event).Msg("worker: picked event")

	if err := w.process(ev); err != nil {
		w.fail(ev, err)
		return
	}
	if err := w.events.MarkSucceeded(w.ctx, ev.ID); err != nil {
		w.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("worker: mark succeeded failed")
	}
}

func (w *eventWorker) process(ev *journal.Event) error {
	var body phrase.WebhookBody
	if err := json.Unmarshal(ev.Payload, &body); err != nil {
		return fmt.Errorf("%w: decode webhook payload: %v", domain.ErrInvalidRequest, err)
	}
	return w.reconciler.HandleWebhook(w.ctx, body)
}

// fail retries transient errors with a growing delay and parks malformed or
// exhausted events as FAILED.
func (w *eventWorker) fail(ev *journal.Event, cause error) {
	w.logger.Error().Err(cause).Str("event_id", ev.ID.String()).Msg("worker: event failed")

	terminal := errors.Is(cause, domain.ErrInvalidRequest) || ev.Attempts >= maxEventAttempts
	if terminal {
		if err := w.events.MarkFailed(w.ctx, ev.ID, cause); err != nil {
			w.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("worker: mark failed failed")
		}
		return
	}
	delay := time.Duration(ev.Attempts) * 30 * time.Second
	if err := w.events.Requeue(w.ctx, ev.ID, cause, delay); err != nil {
		w.logger.Error().Err(err).Str("event_id", ev.ID.String()).Msg("worker: requeue failed")
	}
}
