// Package orchestrator drives the multi-step, multi-system translation
// workflow: lock, create the remote project and jobs, persist tracking
// documents, with forward recovery when the two external systems fail
// independently.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/pathkey"
	"phrasebridge/internal/phrase"
)

// defaultBatchConcurrency bounds parallel items of one batch call.
const defaultBatchConcurrency = 2

// Orchestrator wires the collaborators of the translation state machine.
type Orchestrator struct {
	store       contentstore.Store
	vendor      phrase.Client
	langs       pathkey.LanguageCodec
	i18n        I18nAdapter
	logger      zerolog.Logger
	concurrency int
}

// Options configures an Orchestrator. Langs defaults to the separator-swap
// codec; I18n defaults to the suffix adapter over the same store.
type Options struct {
	Store       contentstore.Store
	Vendor      phrase.Client
	Langs       pathkey.LanguageCodec
	I18n        I18nAdapter
	Logger      zerolog.Logger
	Concurrency int
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if opts.Vendor == nil {
		return nil, fmt.Errorf("orchestrator: vendor client is required")
	}
	langs := opts.Langs
	if langs == nil {
		langs = pathkey.DefaultLanguageCodec{}
	}
	i18n := opts.I18n
	if i18n == nil {
		i18n = &SuffixAdapter{Store: opts.Store}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	return &Orchestrator{
		store:       opts.Store,
		vendor:      opts.Vendor,
		langs:       langs,
		i18n:        i18n,
		logger:      opts.Logger,
		concurrency: concurrency,
	}, nil
}

// ItemResult is the per-request outcome of a batch call.
type ItemResult struct {
	SourceDocID    string
	TranslationKey string
	ProjectUID     string
	PTDIDs         []string
	Err            error
}

// Outcome classifies a whole batch.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomePartial
)

// BatchResult collects per-item outcomes; one item's failure never aborts
// its siblings.
type BatchResult struct {
	Items []ItemResult
}

// Outcome classifies the batch for the caller's status mapping.
func (b *BatchResult) Outcome() Outcome {
	failed := 0
	for _, item := range b.Items {
		if item.Err != nil {
			failed++
		}
	}
	switch failed {
	case 0:
		return OutcomeSucceeded
	case len(b.Items):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// CreateTranslations runs one state machine per request with bounded
// parallelism and full isolation: a panicking item records its failure and
// the rest proceed.
func (o *Orchestrator) CreateTranslations(ctx context.Context, reqs []domain.TranslationRequest) *BatchResult {
	result := &BatchResult{Items: make([]ItemResult, len(reqs))}
	g := &errgroup.Group{}
	g.SetLimit(o.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					result.Items[i] = ItemResult{
						SourceDocID: req.SourceDocID,
						Err:         fmt.Errorf("translation request panicked: %v", r),
					}
				}
			}()
			result.Items[i] = o.createOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return result
}
